package cursor

import (
	"context"
	"fmt"
	"time"

	"github.com/datalode/ledgersync/internal/domain/metadata"
	"github.com/datalode/ledgersync/internal/domain/stream"
)

// Token is an opaque, totally-ordered position in a ledger stream, as issued
// by the ledger read API. Tokens are never fabricated locally; the empty
// Token means "from the beginning of the stream".
type Token string

// Follows returns true if t comes strictly after other.
//
// The ledger issues tokens that sort by length first, then bytewise; that
// keeps numeric tokens ordered without requiring zero-padding on our side.
func (t Token) Follows(other Token) bool {
	if len(t) != len(other) {
		return len(t) > len(other)
	}
	return t > other
}

func (t Token) IsZero() bool {
	return t == ""
}

// SeqNum is a monotonically increasing local sequence number, bumped once
// per successful advance. Useful for counting completed cycles (the orphan
// horizon is expressed in cycles).
type SeqNum uint64

// A Cursor marks the last fully-processed position of one event stream.
// It only ever advances after every event up to Position has been durably
// applied; it is never moved speculatively.
type Cursor struct {
	Stream   stream.Name
	Position Token
	Seq      SeqNum
	Metadata metadata.Metadata
}

// Store persists Cursors durably, one per stream.
type Store interface {
	// Get returns the Cursor for the given stream, or NotFound if the stream
	// has never been advanced.
	Get(ctx context.Context, stream stream.Name) (*Cursor, error)

	// Advance moves the stream's cursor to newPosition, bumping its sequence
	// number.
	//
	// Fails with StaleAdvance if newPosition does not strictly follow the
	// currently stored position, or if another advancer won a concurrent
	// update. There is no rollback operation; recovery from a bad fact is by
	// replay-compensation, never by rewinding a cursor.
	Advance(ctx context.Context, stream stream.Name, newPosition Token) (*Cursor, error)
}

// <-- Domain Errors

// NotFound is returned when no Cursor exists yet for a stream
type NotFound struct {
	Stream stream.Name
}

func (e NotFound) Error() string {
	return fmt.Sprintf("No cursor stored for stream [%v]", e.Stream)
}

// StaleAdvance is returned when an advance does not strictly follow the
// stored position, or lost a concurrent compare-and-set. The caller should
// abandon its cycle; the next cycle re-reads the stored cursor and
// self-heals.
type StaleAdvance struct {
	Stream    stream.Name
	Stored    Token
	Attempted Token
	At        time.Time
}

func (e StaleAdvance) Error() string {
	return fmt.Sprintf("Cursor for stream [%v] is at [%v]; refusing to advance to [%v]", e.Stream, e.Stored, e.Attempted)
}

//     Errors -->
