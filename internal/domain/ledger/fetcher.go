package ledger

import (
	"context"
	"fmt"

	"github.com/datalode/ledgersync/internal/domain/cursor"
	"github.com/datalode/ledgersync/internal/domain/stream"
)

// Fetcher pulls ordered batches of raw events from the ledger read API,
// starting strictly after the given position. It never mutates anything.
type Fetcher interface {
	// Fetch returns up to maxBatch events in ascending source order.
	//
	// Errors are either TransientFetchError (retryable: timeouts, upstream
	// unavailability) or PermanentFetchError (non-retryable: the stream no
	// longer exists). Anything else from an implementation is a bug.
	Fetch(ctx context.Context, streamName stream.Name, after cursor.Token, maxBatch uint) (*Batch, error)
}

// <-- Domain Errors

// TransientFetchError means the ledger could not be reached or answered
// with a retryable failure; the caller should back off and try again.
type TransientFetchError struct {
	Stream     stream.Name
	Underlying error
}

func (e TransientFetchError) Error() string {
	return fmt.Sprintf("Transient failure fetching from stream [%v]: %v", e.Stream, e.Underlying)
}

func (e TransientFetchError) Unwrap() error {
	return e.Underlying
}

// PermanentFetchError means the stream cannot be fetched from, now or later
// (e.g. it no longer exists). The stream should be stopped and an operator
// alerted.
type PermanentFetchError struct {
	Stream     stream.Name
	Underlying error
}

func (e PermanentFetchError) Error() string {
	return fmt.Sprintf("Permanent failure fetching from stream [%v]: %v", e.Stream, e.Underlying)
}

func (e PermanentFetchError) Unwrap() error {
	return e.Underlying
}

//     Errors -->
