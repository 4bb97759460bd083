package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/metadata"
	"github.com/datalode/ledgersync/internal/domain/stream"
)

// OrphanedTransition is a transition fact (currently always a
// LicenseRevoked) whose target entity has not been materialized locally
// yet. Legitimate under at-least-once, possibly-reordered delivery: the
// revocation simply arrived before its issuance.
//
// Orphans are retried once per cycle until the target appears. An orphan
// that outlives the configured horizon is escalated: flagged as an
// operator-visible anomaly and no longer retried, but never silently
// dropped.
type OrphanedTransition struct {
	Fact        ledger.Fact
	Stream      stream.Name
	FirstSeenAt time.Time
	Attempts    uint
	Escalated   bool
	Metadata    metadata.Metadata
}

// Target returns the entity the buffered transition is waiting for.
func (o *OrphanedTransition) Target() ledger.EventId {
	return o.Fact.Revoked.Target
}

// OrphanStore durably persists orphaned transitions between cycles, keyed
// by the orphaned fact's ledger event id.
type OrphanStore interface {
	// Save persists a new orphan; saving an already-persisted fact id is a
	// no-op (the earlier record, with its attempt count, wins).
	Save(ctx context.Context, o *OrphanedTransition) error

	// ForStream returns all orphans buffered for a stream, oldest first.
	ForStream(ctx context.Context, streamName stream.Name) ([]OrphanedTransition, error)

	// All returns every buffered orphan across streams, oldest first.
	All(ctx context.Context) ([]OrphanedTransition, error)

	// Update persists mutated attempt/escalation state.
	Update(ctx context.Context, o *OrphanedTransition) error

	// Delete removes an orphan once its transition has been applied.
	Delete(ctx context.Context, id ledger.EventId) error
}

// OrphanedTransitionTimeout is the operator-visible anomaly raised when an
// orphan crosses the retry horizon. It never stops the pipeline.
type OrphanedTransitionTimeout struct {
	ID       ledger.EventId
	Target   ledger.EventId
	Stream   stream.Name
	Attempts uint
}

func (e OrphanedTransitionTimeout) Error() string {
	return fmt.Sprintf("Orphaned transition [%v] targeting [%v] on stream [%v] unresolved after [%d] cycles", e.ID, e.Target, e.Stream, e.Attempts)
}

func (e OrphanedTransitionTimeout) Id() ledger.EventId {
	return e.ID
}
