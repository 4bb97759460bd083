package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/datalode/ledgersync/internal/domain/cursor"
	"github.com/datalode/ledgersync/internal/domain/dataset"
	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/license"
	"github.com/datalode/ledgersync/internal/domain/stream"
)

// Settings holds the tunables of a reconciliation Engine.
type Settings struct {
	// How many events to pull per cycle.
	BatchSize uint
	// How many cycles an orphaned transition is retried before being
	// escalated as an operator-visible anomaly.
	OrphanHorizonCycles uint
}

// CycleReport summarises one reconciliation cycle over a single stream.
type CycleReport struct {
	Stream       stream.Name
	Fetched      uint
	Applied      uint
	Duplicates   uint
	Ignored      uint
	Failures     uint
	Orphaned     uint
	OrphansFixed uint
	Escalated    uint
	Position     cursor.Token
	Advanced     bool
}

// Engine folds batches of ledger facts into the local projections, exactly
// once per fact regardless of delivery retries, and advances the stream
// cursor only after the whole batch has been durably applied.
//
// Exactly-once is achieved through idempotency, not transactions: every
// fact is applied through an insert-if-absent or a check-then-CAS keyed by
// its ledger event id, so re-applying a batch after a crash (cursor not yet
// advanced) converges to the same local state.
type Engine struct {
	fetcher  ledger.Fetcher
	cursors  cursor.Store
	datasets dataset.Store
	licenses license.Store
	orphans  OrphanStore
	settings Settings

	getUTC func() time.Time // for mocking
}

// For testing
func (e *Engine) SetUTCGetter(getter func() time.Time) {
	e.getUTC = getter
}

func New(fetcher ledger.Fetcher, cursors cursor.Store, datasets dataset.Store, licenses license.Store, orphans OrphanStore, settings Settings) *Engine {
	return &Engine{
		fetcher:  fetcher,
		cursors:  cursors,
		datasets: datasets,
		licenses: licenses,
		orphans:  orphans,
		settings: settings,
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SyncStream runs one fetch→normalize→fold cycle for the given stream.
//
// Facts are applied strictly in source order; if two facts in one batch
// target the same record, the later one wins by construction. A
// LicenseRevoked whose LicenseIssued has not been seen yet is held in an
// in-batch pending set, re-attempted after every subsequent creation in
// the batch, and persisted as an orphaned transition if still unresolved
// at batch end.
//
// Errors from fetching (Transient/PermanentFetchError), from the stores,
// and StaleAdvance from the cursor all abort the cycle without advancing
// the cursor; the next cycle re-fetches from the stored position and the
// idempotent fold makes the replay safe.
func (e *Engine) SyncStream(ctx context.Context, streamName stream.Name) (*CycleReport, error) {
	report := CycleReport{Stream: streamName}

	if err := e.retryOrphans(ctx, streamName, &report); err != nil {
		return &report, err
	}

	after := cursor.Token("")
	cur, err := e.cursors.Get(ctx, streamName)
	switch err.(type) {
	case nil:
		after = cur.Position
	case cursor.NotFound:
		// first cycle for this stream
	default:
		return &report, err
	}

	batch, err := e.fetcher.Fetch(ctx, streamName, after, e.settings.BatchSize)
	if err != nil {
		return &report, err
	}
	report.Fetched = uint(len(batch.Events))
	if len(batch.Events) == 0 {
		report.Position = after
		return &report, nil
	}

	// Revocations whose targets have not been materialized yet, keyed by
	// target license id, in source order.
	pending := make(map[ledger.EventId][]*ledger.Fact)

	for i := range batch.Events {
		raw := &batch.Events[i]
		fact, err := ledger.Normalize(raw)
		if err != nil {
			// Per-event, never per-batch: record and move on so a single
			// poison event cannot wedge the whole stream.
			report.Failures++
			log.Warn().
				Err(err).
				Str("stream", string(streamName)).
				Str("event_id", raw.ID).
				Str("position", raw.Position).
				Msg("Skipping event that could not be normalized")
			continue
		}

		switch fact.Kind {
		case ledger.UNRECOGNIZED:
			report.Ignored++
		case ledger.DATASET_REGISTERED:
			projection := dataset.FromFact(fact)
			if _, err := e.datasets.Insert(ctx, &projection); err != nil {
				if _, dup := err.(dataset.AlreadyExists); dup {
					report.Duplicates++
				} else {
					return &report, err
				}
			} else {
				report.Applied++
			}
		case ledger.LICENSE_ISSUED:
			projection := license.FromFact(fact)
			if _, err := e.licenses.Insert(ctx, &projection); err != nil {
				if _, dup := err.(license.AlreadyExists); dup {
					report.Duplicates++
				} else {
					return &report, err
				}
			} else {
				report.Applied++
			}
			// A revocation for this license may have arrived earlier in the
			// batch; apply it now that the target exists.
			if buffered, ok := pending[fact.ID]; ok {
				delete(pending, fact.ID)
				for _, revocation := range buffered {
					if err := e.applyRevocation(ctx, revocation, &report); err != nil {
						return &report, err
					}
				}
			}
		case ledger.LICENSE_REVOKED:
			target := fact.Revoked.Target
			if err := e.applyRevocation(ctx, fact, &report); err != nil {
				if _, missing := err.(license.NotFound); missing {
					pending[target] = append(pending[target], fact)
				} else {
					return &report, err
				}
			}
		}
	}

	// Whatever is still pending goes to the durable orphan table for the
	// next cycle.
	now := e.getUTC()
	for _, buffered := range pending {
		for _, fact := range buffered {
			orphan := OrphanedTransition{
				Fact:        *fact,
				Stream:      streamName,
				FirstSeenAt: now,
				Attempts:    1,
			}
			if err := e.orphans.Save(ctx, &orphan); err != nil {
				return &report, err
			}
			report.Orphaned++
			log.Info().
				Str("stream", string(streamName)).
				Str("event_id", string(fact.ID)).
				Str("target", string(fact.Revoked.Target)).
				Msg("Buffered early revocation as orphaned transition")
		}
	}

	report.Position = batch.NextPosition
	if _, err := e.cursors.Advance(ctx, streamName, batch.NextPosition); err != nil {
		return &report, err
	}
	report.Advanced = true
	return &report, nil
}

// applyRevocation folds one LicenseRevoked fact. AlreadyRevoked counts as a
// duplicate delivery and is success; NotFound is returned to the caller to
// buffer.
func (e *Engine) applyRevocation(ctx context.Context, fact *ledger.Fact, report *CycleReport) error {
	_, err := e.licenses.Revoke(ctx, fact.Revoked.Target, fact.Subject, license.RevokedAt(fact.At), fact.Revoked.Reason)
	switch err.(type) {
	case nil:
		report.Applied++
		return nil
	case license.AlreadyRevoked:
		report.Duplicates++
		return nil
	default:
		return err
	}
}

// retryOrphans re-attempts the stream's persisted orphaned transitions.
// Ones that apply are deleted; ones that cross the horizon are escalated
// and retried no further.
func (e *Engine) retryOrphans(ctx context.Context, streamName stream.Name, report *CycleReport) error {
	orphans, err := e.orphans.ForStream(ctx, streamName)
	if err != nil {
		return err
	}
	for i := range orphans {
		orphan := &orphans[i]
		if orphan.Escalated {
			continue
		}
		_, err := e.licenses.Revoke(ctx, orphan.Target(), orphan.Fact.Subject, license.RevokedAt(orphan.Fact.At), orphan.Fact.Revoked.Reason)
		switch err.(type) {
		case nil, license.AlreadyRevoked:
			if err := e.orphans.Delete(ctx, orphan.Fact.ID); err != nil {
				return err
			}
			report.OrphansFixed++
		case license.NotFound:
			orphan.Attempts++
			if orphan.Attempts >= e.settings.OrphanHorizonCycles {
				orphan.Escalated = true
				report.Escalated++
				anomaly := OrphanedTransitionTimeout{
					ID:       orphan.Fact.ID,
					Target:   orphan.Target(),
					Stream:   streamName,
					Attempts: orphan.Attempts,
				}
				log.Error().
					Str("stream", string(streamName)).
					Str("event_id", string(anomaly.ID)).
					Str("target", string(anomaly.Target)).
					Uint("attempts", anomaly.Attempts).
					Msg(anomaly.Error())
			}
			if err := e.orphans.Update(ctx, orphan); err != nil {
				return err
			}
		default:
			return err
		}
	}
	return nil
}
