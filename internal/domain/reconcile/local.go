package reconcile

import (
	"context"
	"time"

	"github.com/datalode/ledgersync/internal/domain/dataset"
	"github.com/datalode/ledgersync/internal/domain/ledger"
)

// VerificationApplier is the local-event twin of the ledger fold: it takes
// results produced by completed verification jobs and folds them into the
// Dataset projections, idempotently and through the same CAS primitives.
//
// A completed job's result is the only authorized input here; nothing else
// in the system may mark a dataset as verified.
type VerificationApplier struct {
	datasets        dataset.Store
	conflictRetries uint
	getUTC          func() time.Time
}

func NewVerificationApplier(datasets dataset.Store, conflictRetries uint) *VerificationApplier {
	return &VerificationApplier{
		datasets:        datasets,
		conflictRetries: conflictRetries,
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Apply folds a verification result into the dataset with the given content
// id. Version conflicts are retried a bounded number of times; NotFound is
// returned unchanged (the dataset registration fact may not have been
// reconciled yet, and the caller decides whether that fails the job).
func (a *VerificationApplier) Apply(ctx context.Context, content ledger.ContentId, summary dataset.VerificationSummary) error {
	at := dataset.VerifiedAt(a.getUTC())
	_, err := a.datasets.MarkVerified(ctx, content, summary, at)
	retried := uint(0)
	for err != nil && retried < a.conflictRetries {
		if _, conflict := err.(dataset.InvalidVersion); !conflict {
			break
		}
		retried++
		_, err = a.datasets.MarkVerified(ctx, content, summary, at)
	}
	return err
}
