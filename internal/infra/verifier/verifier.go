package verifier

import (
	"context"
	"fmt"
	"time"

	"github.com/datalode/ledgersync/internal/domain/dataset"
	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/verification"
)

// ContentCheckRunner is the built-in verification Runner: it checks that
// the submitted content id has been reconciled from the ledger and
// summarises the projection. Deployments with real artifact verification
// swap in their own Runner when wiring the pool.
type ContentCheckRunner struct {
	datasets dataset.Store
	getUTC   func() time.Time
}

// For testing
func (r *ContentCheckRunner) SetUTCGetter(getter func() time.Time) {
	r.getUTC = getter
}

func NewContentCheckRunner(datasets dataset.Store) *ContentCheckRunner {
	return &ContentCheckRunner{
		datasets: datasets,
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (r *ContentCheckRunner) Run(ctx context.Context, input ledger.ContentId) (*verification.Result, error) {
	projection, err := r.datasets.GetByContent(ctx, input)
	if err != nil {
		if _, isNotFound := err.(dataset.NotFound); isNotFound {
			return nil, fmt.Errorf("no dataset registered with content id [%v]", input)
		}
		return nil, err
	}
	result := verification.Result{
		"content":    string(projection.Content),
		"owner":      string(projection.Owner),
		"size_bytes": projection.SizeBytes,
		"checked_at": r.getUTC().Format(time.RFC3339Nano),
		"status":     "ok",
	}
	return &result, nil
}
