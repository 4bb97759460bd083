package ops

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/datalode/ledgersync/internal/domain/cursor"
	"github.com/datalode/ledgersync/internal/domain/dataset"
	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/license"
	"github.com/datalode/ledgersync/internal/domain/reconcile"
	"github.com/datalode/ledgersync/internal/domain/stream"
	"github.com/datalode/ledgersync/internal/domain/tracing"
	infraSync "github.com/datalode/ledgersync/internal/infra/sync"
)

// The driver is never started in these tests: TriggerSync and Statuses
// work against its configured streams alone.
func newTestDriver(streams ...stream.Name) *infraSync.Driver {
	engine := reconcile.New(
		stubFetcher{},
		stubCursorStore{},
		stubDatasetStore{},
		stubLicenseStore{},
		&mockOrphanStore{},
		reconcile.Settings{BatchSize: 10, OrphanHorizonCycles: 3},
	)
	return infraSync.NewDriver(engine, mockTracer{}, streams, infraSync.Settings{
		Interval:   time.Hour,
		BackoffMin: time.Second,
		BackoffMax: time.Minute,
	})
}

func TestController_Streams(t *testing.T) {
	controller := New(newTestDriver("alpha", "beta"), &mockOrphanStore{})

	statuses := controller.Streams()
	assert.Len(t, statuses, 2)
	assert.Equal(t, "alpha", statuses[0].Stream)
	assert.Equal(t, "beta", statuses[1].Stream)
	assert.False(t, statuses[0].Running)
}

func TestController_Orphans(t *testing.T) {
	orphans := &mockOrphanStore{
		all: []reconcile.OrphanedTransition{
			{
				Fact: ledger.Fact{
					ID:      "ev-9",
					Kind:    ledger.LICENSE_REVOKED,
					Subject: "admin",
					Revoked: &ledger.RevokedPayload{Target: "lic-1", Reason: "chargeback"},
				},
				Stream:   "alpha",
				Attempts: 2,
			},
		},
	}
	controller := New(newTestDriver("alpha"), orphans)

	apiOrphans, apiErr := controller.Orphans(context.Background())
	assert.Nil(t, apiErr)
	assert.Len(t, apiOrphans, 1)
	assert.Equal(t, "ev-9", apiOrphans[0].ID)
	assert.Equal(t, "lic-1", apiOrphans[0].Target)
	assert.EqualValues(t, 1, orphans.allCalled)
}

func TestController_Orphans_storeError(t *testing.T) {
	orphans := &mockOrphanStore{
		allOverride: func() ([]reconcile.OrphanedTransition, error) {
			return nil, fmt.Errorf("es went away")
		},
	}
	controller := New(newTestDriver("alpha"), orphans)

	apiOrphans, apiErr := controller.Orphans(context.Background())
	assert.Nil(t, apiOrphans)
	assert.NotNil(t, apiErr)
	assert.EqualValues(t, 500, apiErr.StatusCode)
}

func TestController_TriggerSync(t *testing.T) {
	controller := New(newTestDriver("alpha"), &mockOrphanStore{})

	accepted, apiErr := controller.TriggerSync("alpha")
	assert.Nil(t, apiErr)
	assert.Equal(t, "alpha", accepted.Stream)
}

func TestController_TriggerSync_unknownStream(t *testing.T) {
	controller := New(newTestDriver("alpha"), &mockOrphanStore{})

	accepted, apiErr := controller.TriggerSync("nope")
	assert.Nil(t, accepted)
	assert.NotNil(t, apiErr)
	assert.EqualValues(t, 404, apiErr.StatusCode)
}

// <-- Mocks

type mockTransaction struct{}

func (m mockTransaction) Context() context.Context { return context.Background() }
func (m mockTransaction) End()                     {}

type mockTracer struct{}

func (m mockTracer) BackgroundTx(name string) tracing.Transaction {
	return mockTransaction{}
}

type stubFetcher struct{}

func (s stubFetcher) Fetch(ctx context.Context, streamName stream.Name, after cursor.Token, maxBatch uint) (*ledger.Batch, error) {
	return &ledger.Batch{}, nil
}

type stubCursorStore struct{}

func (s stubCursorStore) Get(ctx context.Context, streamName stream.Name) (*cursor.Cursor, error) {
	return nil, cursor.NotFound{Stream: streamName}
}

func (s stubCursorStore) Advance(ctx context.Context, streamName stream.Name, newPosition cursor.Token) (*cursor.Cursor, error) {
	return &cursor.Cursor{Stream: streamName, Position: newPosition, Seq: 1}, nil
}

type stubDatasetStore struct{}

func (s stubDatasetStore) Insert(ctx context.Context, d *dataset.Dataset) (*dataset.Dataset, error) {
	return d, nil
}

func (s stubDatasetStore) Get(ctx context.Context, id ledger.EventId) (*dataset.Dataset, error) {
	return nil, dataset.NotFound{ID: id}
}

func (s stubDatasetStore) GetByContent(ctx context.Context, content ledger.ContentId) (*dataset.Dataset, error) {
	return nil, dataset.NotFound{Content: content}
}

func (s stubDatasetStore) MarkVerified(ctx context.Context, content ledger.ContentId, summary dataset.VerificationSummary, at dataset.VerifiedAt) (*dataset.Dataset, error) {
	return nil, dataset.NotFound{Content: content}
}

type stubLicenseStore struct{}

func (s stubLicenseStore) Insert(ctx context.Context, l *license.License) (*license.License, error) {
	return l, nil
}

func (s stubLicenseStore) Get(ctx context.Context, id ledger.EventId) (*license.License, error) {
	return nil, license.NotFound{ID: id}
}

func (s stubLicenseStore) Revoke(ctx context.Context, id ledger.EventId, by ledger.Subject, at license.RevokedAt, reason string) (*license.License, error) {
	return nil, license.NotFound{ID: id}
}

type mockOrphanStore struct {
	all         []reconcile.OrphanedTransition
	allCalled   uint
	allOverride func() ([]reconcile.OrphanedTransition, error)
}

func (m *mockOrphanStore) Save(ctx context.Context, o *reconcile.OrphanedTransition) error {
	return nil
}

func (m *mockOrphanStore) ForStream(ctx context.Context, streamName stream.Name) ([]reconcile.OrphanedTransition, error) {
	return nil, nil
}

func (m *mockOrphanStore) All(ctx context.Context) ([]reconcile.OrphanedTransition, error) {
	m.allCalled++
	if m.allOverride != nil {
		return m.allOverride()
	}
	return m.all, nil
}

func (m *mockOrphanStore) Update(ctx context.Context, o *reconcile.OrphanedTransition) error {
	return nil
}

func (m *mockOrphanStore) Delete(ctx context.Context, id ledger.EventId) error {
	return nil
}

//     Mocks -->
