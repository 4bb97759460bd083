package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
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
)

var testSettings = Settings{
	Interval:   time.Hour, // triggers drive the cycles in tests
	BackoffMin: time.Millisecond,
	BackoffMax: 5 * time.Millisecond,
}

func newTestDriver(fetcher ledger.Fetcher, streams ...stream.Name) *Driver {
	engine := reconcile.New(
		fetcher,
		&stubCursorStore{},
		stubDatasetStore{},
		stubLicenseStore{},
		&stubOrphanStore{},
		reconcile.Settings{BatchSize: 10, OrphanHorizonCycles: 3},
	)
	return NewDriver(engine, mockTracer{}, streams, testSettings)
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestDriver_runsACyclePerStreamOnStart(t *testing.T) {
	fetcher := &countingFetcher{}
	driver := newTestDriver(fetcher, "alpha", "beta")

	driver.Start()
	defer driver.Stop()
	waitFor(t, time.Second, func() bool {
		return fetcher.calls("alpha") >= 1 && fetcher.calls("beta") >= 1
	})

	statuses := driver.Statuses()
	assert.Len(t, statuses, 2)
	for _, status := range statuses {
		assert.True(t, status.Running)
		assert.False(t, status.Halted)
	}
}

func TestDriver_permanentFailureHaltsOnlyThatStream(t *testing.T) {
	fetcher := &countingFetcher{
		errors: map[stream.Name]error{
			"broken": ledger.PermanentFetchError{Stream: "broken", Underlying: fmt.Errorf("404")},
		},
	}
	driver := newTestDriver(fetcher, "broken", "healthy")

	driver.Start()
	waitFor(t, time.Second, func() bool {
		for _, status := range driver.Statuses() {
			if status.Stream == "broken" && status.Halted && !status.Running {
				return true
			}
		}
		return false
	})

	for _, status := range driver.Statuses() {
		switch status.Stream {
		case "broken":
			assert.True(t, status.Halted)
			assert.False(t, status.Running)
			assert.NotEmpty(t, status.LastError)
		case "healthy":
			assert.False(t, status.Halted)
			assert.True(t, status.Running)
		}
	}
	driver.Stop()
}

func TestDriver_transientFailuresBackOffAndRecover(t *testing.T) {
	fetcher := &countingFetcher{
		errors: map[stream.Name]error{
			"flaky": ledger.TransientFetchError{Stream: "flaky", Underlying: fmt.Errorf("503")},
		},
		failuresBeforeRecovery: 2,
	}
	driver := newTestDriver(fetcher, "flaky")

	driver.Start()
	defer driver.Stop()
	waitFor(t, time.Second, func() bool {
		for _, status := range driver.Statuses() {
			if status.ConsecutiveFailures == 0 && status.LastCycleAt != nil && fetcher.calls("flaky") >= 3 {
				return true
			}
		}
		return false
	})

	statuses := driver.Statuses()
	assert.False(t, statuses[0].Halted)
	assert.Empty(t, statuses[0].LastError)
}

func TestDriver_TriggerSync(t *testing.T) {
	fetcher := &countingFetcher{}
	driver := newTestDriver(fetcher, "alpha")

	assert.False(t, driver.TriggerSync("unconfigured"))

	driver.Start()
	defer driver.Stop()
	waitFor(t, time.Second, func() bool {
		return fetcher.calls("alpha") >= 1
	})

	before := fetcher.calls("alpha")
	assert.True(t, driver.TriggerSync("alpha"))
	waitFor(t, time.Second, func() bool {
		return fetcher.calls("alpha") > before
	})
}

func TestDriver_backoffIsBoundedAndGrows(t *testing.T) {
	driver := newTestDriver(&countingFetcher{})

	first := driver.backoff(1)
	assert.True(t, first >= testSettings.BackoffMin)
	assert.True(t, first <= testSettings.BackoffMax)

	for failures := uint(1); failures <= 20; failures++ {
		assert.True(t, driver.backoff(failures) <= testSettings.BackoffMax)
	}
	assert.Equal(t, testSettings.BackoffMax, driver.backoff(20))
}

// <-- Mocks

type mockTransaction struct{}

func (m mockTransaction) Context() context.Context { return context.Background() }
func (m mockTransaction) End()                     {}

type mockTracer struct{}

func (m mockTracer) BackgroundTx(name string) tracing.Transaction {
	return mockTransaction{}
}

// countingFetcher returns empty batches, or the configured error for a
// stream until failuresBeforeRecovery calls have failed.
type countingFetcher struct {
	mu                     sync.Mutex
	counts                 map[stream.Name]uint32
	errors                 map[stream.Name]error
	failuresBeforeRecovery uint32
	failed                 uint32
}

func (f *countingFetcher) Fetch(ctx context.Context, streamName stream.Name, after cursor.Token, maxBatch uint) (*ledger.Batch, error) {
	f.mu.Lock()
	if f.counts == nil {
		f.counts = make(map[stream.Name]uint32)
	}
	f.counts[streamName]++
	f.mu.Unlock()
	if err, ok := f.errors[streamName]; ok {
		if f.failuresBeforeRecovery == 0 || atomic.AddUint32(&f.failed, 1) <= f.failuresBeforeRecovery {
			return nil, err
		}
	}
	return &ledger.Batch{}, nil
}

func (f *countingFetcher) calls(streamName stream.Name) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[streamName]
}

type stubCursorStore struct {
	mu sync.Mutex
}

func (s *stubCursorStore) Get(ctx context.Context, streamName stream.Name) (*cursor.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nil, cursor.NotFound{Stream: streamName}
}

func (s *stubCursorStore) Advance(ctx context.Context, streamName stream.Name, newPosition cursor.Token) (*cursor.Cursor, error) {
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

type stubOrphanStore struct {
	mu sync.Mutex
}

func (s *stubOrphanStore) Save(ctx context.Context, o *reconcile.OrphanedTransition) error {
	return nil
}

func (s *stubOrphanStore) ForStream(ctx context.Context, streamName stream.Name) ([]reconcile.OrphanedTransition, error) {
	return nil, nil
}

func (s *stubOrphanStore) All(ctx context.Context) ([]reconcile.OrphanedTransition, error) {
	return nil, nil
}

func (s *stubOrphanStore) Update(ctx context.Context, o *reconcile.OrphanedTransition) error {
	return nil
}

func (s *stubOrphanStore) Delete(ctx context.Context, id ledger.EventId) error {
	return nil
}

//     Mocks -->
