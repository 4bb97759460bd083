package verification

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/tracing"
)

type mockTransaction struct{}

func (m mockTransaction) Context() context.Context {
	return context.Background()
}

func (m mockTransaction) End() {}

type mockTracer struct{}

func (m mockTracer) BackgroundTx(name string) tracing.Transaction {
	return mockTransaction{}
}

func runningJob(input ledger.ContentId) Job {
	timesOutAt := TimesOutAt(time.Now().UTC().Add(time.Minute))
	return Job{
		ID:               "job-1",
		UserId:           "user",
		Input:            input,
		State:            RUNNING,
		ExecutionTimeout: ExecutionTimeout(time.Minute),
		TimesOutAt:       &timesOutAt,
	}
}

func newTestPool(service Service, runner Runner, apply ApplyResult) *Pool {
	return NewPool(service, runner, apply, mockTracer{}, PoolSettings{
		Workers:      1,
		ClaimAmount:  1,
		PollInterval: time.Millisecond,
	})
}

func TestPool_execute_appliesResultBeforeCompleting(t *testing.T) {
	var sequence []string
	service := &MockService{}
	service.MarkCompletedOverride = func() (*Job, error) {
		sequence = append(sequence, "completed")
		return &MockDomainJob, nil
	}
	result := Result{"status": "ok"}
	runner := RunnerFunc(func(ctx context.Context, input ledger.ContentId) (*Result, error) {
		sequence = append(sequence, "run")
		return &result, nil
	})
	apply := func(ctx context.Context, content ledger.ContentId, r Result) error {
		sequence = append(sequence, "apply")
		assert.Equal(t, ledger.ContentId("bafy1"), content)
		assert.Equal(t, result, r)
		return nil
	}
	pool := newTestPool(service, runner, apply)

	job := runningJob("bafy1")
	pool.execute("worker-1", &job)
	assert.Equal(t, []string{"run", "apply", "completed"}, sequence)
	assert.EqualValues(t, 1, service.MarkCompletedCalled)
	assert.EqualValues(t, 0, service.MarkFailedCalled)
}

func TestPool_execute_applyFailureFailsTheJob(t *testing.T) {
	service := &MockService{}
	runner := RunnerFunc(func(ctx context.Context, input ledger.ContentId) (*Result, error) {
		return &Result{"status": "ok"}, nil
	})
	apply := func(ctx context.Context, content ledger.ContentId, r Result) error {
		return fmt.Errorf("dataset not reconciled yet")
	}
	pool := newTestPool(service, runner, apply)

	job := runningJob("bafy1")
	pool.execute("worker-1", &job)
	assert.EqualValues(t, 0, service.MarkCompletedCalled)
	assert.EqualValues(t, 1, service.MarkFailedCalled)
}

func TestPool_execute_runnerErrorFailsTheJob(t *testing.T) {
	service := &MockService{}
	runner := RunnerFunc(func(ctx context.Context, input ledger.ContentId) (*Result, error) {
		return nil, fmt.Errorf("checksum mismatch")
	})
	pool := newTestPool(service, runner, nil)

	job := runningJob("bafy1")
	pool.execute("worker-1", &job)
	assert.EqualValues(t, 0, service.MarkCompletedCalled)
	assert.EqualValues(t, 1, service.MarkFailedCalled)
}

func TestPool_execute_panicIsContained(t *testing.T) {
	service := &MockService{}
	runner := RunnerFunc(func(ctx context.Context, input ledger.ContentId) (*Result, error) {
		panic("boom")
	})
	pool := newTestPool(service, runner, nil)

	job := runningJob("bafy1")
	assert.NotPanics(t, func() {
		pool.execute("worker-1", &job)
	})
	assert.EqualValues(t, 1, service.MarkFailedCalled)
}

func TestPool_execute_expiredDeadlineFailsAsTimeout(t *testing.T) {
	service := &MockService{}
	runner := RunnerFunc(func(ctx context.Context, input ledger.ContentId) (*Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	pool := newTestPool(service, runner, nil)

	job := runningJob("bafy1")
	overdue := TimesOutAt(time.Now().UTC().Add(-time.Second))
	job.TimesOutAt = &overdue
	pool.execute("worker-1", &job)
	assert.EqualValues(t, 0, service.MarkCompletedCalled)
	assert.EqualValues(t, 1, service.MarkFailedCalled)
}

func TestPool_StartStop(t *testing.T) {
	service := &MockService{}
	service.ClaimPendingOverride = func() ([]Job, error) {
		return nil, nil
	}
	runner := RunnerFunc(func(ctx context.Context, input ledger.ContentId) (*Result, error) {
		return nil, nil
	})
	pool := newTestPool(service, runner, nil)

	pool.Start()
	time.Sleep(5 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, pool.Stop(ctx))
}
