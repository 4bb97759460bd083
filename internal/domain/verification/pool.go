package verification

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/tracing"
)

// Runner executes the actual verification logic for one input. It is a
// collaborator-supplied, long-running, failable function; this package
// treats it as opaque.
type Runner interface {
	Run(ctx context.Context, input ledger.ContentId) (*Result, error)
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context, input ledger.ContentId) (*Result, error)

func (f RunnerFunc) Run(ctx context.Context, input ledger.ContentId) (*Result, error) {
	return f(ctx, input)
}

// ApplyResult folds a completed job's result into local entity state (the
// local-event path). Applied before the job is marked completed, so a fold
// failure fails the job rather than dropping the result.
type ApplyResult func(ctx context.Context, content ledger.ContentId, result Result) error

// PoolSettings holds the tunables of a worker Pool.
type PoolSettings struct {
	Workers      uint
	ClaimAmount  uint
	PollInterval time.Duration
}

// Pool is a bounded set of workers that claim pending jobs and run them to
// a terminal state. Job submission and status lookups never touch the pool;
// it drains the queue entirely on its own clock.
type Pool struct {
	service  Service
	runner   Runner
	apply    ApplyResult
	tracer   tracing.Tracer
	settings PoolSettings

	stopped uint32
	wg      sync.WaitGroup

	getUTC func() time.Time // for mocking
}

func NewPool(service Service, runner Runner, apply ApplyResult, tracer tracing.Tracer, settings PoolSettings) *Pool {
	return &Pool{
		service:  service,
		runner:   runner,
		apply:    apply,
		tracer:   tracer,
		settings: settings,
		stopped:  1,
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// For testing
func (p *Pool) SetUTCGetter(getter func() time.Time) {
	p.getUTC = getter
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	atomic.StoreUint32(&p.stopped, 0)
	for i := uint(0); i < p.settings.Workers; i++ {
		workerId := WorkerId(fmt.Sprintf("pool-worker-%d", i))
		p.wg.Add(1)
		go p.workLoop(workerId)
	}
	log.Info().Uint("workers", p.settings.Workers).Msg("Verification pool started")
}

// Stop asks the workers to finish their in-flight jobs and waits for them,
// up to the given context's deadline.
func (p *Pool) Stop(ctx context.Context) error {
	atomic.StoreUint32(&p.stopped, 1)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		log.Info().Msg("Verification pool stopped")
		return nil
	}
}

func (p *Pool) isStopped() bool {
	return atomic.LoadUint32(&p.stopped) > 0
}

func (p *Pool) workLoop(workerId WorkerId) {
	defer p.wg.Done()
	for !p.isStopped() {
		tx := p.tracer.BackgroundTx("verification-claim")
		claimed, err := p.service.ClaimPending(tx.Context(), workerId, p.settings.ClaimAmount)
		tx.End()
		if err != nil {
			log.Error().
				Err(err).
				Str("worker_id", string(workerId)).
				Msg("Failed to claim pending jobs, will retry after poll interval")
			claimed = nil
		}
		for i := range claimed {
			p.execute(workerId, &claimed[i])
		}
		if len(claimed) == 0 {
			time.Sleep(p.settings.PollInterval)
		}
	}
}

// execute runs one claimed job to a terminal state. Errors from the runner,
// from the result fold and from the execution deadline all land in the
// job's failed state; nothing escapes to the work loop.
func (p *Pool) execute(workerId WorkerId, job *Job) {
	tx := p.tracer.BackgroundTx("verification-run")
	defer tx.End()

	ctx := tx.Context()
	var cancel context.CancelFunc
	if job.TimesOutAt != nil {
		ctx, cancel = context.WithDeadline(ctx, time.Time(*job.TimesOutAt))
	} else {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.ExecutionTimeout))
	}
	defer cancel()

	result, runErr := p.run(ctx, job.Input)

	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	// Terminal updates run off the (possibly expired) execution context.
	completionCtx := context.Background()
	if runErr != nil {
		message := runErr.Error()
		if runErr == context.DeadlineExceeded {
			message = ExecutionTimedOut(time.Duration(job.ExecutionTimeout))
		}
		p.markFailed(completionCtx, workerId, job, message)
		return
	}

	if result != nil && p.apply != nil {
		if applyErr := p.apply(completionCtx, job.Input, *result); applyErr != nil {
			p.markFailed(completionCtx, workerId, job, fmt.Sprintf("result could not be applied: %v", applyErr))
			return
		}
	}

	if _, err := p.service.MarkCompleted(completionCtx, job.ID, result); err != nil {
		log.Error().
			Err(err).
			Str("worker_id", string(workerId)).
			Str("job_id", string(job.ID)).
			Msg("Failed to mark job completed")
	}
}

// run wraps the collaborator-supplied Runner with panic containment: a
// panicking verification fails its job, never the worker.
func (p *Pool) run(ctx context.Context, input ledger.ContentId) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("verification panicked: %v", r)
		}
	}()
	return p.runner.Run(ctx, input)
}

func (p *Pool) markFailed(ctx context.Context, workerId WorkerId, job *Job, message string) {
	if _, err := p.service.MarkFailed(ctx, job.ID, message); err != nil {
		log.Error().
			Err(err).
			Str("worker_id", string(workerId)).
			Str("job_id", string(job.ID)).
			Msg("Failed to mark job failed")
	}
}
