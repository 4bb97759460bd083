package sync

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/reconcile"
	"github.com/datalode/ledgersync/internal/domain/stream"
	"github.com/datalode/ledgersync/internal/domain/tracing"
)

// Settings holds the scheduling tunables of a Driver.
type Settings struct {
	// How often to run a cycle when the previous one went fine.
	Interval time.Duration
	// Backoff bounds for transient ledger failures.
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// StreamStatus is a point-in-time snapshot of one stream's sync loop, as
// exposed to operators.
type StreamStatus struct {
	Stream  stream.Name
	Running bool
	// Halted is set when the loop was terminated by a permanent fetch
	// failure; only a process restart revives it.
	Halted              bool
	ConsecutiveFailures uint
	LastCycleAt         *time.Time
	LastError           string
	LastReport          *reconcile.CycleReport
}

// Driver schedules reconciliation cycles, one independent loop per
// configured stream. A failing or halted stream never affects the others.
//
// Transient ledger failures back off exponentially (with jitter) up to
// BackoffMax; a permanent failure halts that stream's loop with an error
// log; everything else, including a lost cursor race, just waits out the
// normal interval and lets the next cycle self-heal.
type Driver struct {
	engine   *reconcile.Engine
	tracer   tracing.Tracer
	streams  []stream.Name
	settings Settings

	stopped uint32
	quit    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	statuses map[stream.Name]*StreamStatus
	triggers map[stream.Name]chan struct{}
}

func NewDriver(engine *reconcile.Engine, tracer tracing.Tracer, streams []stream.Name, settings Settings) *Driver {
	statuses := make(map[stream.Name]*StreamStatus, len(streams))
	triggers := make(map[stream.Name]chan struct{}, len(streams))
	for _, s := range streams {
		statuses[s] = &StreamStatus{Stream: s}
		triggers[s] = make(chan struct{}, 1)
	}
	return &Driver{
		engine:   engine,
		tracer:   tracer,
		streams:  streams,
		settings: settings,
		stopped:  1,
		statuses: statuses,
		triggers: triggers,
	}
}

// Start begins one sync loop per stream.
func (d *Driver) Start() {
	atomic.StoreUint32(&d.stopped, 0)
	d.quit = make(chan struct{})
	for _, s := range d.streams {
		d.wg.Add(1)
		go d.streamLoop(s)
	}
}

// Stop signals every loop to exit and waits for them to drain. In-flight
// cycles run to completion; cursor durability makes a mid-cycle kill safe
// anyway, this just keeps shutdown logs tidy.
func (d *Driver) Stop() {
	log.Info().Msg("Stopping sync loops")
	atomic.StoreUint32(&d.stopped, 1)
	close(d.quit)
	d.wg.Wait()
}

// TriggerSync requests an immediate cycle for the given stream, ahead of
// its normal interval. Returns false if the stream is not configured.
func (d *Driver) TriggerSync(streamName stream.Name) bool {
	trigger, ok := d.triggers[streamName]
	if !ok {
		return false
	}
	select {
	case trigger <- struct{}{}:
	default:
		// a trigger is already queued
	}
	return true
}

// Statuses returns a snapshot of every stream loop, in configured order.
func (d *Driver) Statuses() []StreamStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	snapshots := make([]StreamStatus, 0, len(d.streams))
	for _, s := range d.streams {
		snapshots = append(snapshots, *d.statuses[s])
	}
	return snapshots
}

func (d *Driver) streamLoop(streamName stream.Name) {
	defer d.wg.Done()
	d.setRunning(streamName, true)
	defer d.setRunning(streamName, false)

	failures := uint(0)
	for d.shouldRun() {
		report, err := d.runCycle(streamName)
		d.recordCycle(streamName, report, err, failures)

		var waitTime time.Duration
		switch err.(type) {
		case nil:
			failures = 0
			waitTime = d.settings.Interval
			if report != nil && report.Advanced && report.Fetched > 0 {
				// more events may be waiting, catch up without dawdling
				waitTime = 0
			}
		case ledger.PermanentFetchError:
			log.Error().Err(err).Str("stream", string(streamName)).Msg("Stream halted on permanent fetch failure")
			d.setHalted(streamName)
			return
		case ledger.TransientFetchError:
			failures++
			waitTime = d.backoff(failures)
			log.Warn().Err(err).Str("stream", string(streamName)).Dur("backoff", waitTime).Msg("Transient fetch failure, backing off")
		default:
			// store errors and lost cursor races resolve themselves on the
			// next cycle
			failures = 0
			waitTime = d.settings.Interval
			log.Warn().Err(err).Str("stream", string(streamName)).Msg("Cycle failed, will retry on the next interval")
		}

		if waitTime > 0 {
			select {
			case <-time.After(waitTime):
			case <-d.triggers[streamName]:
			case <-d.quit:
			}
		}
	}
	log.Info().Str("stream", string(streamName)).Msg("Sync loop ended")
}

func (d *Driver) runCycle(streamName stream.Name) (*reconcile.CycleReport, error) {
	tx := d.tracer.BackgroundTx("ledger-sync")
	defer tx.End()
	return d.engine.SyncStream(tx.Context(), streamName)
}

// backoff doubles from BackoffMin per consecutive failure, capped at
// BackoffMax, with up to 25% added jitter so parallel streams don't
// hammer a recovering ledger in lockstep.
func (d *Driver) backoff(failures uint) time.Duration {
	wait := d.settings.BackoffMin
	for i := uint(1); i < failures && wait < d.settings.BackoffMax; i++ {
		wait *= 2
	}
	if wait > d.settings.BackoffMax {
		wait = d.settings.BackoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(wait)/4 + 1))
	wait += jitter
	if wait > d.settings.BackoffMax {
		wait = d.settings.BackoffMax
	}
	return wait
}

func (d *Driver) shouldRun() bool {
	return atomic.LoadUint32(&d.stopped) == 0
}

func (d *Driver) setRunning(streamName stream.Name, running bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[streamName].Running = running
}

func (d *Driver) setHalted(streamName stream.Name) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[streamName].Halted = true
}

func (d *Driver) recordCycle(streamName stream.Name, report *reconcile.CycleReport, err error, previousFailures uint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := d.statuses[streamName]
	now := time.Now().UTC()
	status.LastCycleAt = &now
	if err != nil {
		status.LastError = err.Error()
		status.ConsecutiveFailures = previousFailures + 1
	} else {
		status.LastError = ""
		status.ConsecutiveFailures = 0
	}
	if report != nil {
		status.LastReport = report
	}
}
