package maintenance

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/datalode/ledgersync/internal/config"
	"github.com/datalode/ledgersync/internal/domain/reconcile"
	"github.com/datalode/ledgersync/internal/domain/tracing"
	"github.com/datalode/ledgersync/internal/domain/verification"
)

// How often escalated orphans get re-logged so they stay on operators'
// radars until compensated by replay.
const escalatedOrphansSweepSchedule = "@hourly"

// Scheduler runs the background housekeeping of the verification queue and
// the orphan buffer: reaping timed-out jobs, deleting terminal jobs past
// retention, and surfacing escalated orphans.
type Scheduler struct {
	cron     *cron.Cron
	jobs     verification.Service
	orphans  reconcile.OrphanStore
	tracer   tracing.Tracer
	settings config.Verification

	getUTC func() time.Time
}

// For testing
func (s *Scheduler) SetUTCGetter(getter func() time.Time) {
	s.getUTC = getter
}

func NewScheduler(jobs verification.Service, orphans reconcile.OrphanStore, tracer tracing.Tracer, settings config.Verification) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		jobs:     jobs,
		orphans:  orphans,
		tracer:   tracer,
		settings: settings,
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Schedule registers the housekeeping jobs with Cron. Returns an error if
// the configured retention sweep schedule does not parse.
func (s *Scheduler) Schedule() error {
	reapSchedule := fmt.Sprintf("@every %s", s.settings.ReapInterval)
	if _, err := s.cron.AddJob(reapSchedule, s.recovering(cron.FuncJob(s.reapTimedOut))); err != nil {
		return err
	}
	if _, err := s.cron.AddJob(s.settings.RetentionSweepSchedule, s.recovering(cron.FuncJob(s.sweepRetention))); err != nil {
		return err
	}
	if _, err := s.cron.AddJob(escalatedOrphansSweepSchedule, s.recovering(cron.FuncJob(s.reportEscalatedOrphans))); err != nil {
		return err
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	log.Info().Msg("Stopping maintenance jobs")
	s.cron.Stop()
}

func (s *Scheduler) recovering(job cron.Job) cron.Job {
	return cron.NewChain(
		cron.Recover(zeroLogCronLogger{}),
		cron.DelayIfStillRunning(zeroLogCronLogger{}),
	).Then(job)
}

func (s *Scheduler) reapTimedOut() {
	tx := s.tracer.BackgroundTx("verification-reap")
	defer tx.End()
	reaped, err := s.jobs.ReapTimedOut(tx.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to reap timed out verification jobs")
		return
	}
	if reaped > 0 {
		log.Info().Uint("reaped", reaped).Msg("Timed out verification jobs forced to failed")
	}
}

func (s *Scheduler) sweepRetention() {
	tx := s.tracer.BackgroundTx("verification-retention-sweep")
	defer tx.End()
	olderThan := verification.CompletedAt(s.getUTC().Add(-s.settings.Retention))
	deleted, err := s.jobs.DeleteTerminalBefore(tx.Context(), olderThan)
	if err != nil {
		log.Error().Err(err).Msg("Failed to sweep terminal verification jobs")
		return
	}
	if deleted > 0 {
		log.Info().Uint("deleted", deleted).Time("older_than", time.Time(olderThan)).Msg("Terminal verification jobs deleted")
	}
}

func (s *Scheduler) reportEscalatedOrphans() {
	tx := s.tracer.BackgroundTx("orphans-escalated-sweep")
	defer tx.End()
	orphans, err := s.orphans.All(tx.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orphaned transitions")
		return
	}
	for i := 0; i < len(orphans); i++ {
		o := &orphans[i]
		if o.Escalated {
			log.Error().
				Str("id", string(o.Fact.ID)).
				Str("target", string(o.Target())).
				Str("stream", string(o.Stream)).
				Uint("attempts", o.Attempts).
				Time("first_seen_at", o.FirstSeenAt).
				Msg("Escalated orphaned transition awaiting compensation")
		}
	}
}

type zeroLogCronLogger struct {
}

func (z zeroLogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	if log.Info().Enabled() {
		formatted := formatTimeValues(keysAndValues)
		log.Info().Fields(formatted).Msg(msg)
	}
}

func (z zeroLogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if log.Error().Enabled() {
		formatted := formatTimeValues(keysAndValues)
		log.Error().Err(err).Fields(formatted).Msg(msg)
	}
}

// formatTimeValues formats any time.Time values as RFC3339 *and*
// returns the even-odd idx key-value pair slice as a map
func formatTimeValues(keysAndValues []interface{}) map[string]interface{} {
	formattedArgs := make(map[string]interface{}, len(keysAndValues)/2)
	for idx := 0; idx < len(keysAndValues); idx += 2 {
		var key string
		if s, ok := keysAndValues[idx].(string); ok {
			key = s
		} else {
			key = fmt.Sprint(keysAndValues[idx])
		}
		valueIdx := idx + 1
		if len(keysAndValues) > valueIdx {
			value := keysAndValues[valueIdx]
			if t, ok := value.(time.Time); ok {
				value = t.Format(time.RFC3339)
			}
			formattedArgs[key] = value
		}
	}
	return formattedArgs
}
