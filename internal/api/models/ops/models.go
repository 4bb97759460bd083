package ops

import (
	"time"

	"github.com/datalode/ledgersync/internal/domain/reconcile"
	infraSync "github.com/datalode/ledgersync/internal/infra/sync"
)

// StreamStatus is the operator-facing view of one stream's sync loop.
type StreamStatus struct {
	Stream              string       `json:"stream" example:"marketplace-events"`
	Running             bool         `json:"running"`
	Halted              bool         `json:"halted"`
	ConsecutiveFailures uint         `json:"consecutive_failures"`
	LastCycleAt         *time.Time   `json:"last_cycle_at,omitempty" swaggertype:"string" format:"date-time"`
	LastError           string       `json:"last_error,omitempty"`
	LastCycle           *CycleReport `json:"last_cycle,omitempty"`
}

// CycleReport summarises the last completed reconciliation cycle.
type CycleReport struct {
	Fetched      uint   `json:"fetched"`
	Applied      uint   `json:"applied"`
	Duplicates   uint   `json:"duplicates"`
	Ignored      uint   `json:"ignored"`
	Failures     uint   `json:"failures"`
	Orphaned     uint   `json:"orphaned"`
	OrphansFixed uint   `json:"orphans_fixed"`
	Escalated    uint   `json:"escalated"`
	Position     string `json:"position"`
	Advanced     bool   `json:"advanced"`
}

// Orphan is the operator-facing view of a buffered orphaned transition.
type Orphan struct {
	ID          string    `json:"id"`
	Target      string    `json:"target"`
	Stream      string    `json:"stream"`
	Reason      string    `json:"reason,omitempty"`
	FirstSeenAt time.Time `json:"first_seen_at" swaggertype:"string" format:"date-time"`
	Attempts    uint      `json:"attempts"`
	Escalated   bool      `json:"escalated"`
}

// TriggerAccepted acknowledges a manual sync trigger.
type TriggerAccepted struct {
	Stream string `json:"stream"`
}

func FromStreamStatus(s *infraSync.StreamStatus) StreamStatus {
	status := StreamStatus{
		Stream:              string(s.Stream),
		Running:             s.Running,
		Halted:              s.Halted,
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastCycleAt:         s.LastCycleAt,
		LastError:           s.LastError,
	}
	if s.LastReport != nil {
		status.LastCycle = &CycleReport{
			Fetched:      s.LastReport.Fetched,
			Applied:      s.LastReport.Applied,
			Duplicates:   s.LastReport.Duplicates,
			Ignored:      s.LastReport.Ignored,
			Failures:     s.LastReport.Failures,
			Orphaned:     s.LastReport.Orphaned,
			OrphansFixed: s.LastReport.OrphansFixed,
			Escalated:    s.LastReport.Escalated,
			Position:     string(s.LastReport.Position),
			Advanced:     s.LastReport.Advanced,
		}
	}
	return status
}

func FromDomainOrphan(o *reconcile.OrphanedTransition) Orphan {
	return Orphan{
		ID:          string(o.Fact.ID),
		Target:      string(o.Target()),
		Stream:      string(o.Stream),
		Reason:      o.Fact.Revoked.Reason,
		FirstSeenAt: o.FirstSeenAt,
		Attempts:    o.Attempts,
		Escalated:   o.Escalated,
	}
}
