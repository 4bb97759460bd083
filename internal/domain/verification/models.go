package verification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/metadata"
)

type JsonObj map[string]interface{}

// Id of a verification job that has been persisted
type Id string

// Generates a random id
func GenerateId() Id {
	return Id(strings.ReplaceAll(uuid.New().String(), "-", ""))
}

// UserId is the submitting user. Ownership checks are enforced by the HTTP
// front door using this field; this component is not authorization-aware.
type UserId string

// WorkerId identifies one worker in the execution pool, for claim
// attribution.
type WorkerId string

// Result of a successfully completed verification
type Result JsonObj

// How long a claimed job may execute before it is forced to failed
type ExecutionTimeout time.Duration

type CreatedAt time.Time
type StartedAt time.Time
type CompletedAt time.Time
type TimesOutAt time.Time

// A verification job that has yet to be created
type NewJob struct {
	UserId           UserId
	Input            ledger.ContentId
	ExecutionTimeout ExecutionTimeout
}

// Job is a persisted verification job. Owned exclusively by the queue while
// pending or running; read-only once terminal.
type Job struct {
	ID               Id
	UserId           UserId
	Input            ledger.ContentId
	State            State
	ExecutionTimeout ExecutionTimeout
	Result           *Result // only when completed
	Error            string  // only when failed
	ClaimedBy        *WorkerId
	TimesOutAt       *TimesOutAt
	CreatedAt        CreatedAt
	StartedAt        *StartedAt
	CompletedAt      *CompletedAt
	Metadata         metadata.Metadata
}

// Terminal returns true once the job can never transition again.
func (j *Job) Terminal() bool {
	return j.State == COMPLETED || j.State == FAILED
}

// IntoRunning marks the job as claimed by a worker.
//
// Note that it does no state checking: it is called directly after a search
// for pending jobs, and the CAS on the persisted document is what makes the
// claim exclusive.
func (j *Job) IntoRunning(workerId WorkerId, at StartedAt) {
	j.State = RUNNING
	j.ClaimedBy = &workerId
	started := at
	j.StartedAt = &started
	timesOutAt := TimesOutAt(time.Time(at).Add(time.Duration(j.ExecutionTimeout)))
	j.TimesOutAt = &timesOutAt
}

// IntoCompleted marks the job as successfully completed with a result.
//
// Errors out if the job is not currently running: terminal states are
// final.
func (j *Job) IntoCompleted(at CompletedAt, result *Result) error {
	if j.State != RUNNING {
		return NotRunning{ID: j.ID, State: j.State}
	}
	j.State = COMPLETED
	j.Result = result
	completed := at
	j.CompletedAt = &completed
	return nil
}

// IntoFailed marks the job as failed with an error message. There are no
// retries at this level; resubmission is a new job.
func (j *Job) IntoFailed(at CompletedAt, errMessage string) error {
	if j.State != RUNNING {
		return NotRunning{ID: j.ID, State: j.State}
	}
	j.State = FAILED
	j.Error = errMessage
	completed := at
	j.CompletedAt = &completed
	return nil
}

// Job state boilerplate galore
// The state of a Job that can be marshalled to and from JSON
type State uint8

const (
	PENDING State = iota
	RUNNING
	COMPLETED
	FAILED

	// Do not edit these
	pending   string = "pending"
	running   string = "running"
	completed string = "completed"
	failed    string = "failed"
)

var toString = map[State]string{
	PENDING:   pending,
	RUNNING:   running,
	COMPLETED: completed,
	FAILED:    failed,
}

var toID = map[string]State{
	pending:   PENDING,
	running:   RUNNING,
	completed: COMPLETED,
	failed:    FAILED,
}

func (s State) String() string {
	return toString[s]
}

// MarshalJSON marshals the enum as a quoted json string
func (s State) MarshalJSON() ([]byte, error) {
	buffer := bytes.NewBufferString(`"`)
	buffer.WriteString(toString[s])
	buffer.WriteString(`"`)
	return buffer.Bytes(), nil
}

// UnmarshalJSON unmashals a quoted json string to the enum value
func (s *State) UnmarshalJSON(b []byte) error {
	var j string
	err := json.Unmarshal(b, &j)
	if err != nil {
		return err
	}
	if found, ok := toID[j]; ok {
		*s = found
		return nil
	} else {
		return fmt.Errorf("invalid state: [%s]", string(b))
	}
}
