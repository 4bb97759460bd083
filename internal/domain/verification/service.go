package verification

import (
	"context"
	"fmt"
	"time"
)

// A Service that takes care of the persistence of verification Jobs.
type Service interface {
	// Submit persists the given NewJob in the pending state and returns it
	// immediately; execution happens off the request path.
	Submit(ctx context.Context, newJob *NewJob) (*Job, error)

	// Get returns a Job by Id, or NotFound. It is a pure read and never
	// triggers execution.
	Get(ctx context.Context, jobId Id) (*Job, error)

	// ClaimPending atomically claims up to amount pending jobs for the given
	// worker, transitioning them to running. The claim is a compare-and-set
	// on the persisted document, so concurrent claimers get disjoint jobs;
	// at most one worker ever runs a given job.
	ClaimPending(ctx context.Context, workerId WorkerId, amount uint) ([]Job, error)

	// MarkCompleted transitions a running job to completed with a result.
	//
	// Errors out if the Job
	//  1. Does not exist
	//  2. Is not running (terminal states are final)
	//  3. Has been updated at a later time (concurrency)
	MarkCompleted(ctx context.Context, jobId Id, result *Result) (*Job, error)

	// MarkFailed transitions a running job to failed with an error message,
	// under the same conditions as MarkCompleted.
	MarkFailed(ctx context.Context, jobId Id, errMessage string) (*Job, error)

	// ReapTimedOut forces every running job whose execution deadline has
	// passed to failed with a timeout error, so process death never leaves
	// a job running forever.
	//
	// Meant to be idempotent; errors can be handled by simply logging.
	ReapTimedOut(ctx context.Context) (uint, error)

	// DeleteTerminalBefore garbage-collects completed/failed jobs whose
	// completion predates the given time. Retention is age-based only;
	// clients cannot delete jobs.
	DeleteTerminalBefore(ctx context.Context, olderThan CompletedAt) (uint, error)
}

// <-- Domain Errors

// ServiceErr is an error interface for Service
type ServiceErr interface {
	error
	Id() Id
}

// NotFound is returned when no Job exists for a given Id
type NotFound struct {
	ID Id
}

func (e NotFound) Error() string {
	return fmt.Sprintf("Could not find job [%v]", e.ID)
}

func (e NotFound) Id() Id {
	return e.ID
}

// InvalidVersion is returned when the version is invalid
type InvalidVersion struct {
	ID Id
}

func (e InvalidVersion) Error() string {
	return fmt.Sprintf("Version provided did not match persisted version for [%v]", e.ID)
}

func (e InvalidVersion) Id() Id {
	return e.ID
}

// AlreadyExists is returned when the service tries to persist a Job whose
// generated id collides with an existing one
type AlreadyExists struct {
	ID Id
}

func (e AlreadyExists) Error() string {
	return fmt.Sprintf("Job with Id [%v] already exists", e.ID)
}

func (e AlreadyExists) Id() Id {
	return e.ID
}

// NotRunning is returned on completion attempts against a job that is not
// currently running
type NotRunning struct {
	ID    Id
	State State
}

func (e NotRunning) Error() string {
	return fmt.Sprintf("The job [%v] is in state [%v], which cannot be completed", e.ID, e.State)
}

func (e NotRunning) Id() Id {
	return e.ID
}

// Invalid data
type InvalidPersistedData struct {
	PersistedData interface{}
}

func (e InvalidPersistedData) Error() string {
	return fmt.Sprintf("Invalid persisted data [%v]", e.PersistedData)
}

// ExecutionTimedOut is the error message recorded on jobs forced to failed
// by the reaper or by the in-worker deadline.
func ExecutionTimedOut(timeout time.Duration) string {
	return fmt.Sprintf("verification did not finish within %v", timeout)
}

//     Errors -->
