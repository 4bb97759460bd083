package verification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/datalode/ledgersync/internal/api/models/common"
	"github.com/datalode/ledgersync/internal/domain/ledger"
	domainVerification "github.com/datalode/ledgersync/internal/domain/verification"
)

func TestNewJob_ToDomainNewJob_defaultsTimeout(t *testing.T) {
	newJob := NewJob{Input: "bafy1"}
	domainNewJob := newJob.ToDomainNewJob("user-123", 30*time.Minute)
	assert.Equal(t, domainVerification.UserId("user-123"), domainNewJob.UserId)
	assert.Equal(t, ledger.ContentId("bafy1"), domainNewJob.Input)
	assert.EqualValues(t, 30*time.Minute, domainNewJob.ExecutionTimeout)
}

func TestNewJob_ToDomainNewJob_submittedTimeoutWins(t *testing.T) {
	submitted := common.Duration(5 * time.Minute)
	newJob := NewJob{Input: "bafy1", ExecutionTimeout: &submitted}
	domainNewJob := newJob.ToDomainNewJob("user-123", 30*time.Minute)
	assert.EqualValues(t, 5*time.Minute, domainNewJob.ExecutionTimeout)
}

func TestFromDomainJob(t *testing.T) {
	createdAt := time.Date(2020, 3, 14, 15, 9, 26, 0, time.UTC)
	startedAt := domainVerification.StartedAt(createdAt.Add(time.Second))
	completedAt := domainVerification.CompletedAt(createdAt.Add(time.Minute))
	result := domainVerification.Result{"status": "ok"}
	dJob := domainVerification.Job{
		ID:               "job-1",
		UserId:           "user-123",
		Input:            "bafy1",
		State:            domainVerification.COMPLETED,
		ExecutionTimeout: domainVerification.ExecutionTimeout(30 * time.Minute),
		Result:           &result,
		CreatedAt:        domainVerification.CreatedAt(createdAt),
		StartedAt:        &startedAt,
		CompletedAt:      &completedAt,
	}
	apiJob := FromDomainJob(&dJob)
	assert.Equal(t, "job-1", apiJob.ID)
	assert.Equal(t, "user-123", apiJob.UserId)
	assert.Equal(t, "bafy1", apiJob.Input)
	assert.Equal(t, "completed", apiJob.State)
	assert.EqualValues(t, 30*time.Minute, apiJob.ExecutionTimeout)
	assert.Equal(t, JsonObj{"status": "ok"}, *apiJob.Result)
	assert.Equal(t, createdAt, apiJob.CreatedAt)
	assert.Equal(t, createdAt.Add(time.Second), *apiJob.StartedAt)
	assert.Equal(t, createdAt.Add(time.Minute), *apiJob.CompletedAt)
}

func TestFromDomainJob_pendingHasNoTimestamps(t *testing.T) {
	dJob := domainVerification.Job{
		ID:    "job-1",
		State: domainVerification.PENDING,
	}
	apiJob := FromDomainJob(&dJob)
	assert.Equal(t, "pending", apiJob.State)
	assert.Nil(t, apiJob.Result)
	assert.Nil(t, apiJob.StartedAt)
	assert.Nil(t, apiJob.CompletedAt)
}
