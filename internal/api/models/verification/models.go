package verification

import (
	"time"

	"github.com/datalode/ledgersync/internal/api/models/common"
	"github.com/datalode/ledgersync/internal/domain/ledger"
	"github.com/datalode/ledgersync/internal/domain/metadata"
	domainVerification "github.com/datalode/ledgersync/internal/domain/verification"
)

type JsonObj = map[string]interface{}

// NewJob is the user-facing submission model. The submitting user comes
// from the request header, not the body.
type NewJob struct {
	Input            string           `json:"input" binding:"required" example:"bafybeigdyrzt5s"`
	ExecutionTimeout *common.Duration `json:"execution_timeout,omitempty" swaggertype:"string" example:"30m"`
}

// ToDomainNewJob converts to the domain model, filling in the default
// execution timeout if none was submitted.
func (j *NewJob) ToDomainNewJob(userId string, defaultExecutionTimeout time.Duration) domainVerification.NewJob {
	executionTimeout := defaultExecutionTimeout
	if j.ExecutionTimeout != nil {
		executionTimeout = time.Duration(*j.ExecutionTimeout)
	}
	return domainVerification.NewJob{
		UserId:           domainVerification.UserId(userId),
		Input:            ledger.ContentId(j.Input),
		ExecutionTimeout: domainVerification.ExecutionTimeout(executionTimeout),
	}
}

// Job is the user-facing verification job model.
type Job struct {
	ID               string          `json:"id" example:"d7c40ee155d54e0aa8c0f5ed2"`
	UserId           string          `json:"user_id" example:"user-123"`
	Input            string          `json:"input" example:"bafybeigdyrzt5s"`
	State            string          `json:"state" example:"pending"`
	ExecutionTimeout common.Duration `json:"execution_timeout" swaggertype:"string" example:"30m"`
	Result           *JsonObj        `json:"result,omitempty"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"created_at" swaggertype:"string" format:"date-time"`
	StartedAt        *time.Time      `json:"started_at,omitempty" swaggertype:"string" format:"date-time"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty" swaggertype:"string" format:"date-time"`
	Metadata         common.Metadata `json:"metadata"`
}

func FromDomainJob(dJob *domainVerification.Job) Job {
	var result *JsonObj
	if dJob.Result != nil {
		r := JsonObj(*dJob.Result)
		result = &r
	}
	var startedAt *time.Time
	if dJob.StartedAt != nil {
		s := time.Time(*dJob.StartedAt)
		startedAt = &s
	}
	var completedAt *time.Time
	if dJob.CompletedAt != nil {
		c := time.Time(*dJob.CompletedAt)
		completedAt = &c
	}
	return Job{
		ID:               string(dJob.ID),
		UserId:           string(dJob.UserId),
		Input:            string(dJob.Input),
		State:            dJob.State.String(),
		ExecutionTimeout: common.Duration(dJob.ExecutionTimeout),
		Result:           result,
		Error:            dJob.Error,
		CreatedAt:        time.Time(dJob.CreatedAt),
		StartedAt:        startedAt,
		CompletedAt:      completedAt,
		Metadata:         fromDomainMetadata(&dJob.Metadata),
	}
}

func fromDomainMetadata(m *metadata.Metadata) common.Metadata {
	return common.Metadata{
		CreatedAt:  time.Time(m.CreatedAt),
		ModifiedAt: time.Time(m.ModifiedAt),
		Version: common.Version{
			SeqNum:      uint64(m.Version.SeqNum),
			PrimaryTerm: uint64(m.Version.PrimaryTerm),
		},
	}
}
