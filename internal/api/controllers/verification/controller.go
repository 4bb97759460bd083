package verification

import (
	"context"
	"net/http"
	"time"

	"github.com/datalode/ledgersync/internal/api/models/common"
	"github.com/datalode/ledgersync/internal/api/models/verification"
	"github.com/datalode/ledgersync/internal/config"
	domainVerification "github.com/datalode/ledgersync/internal/domain/verification"
)

// Controller is an interface that defines the methods that are available to
// the routing layer. It is framework-agnostic
type Controller interface {

	// Submit persists a new verification Job in the pending state on behalf
	// of the given user and returns it immediately.
	Submit(ctx context.Context, userId string, newJob *verification.NewJob) (*verification.Job, *common.ApiError)

	// Get returns a Job by id
	Get(ctx context.Context, jobId domainVerification.Id) (*verification.Job, *common.ApiError)
}

func New(jobsService domainVerification.Service, verificationConfig config.Verification) Controller {
	return &impl{
		jobsService:        jobsService,
		verificationConfig: verificationConfig,
		getNowUtc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type impl struct {
	jobsService        domainVerification.Service
	verificationConfig config.Verification
	getNowUtc          func() time.Time
}

func (c *impl) Submit(ctx context.Context, userId string, newJob *verification.NewJob) (*verification.Job, *common.ApiError) {
	domainNewJob := newJob.ToDomainNewJob(userId, c.verificationConfig.ExecutionTimeout)
	result, err := c.jobsService.Submit(ctx, &domainNewJob)
	if err != nil {
		return nil, handleErr(err)
	} else {
		j := verification.FromDomainJob(result)
		return &j, nil
	}
}

func (c *impl) Get(ctx context.Context, jobId domainVerification.Id) (*verification.Job, *common.ApiError) {
	result, err := c.jobsService.Get(ctx, jobId)
	if err != nil {
		return nil, handleErr(err)
	} else {
		j := verification.FromDomainJob(result)
		return &j, nil
	}
}

func handleErr(err error) *common.ApiError {
	switch v := err.(type) {
	case domainVerification.NotFound:
		return notFound(v)
	case domainVerification.NotRunning:
		return notRunning(v)
	case domainVerification.InvalidVersion:
		return versionConflict(v)
	case domainVerification.InvalidPersistedData:
		return invalidPersistedData(v)
	default:
		return unhandledErr(v)
	}
}

func notFound(notFound domainVerification.NotFound) *common.ApiError {
	return &common.ApiError{
		StatusCode: http.StatusNotFound,
		Body: common.Body{
			Message: notFound.Error(),
		},
	}
}

func notRunning(notRunning domainVerification.NotRunning) *common.ApiError {
	return &common.ApiError{
		StatusCode: http.StatusBadRequest,
		Body: common.Body{
			Message: notRunning.Error(),
		},
	}
}

func versionConflict(conflict domainVerification.InvalidVersion) *common.ApiError {
	return &common.ApiError{
		StatusCode: http.StatusConflict,
		Body: common.Body{
			Message: conflict.Error(),
		},
	}
}

func invalidPersistedData(invalid domainVerification.InvalidPersistedData) *common.ApiError {
	return &common.ApiError{
		StatusCode: http.StatusInternalServerError,
		Body: common.Body{
			Message: invalid.Error(),
		},
	}
}

func unhandledErr(err error) *common.ApiError {
	return &common.ApiError{
		StatusCode: http.StatusInternalServerError,
		Body: common.Body{
			Message: err.Error(),
		},
	}
}
