package verification

import (
	"context"
)

var MockDomainJob = Job{
	ID:     "mock",
	UserId: "user",
	Input:  "bafymock",
}

type MockService struct {
	SubmitCalled                 uint
	SubmitOverride               func() (*Job, error)
	GetCalled                    uint
	GetOverride                  func() (*Job, error)
	ClaimPendingCalled           uint
	ClaimPendingOverride         func() ([]Job, error)
	MarkCompletedCalled          uint
	MarkCompletedOverride        func() (*Job, error)
	MarkFailedCalled             uint
	MarkFailedOverride           func() (*Job, error)
	ReapTimedOutCalled           uint
	ReapTimedOutOverride         func() (uint, error)
	DeleteTerminalBeforeCalled   uint
	DeleteTerminalBeforeOverride func() (uint, error)
}

func (m *MockService) Submit(ctx context.Context, newJob *NewJob) (*Job, error) {
	m.SubmitCalled++
	if m.SubmitOverride != nil {
		return m.SubmitOverride()
	} else {
		return &MockDomainJob, nil
	}
}

func (m *MockService) Get(ctx context.Context, jobId Id) (*Job, error) {
	m.GetCalled++
	if m.GetOverride != nil {
		return m.GetOverride()
	} else {
		return &MockDomainJob, nil
	}
}

func (m *MockService) ClaimPending(ctx context.Context, workerId WorkerId, amount uint) ([]Job, error) {
	m.ClaimPendingCalled++
	if m.ClaimPendingOverride != nil {
		return m.ClaimPendingOverride()
	} else {
		return []Job{MockDomainJob}, nil
	}
}

func (m *MockService) MarkCompleted(ctx context.Context, jobId Id, result *Result) (*Job, error) {
	m.MarkCompletedCalled++
	if m.MarkCompletedOverride != nil {
		return m.MarkCompletedOverride()
	} else {
		return &MockDomainJob, nil
	}
}

func (m *MockService) MarkFailed(ctx context.Context, jobId Id, errMessage string) (*Job, error) {
	m.MarkFailedCalled++
	if m.MarkFailedOverride != nil {
		return m.MarkFailedOverride()
	} else {
		return &MockDomainJob, nil
	}
}

func (m *MockService) ReapTimedOut(ctx context.Context) (uint, error) {
	m.ReapTimedOutCalled++
	if m.ReapTimedOutOverride != nil {
		return m.ReapTimedOutOverride()
	} else {
		return 0, nil
	}
}

func (m *MockService) DeleteTerminalBefore(ctx context.Context, olderThan CompletedAt) (uint, error) {
	m.DeleteTerminalBeforeCalled++
	if m.DeleteTerminalBeforeOverride != nil {
		return m.DeleteTerminalBeforeOverride()
	} else {
		return 0, nil
	}
}
