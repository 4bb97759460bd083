package routing

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/datalode/ledgersync/internal/api/models/common"
	"github.com/datalode/ledgersync/internal/api/models/ops"
	domainRatelimit "github.com/datalode/ledgersync/internal/domain/ratelimit"
	"github.com/datalode/ledgersync/internal/domain/stream"
)

var ingestionTestClass = domainRatelimit.Class{
	Name:  "ingestion",
	Limit: 10,
}

func setupOpsRouter() (*gin.Engine, *mockOpsController, *mockChecker) {
	engine := gin.Default()
	mockController := mockOpsController{}
	checker := mockChecker{}
	handler := OpsRoutesHandler{
		Controller:     &mockController,
		Limiter:        &checker,
		GeneralClass:   generalTestClass,
		IngestionClass: ingestionTestClass,
	}
	handler.RegisterRoutes(engine)
	return engine, &mockController, &checker
}

func TestOpsStreams_Ok(t *testing.T) {
	router, mockController, _ := setupOpsRouter()
	resp := performRequest(router, http.MethodGet, "/ops/streams", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 1, mockController.streamsCalled)
	var statuses []ops.StreamStatus
	if err := json.Unmarshal(resp.Body.Bytes(), &statuses); err != nil {
		t.Error(err)
	} else {
		assert.Len(t, statuses, 1)
		assert.Equal(t, "marketplace", statuses[0].Stream)
	}
}

func TestOpsOrphans_Ok(t *testing.T) {
	router, mockController, _ := setupOpsRouter()
	resp := performRequest(router, http.MethodGet, "/ops/orphans", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 1, mockController.orphansCalled)
}

func TestOpsOrphans_Err(t *testing.T) {
	router, mockController, _ := setupOpsRouter()
	mockController.orphansOverride = func(ctx context.Context) ([]ops.Orphan, *common.ApiError) {
		return nil, &common.ApiError{StatusCode: http.StatusInternalServerError}
	}
	resp := performRequest(router, http.MethodGet, "/ops/orphans", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestOpsTriggerSync_Ok(t *testing.T) {
	router, mockController, _ := setupOpsRouter()
	resp := performRequest(router, http.MethodPost, "/ops/streams/marketplace/sync", nil, nil)
	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.EqualValues(t, 1, mockController.triggerCalled)
	assert.Equal(t, stream.Name("marketplace"), mockController.lastTriggered)
}

func TestOpsTriggerSync_InvalidStreamName(t *testing.T) {
	router, mockController, _ := setupOpsRouter()
	resp := performRequest(router, http.MethodPost, "/ops/streams/+bad/sync", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.EqualValues(t, 0, mockController.triggerCalled)
}

func TestOpsTriggerSync_UnknownStream(t *testing.T) {
	router, mockController, _ := setupOpsRouter()
	mockController.triggerOverride = func(streamName stream.Name) (*ops.TriggerAccepted, *common.ApiError) {
		return nil, &common.ApiError{StatusCode: http.StatusNotFound}
	}
	resp := performRequest(router, http.MethodPost, "/ops/streams/unconfigured/sync", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestOpsTriggerSync_RateLimitedUnderIngestionClass(t *testing.T) {
	router, mockController, checker := setupOpsRouter()
	checker.checkOverride = func(principal domainRatelimit.Principal, class domainRatelimit.Class) error {
		if class.Name == ingestionTestClass.Name {
			return domainRatelimit.RateLimited{Principal: principal, Class: class.Name}
		}
		return nil
	}
	resp := performRequest(router, http.MethodPost, "/ops/streams/marketplace/sync", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.EqualValues(t, 0, mockController.triggerCalled)

	// reads run under the general class and stay open
	resp = performRequest(router, http.MethodGet, "/ops/streams", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

// <-- Mocks

type mockOpsController struct {
	streamsCalled   uint
	streamsOverride func() []ops.StreamStatus

	orphansCalled   uint
	orphansOverride func(ctx context.Context) ([]ops.Orphan, *common.ApiError)

	triggerCalled   uint
	triggerOverride func(streamName stream.Name) (*ops.TriggerAccepted, *common.ApiError)
	lastTriggered   stream.Name
}

func (m *mockOpsController) Streams() []ops.StreamStatus {
	m.streamsCalled++
	if m.streamsOverride != nil {
		return m.streamsOverride()
	}
	return []ops.StreamStatus{
		{Stream: "marketplace", Running: true},
	}
}

func (m *mockOpsController) Orphans(ctx context.Context) ([]ops.Orphan, *common.ApiError) {
	m.orphansCalled++
	if m.orphansOverride != nil {
		return m.orphansOverride(ctx)
	}
	return []ops.Orphan{}, nil
}

func (m *mockOpsController) TriggerSync(streamName stream.Name) (*ops.TriggerAccepted, *common.ApiError) {
	m.triggerCalled++
	m.lastTriggered = streamName
	if m.triggerOverride != nil {
		return m.triggerOverride(streamName)
	}
	return &ops.TriggerAccepted{Stream: string(streamName)}, nil
}

//     Mocks -->
