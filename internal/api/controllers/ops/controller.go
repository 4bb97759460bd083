package ops

import (
	"context"
	"net/http"

	"github.com/datalode/ledgersync/internal/api/models/common"
	"github.com/datalode/ledgersync/internal/api/models/ops"
	"github.com/datalode/ledgersync/internal/domain/reconcile"
	"github.com/datalode/ledgersync/internal/domain/stream"
	infraSync "github.com/datalode/ledgersync/internal/infra/sync"
)

// Controller exposes operator views of the sync loops and the orphan
// buffer. It is framework-agnostic
type Controller interface {

	// Streams returns a snapshot of every configured stream's sync loop.
	Streams() []ops.StreamStatus

	// Orphans returns every buffered orphaned transition, oldest first.
	Orphans(ctx context.Context) ([]ops.Orphan, *common.ApiError)

	// TriggerSync requests an immediate cycle for the given stream.
	TriggerSync(streamName stream.Name) (*ops.TriggerAccepted, *common.ApiError)
}

func New(driver *infraSync.Driver, orphans reconcile.OrphanStore) Controller {
	return &impl{
		driver:  driver,
		orphans: orphans,
	}
}

type impl struct {
	driver  *infraSync.Driver
	orphans reconcile.OrphanStore
}

func (c *impl) Streams() []ops.StreamStatus {
	statuses := c.driver.Statuses()
	apiStatuses := make([]ops.StreamStatus, 0, len(statuses))
	for i := 0; i < len(statuses); i++ {
		apiStatuses = append(apiStatuses, ops.FromStreamStatus(&statuses[i]))
	}
	return apiStatuses
}

func (c *impl) Orphans(ctx context.Context) ([]ops.Orphan, *common.ApiError) {
	orphans, err := c.orphans.All(ctx)
	if err != nil {
		return nil, &common.ApiError{
			StatusCode: http.StatusInternalServerError,
			Body: common.Body{
				Message: err.Error(),
			},
		}
	}
	apiOrphans := make([]ops.Orphan, 0, len(orphans))
	for i := 0; i < len(orphans); i++ {
		apiOrphans = append(apiOrphans, ops.FromDomainOrphan(&orphans[i]))
	}
	return apiOrphans, nil
}

func (c *impl) TriggerSync(streamName stream.Name) (*ops.TriggerAccepted, *common.ApiError) {
	if !c.driver.TriggerSync(streamName) {
		return nil, &common.ApiError{
			StatusCode: http.StatusNotFound,
			Body: common.Body{
				Message: "No such stream is configured.",
			},
		}
	}
	return &ops.TriggerAccepted{Stream: string(streamName)}, nil
}
