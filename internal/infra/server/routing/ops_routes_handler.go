package routing

import (
	"net/http"

	"github.com/gin-gonic/gin"

	opsController "github.com/datalode/ledgersync/internal/api/controllers/ops"
	"github.com/datalode/ledgersync/internal/config"
	"github.com/datalode/ledgersync/internal/domain/ratelimit"
	"github.com/datalode/ledgersync/internal/domain/stream"
)

var opsRootPath = "/ops"
var streamPathKey = "stream"

type OpsRoutesHandler struct {
	AuthSettings   *config.Auth
	Controller     opsController.Controller
	Limiter        ratelimit.Checker
	GeneralClass   ratelimit.Class
	IngestionClass ratelimit.Class
}

func (h *OpsRoutesHandler) RegisterRoutes(ginEngine *gin.Engine) {
	accounts := make(gin.Accounts)
	if h.AuthSettings != nil {
		for _, bAuthUser := range h.AuthSettings.BasicAuth {
			accounts[bAuthUser.Name] = bAuthUser.Password
		}
	}

	var routerGroup *gin.RouterGroup
	if len(accounts) > 0 {
		routerGroup = ginEngine.Group(opsRootPath, gin.BasicAuth(accounts))
	} else {
		routerGroup = ginEngine.Group(opsRootPath)
	}

	general := RateLimit(h.Limiter, h.GeneralClass)
	ingestion := RateLimit(h.Limiter, h.IngestionClass)

	routerGroup.GET("/streams", general, h.streams)
	routerGroup.GET("/orphans", general, h.orphans)
	routerGroup.POST("/streams/:"+streamPathKey+"/sync", ingestion, h.triggerSync)
}

// @Summary Stream sync statuses
// @ID get-stream-statuses
// @Tags ops
// @Description Returns cursor positions and loop health for every configured stream.
// @Produce  json
// @Success 200 {array} ops.StreamStatus
// @Failure 429 {object} common.Body "Rate limit exhausted"
// @Router /ops/streams [get]
func (h *OpsRoutesHandler) streams(c *gin.Context) {
	c.JSON(http.StatusOK, h.Controller.Streams())
}

// @Summary Outstanding orphaned transitions
// @ID get-orphans
// @Tags ops
// @Description Returns every buffered orphaned transition, escalated ones included.
// @Produce  json
// @Success 200 {array} ops.Orphan
// @Failure 429 {object} common.Body "Rate limit exhausted"
// @Router /ops/orphans [get]
func (h *OpsRoutesHandler) orphans(c *gin.Context) {
	if orphans, err := h.Controller.Orphans(c.Request.Context()); err == nil {
		c.JSON(http.StatusOK, orphans)
	} else {
		c.JSON(err.StatusCode, err.Body)
	}
}

// @Summary Trigger a sync cycle
// @ID trigger-stream-sync
// @Tags ops
// @Description Requests an immediate reconciliation cycle for a stream, ahead of its interval.
// @Produce  json
// @Param   stream path string true "The stream to sync"
// @Success 202 {object} ops.TriggerAccepted
// @Failure 400 {object} common.Body "Invalid stream name"
// @Failure 404 {object} common.Body "Stream not configured"
// @Failure 429 {object} common.Body "Rate limit exhausted"
// @Router /ops/streams/{stream}/sync [post]
func (h *OpsRoutesHandler) triggerSync(c *gin.Context) {
	streamName, err := stream.NameFromString(c.Param(streamPathKey))
	if err != nil {
		handleJsonSerdesErr(c, err)
		return
	}
	if accepted, apiErr := h.Controller.TriggerSync(*streamName); apiErr == nil {
		c.JSON(http.StatusAccepted, accepted)
	} else {
		c.JSON(apiErr.StatusCode, apiErr.Body)
	}
}
