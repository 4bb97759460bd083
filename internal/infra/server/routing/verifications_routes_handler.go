package routing

import (
	"net/http"

	"github.com/gin-gonic/gin"

	verificationController "github.com/datalode/ledgersync/internal/api/controllers/verification"
	"github.com/datalode/ledgersync/internal/api/models/common"
	"github.com/datalode/ledgersync/internal/api/models/verification"
	"github.com/datalode/ledgersync/internal/config"
	"github.com/datalode/ledgersync/internal/domain/ratelimit"
	domainVerification "github.com/datalode/ledgersync/internal/domain/verification"
)

var verificationsRootPath = "/verifications"
var jobIdPathKey = "job_id"

var missingUserIdErr = common.ApiError{
	StatusCode: http.StatusBadRequest,
	Body: common.Body{
		Message: "There was no user id passed in the " + UserIdHeaderKey + " header.",
	},
}

type VerificationsRoutesHandler struct {
	AuthSettings *config.Auth
	Controller   verificationController.Controller
	Limiter      ratelimit.Checker
	GeneralClass ratelimit.Class
}

func (h *VerificationsRoutesHandler) RegisterRoutes(ginEngine *gin.Engine) {
	accounts := make(gin.Accounts)
	if h.AuthSettings != nil {
		for _, bAuthUser := range h.AuthSettings.BasicAuth {
			accounts[bAuthUser.Name] = bAuthUser.Password
		}
	}

	var routerGroup *gin.RouterGroup
	if len(accounts) > 0 {
		routerGroup = ginEngine.Group(verificationsRootPath, gin.BasicAuth(accounts))
	} else {
		routerGroup = ginEngine.Group(verificationsRootPath)
	}
	routerGroup.Use(RateLimit(h.Limiter, h.GeneralClass))

	routerGroup.POST("", h.submit)
	routerGroup.GET("/:"+jobIdPathKey, h.get)
}

// @Summary Submit a verification Job
// @ID submit-verification-job
// @Tags verifications
// @Description Submits a new verification Job; execution happens off the request path.
// @Accept  json
// @Produce  json
// @Param X-USER-ID header string true "User ID"
// @Param   newJob body verification.NewJob true "The request body"
// @Success 202 {object} verification.Job
// @Failure 400 {object} common.Body "Invalid JSON or missing user id"
// @Failure 429 {object} common.Body "Rate limit exhausted"
// @Router /verifications [post]
func (h *VerificationsRoutesHandler) submit(c *gin.Context) {
	userId, err := getUserIdOrErr(c)
	if err != nil {
		handleApiErr(c, err)
		return
	}
	var newJob verification.NewJob
	if err := c.ShouldBindJSON(&newJob); err != nil {
		handleJsonSerdesErr(c, err)
	} else {
		if j, err := h.Controller.Submit(c.Request.Context(), userId, &newJob); err == nil {
			c.JSON(http.StatusAccepted, j)
		} else {
			c.JSON(err.StatusCode, err.Body)
		}
	}
}

// @Summary Get a verification Job
// @ID get-verification-job
// @Tags verifications
// @Description Retrieves a verification Job by id. Pure read; never triggers execution.
// @Accept  json
// @Produce  json
// @Param   job_id path string true "The id of the Job"
// @Success 200 {object} verification.Job
// @Failure 404 {object} common.Body "Job does not exist"
// @Failure 429 {object} common.Body "Rate limit exhausted"
// @Router /verifications/{job_id} [get]
func (h *VerificationsRoutesHandler) get(c *gin.Context) {
	var jobId = domainVerification.Id(c.Param(jobIdPathKey))
	if j, err := h.Controller.Get(c.Request.Context(), jobId); err == nil {
		c.JSON(http.StatusOK, j)
	} else {
		c.JSON(err.StatusCode, err.Body)
	}
}

func getUserIdOrErr(c *gin.Context) (string, *common.ApiError) {
	userId := c.GetHeader(UserIdHeaderKey)
	if userId == "" {
		return "", &missingUserIdErr
	}
	return userId, nil
}
