package routing

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/datalode/ledgersync/internal/api/models/common"
)

var notFoundErr = common.ApiError{
	StatusCode: http.StatusNotFound,
	Body: common.Body{
		Message: "No such route.",
	},
}

var noMethodErr = common.ApiError{
	StatusCode: http.StatusMethodNotAllowed,
	Body: common.Body{
		Message: "No such route.",
	},
}

func NoRoute(c *gin.Context) {
	c.JSON(notFoundErr.StatusCode, notFoundErr.Body)
}

func NoMethod(c *gin.Context) {
	c.JSON(notFoundErr.StatusCode, noMethodErr.Body)
}

func handleApiErr(c *gin.Context, apiError *common.ApiError) {
	for key, value := range apiError.Headers {
		c.Header(key, value)
	}
	c.JSON(apiError.StatusCode, apiError.Body)
}

func handleJsonSerdesErr(c *gin.Context, err error) {
	errResp := common.ApiError{
		StatusCode: http.StatusBadRequest,
		Body: common.Body{
			Message: err.Error(),
		},
	}
	handleApiErr(c, &errResp)
}
