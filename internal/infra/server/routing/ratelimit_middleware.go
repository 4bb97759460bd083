package routing

import (
	"fmt"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/datalode/ledgersync/internal/api/models/common"
	"github.com/datalode/ledgersync/internal/domain/ratelimit"
)

// UserIdHeaderKey carries the end-user principal asserted by the HTTP
// front door. Quota is tracked against it; requests without it are
// bucketed by client address.
var UserIdHeaderKey = "X-USER-ID"

// RateLimit returns gin middleware that bounds demand per principal under
// the given class. A rejected request is answered with a 429 and a
// Retry-After header before the handler ever runs.
func RateLimit(checker ratelimit.Checker, class ratelimit.Class) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := ratelimit.Principal(c.GetHeader(UserIdHeaderKey))
		if principal == "" {
			principal = ratelimit.Principal(c.ClientIP())
		}
		if err := checker.Check(c.Request.Context(), principal, class); err != nil {
			if limited, ok := err.(ratelimit.RateLimited); ok {
				retryAfterSecs := int64(math.Ceil(limited.RetryAfter.Seconds()))
				apiErr := common.ApiError{
					StatusCode: http.StatusTooManyRequests,
					Headers: common.Headers{
						"Retry-After": fmt.Sprintf("%d", retryAfterSecs),
					},
					Body: common.Body{
						Message: limited.Error(),
					},
				}
				handleApiErr(c, &apiErr)
			} else {
				apiErr := common.ApiError{
					StatusCode: http.StatusInternalServerError,
					Body: common.Body{
						Message: err.Error(),
					},
				}
				handleApiErr(c, &apiErr)
			}
			c.Abort()
			return
		}
		c.Next()
	}
}
