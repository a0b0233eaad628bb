package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// KeyFunc extracts the scope key for a request.
type KeyFunc func(c *gin.Context) string

// ClientIP scopes requests by client IP address.
func ClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// Middleware enforces policy per scope key. Store failures reject the request.
func Middleware(limiter *Limiter, policy Policy, keyFn KeyFunc, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := keyFn(c)
		d, err := limiter.CheckPolicy(c.Request.Context(), policy, scope)

		c.Header("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))

		if err != nil {
			log.WithContext(c.Request.Context()).StoreError("rate_limit", scope, err)
			abort(c, d, "rate limiter unavailable")
			return
		}
		if !d.Allowed {
			log.RateLimitExceeded(scope, policy.Name, d.Count)
			abort(c, d, "rate limit exceeded")
			return
		}

		c.Next()
	}
}

func abort(c *gin.Context, d Decision, message string) {
	if d.RetryAfter > 0 {
		seconds := int64(math.Ceil(d.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.FormatInt(seconds, 10))
	}
	httpkit.Abort(c, http.StatusTooManyRequests, "RATE_LIMITED", message)
}
