package middlewares

import (
	"strconv"
	"time"

	"github.com/3Eeeecho/go-dropshare/internal/metrics"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/ratelimit"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/utils"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
)

// RateLimit 按客户端IP做固定窗口限流，scope 区分不同的限额 (upload / api)
func RateLimit(l *ratelimit.Limiter, scope string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := l.Check(scope+":"+utils.ClientIP(c), limit, window)

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", res.ResetAt.UTC().Format(time.RFC3339))

		if !res.Allowed {
			metrics.RateLimitDeniedTotal.WithLabelValues(scope).Inc()
			xerr.Respond(c, &xerr.RateLimitError{RetryAfter: res.RetryAfter})
			return
		}
		c.Next()
	}
}
