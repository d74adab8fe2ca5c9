package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"paylink.io/pkg/common"
	"paylink.io/pkg/logger"
	"paylink.io/pkg/metrics"
	"paylink.io/pkg/ratelimit"
)

const codeTooManyRequests = 429

// RateLimit rejects requests per client ip and route once the bucket is empty.
func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		if !store.Allow(c.ClientIP() + ":" + route) {
			// expected under load, no stack
			logger.Warn(c, "http rate limited", zap.String("ip", c.ClientIP()), zap.String("route", route))
			metrics.RateLimitBlockTotal.WithLabelValues(route).Inc()
			common.Fail(c, http.StatusTooManyRequests, codeTooManyRequests, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
