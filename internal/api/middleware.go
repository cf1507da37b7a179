package api

import (
	"time"

	"github.com/bhandras/immersive/pkg/logger"
	"github.com/gin-gonic/gin"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		status := c.Writer.Status()
		latency := time.Since(start)

		// The event stream and scrapes would drown everything else out.
		if path == "/metrics" || path == "/v1/events" {
			logger.Tracef("[api] [%s] %s - %d (%v)", c.Request.Method, path, status, latency)
			return
		}
		if status >= 500 {
			logger.Warnf("[api] [%s] %s - %d (%v)", c.Request.Method, path, status, latency)
			return
		}
		logger.Debugf("[api] [%s] %s - %d (%v)", c.Request.Method, path, status, latency)
	}
}
