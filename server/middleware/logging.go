package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/discoverykit/logger"
)

var probePaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/livez":   true,
	"/metrics": true,
}

// RequestLogger logs every request with method, path, status and duration.
// Probe paths are skipped.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if probePaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		fields := logger.Fields(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			logger.FieldDuration, latency.Milliseconds(),
			"client", c.ClientIP(),
		)
		if id, ok := c.Get("request_id"); ok {
			fields["request_id"] = id
		}
		if latency > 500*time.Millisecond {
			fields["slow"] = true
		}

		switch {
		case status >= 500:
			log.Error("Request completed", fields)
		case status >= 400:
			log.Warn("Request completed", fields)
		default:
			log.Debug("Request completed", fields)
		}
	}
}
