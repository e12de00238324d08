package endpoint

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ReadyFunc reports whether the service can take traffic.
type ReadyFunc func() bool

// Readiness returns a handler for K8s readiness probes. A nil ready func
// always reports ready.
func Readiness(serviceName string, ready ReadyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ready"
		httpStatus := http.StatusOK
		if ready != nil && !ready() {
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		}

		c.JSON(httpStatus, gin.H{
			"status":    status,
			"service":   serviceName,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
