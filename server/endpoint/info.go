package endpoint

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/discoverykit/version"
)

var startTime = time.Now()

// ServiceInfo is the body of /info.
type ServiceInfo struct {
	Service string       `json:"service"`
	Build   version.Info `json:"build"`
	// UserAgent is what the agent sends to the registry.
	UserAgent string    `json:"user_agent"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
}

// Info reports the service name, build and uptime.
func Info(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		build := version.Get()
		c.JSON(http.StatusOK, ServiceInfo{
			Service:   serviceName,
			Build:     build,
			UserAgent: build.UserAgent("consul"),
			StartedAt: startTime.UTC(),
			Uptime:    time.Since(startTime).Truncate(time.Second).String(),
		})
	}
}
