package endpoint

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// StatsFunc contributes application counters to the metrics payload.
type StatsFunc func() map[string]any

// Metrics returns a handler that reports runtime memory and goroutine
// metrics, plus whatever stats reports under "app".
func Metrics(stats StatsFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		body := gin.H{
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"goroutines": runtime.NumGoroutine(),
			"memory": gin.H{
				"alloc_mb":       m.Alloc / 1024 / 1024,
				"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
				"sys_mb":         m.Sys / 1024 / 1024,
				"gc_runs":        m.NumGC,
			},
		}
		if stats != nil {
			body["app"] = stats()
		}
		c.JSON(http.StatusOK, body)
	}
}
