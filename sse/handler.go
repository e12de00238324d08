package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kbukum/discoverykit/logger"
)

// ConnectedEvent is sent when a client successfully connects.
type ConnectedEvent struct {
	ClientID string `json:"client_id"`
	Filter   string `json:"filter"`
}

// Handler serves an event stream. The topic query parameter selects what
// the client receives, everything by default. keepAlive is the interval of
// comment lines keeping proxies from closing an idle stream.
func Handler(hub *Hub, keepAlive time.Duration) gin.HandlerFunc {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	return func(c *gin.Context) {
		filter := c.DefaultQuery("topic", "*")
		client := NewClient(uuid.NewString(), filter)
		log := hub.log.WithFields(logger.Fields("client_id", client.id))

		// Event streams are long-lived; the server's WriteTimeout must not
		// cut them.
		rc := http.NewResponseController(c.Writer)
		if err := rc.SetWriteDeadline(time.Time{}); err != nil {
			log.Debug("could not disable write deadline", logger.Fields(logger.FieldError, err.Error()))
		}

		if !hub.Register(client) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "event stream is shutting down"})
			return
		}
		defer hub.Unregister(client)

		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		if err := writeEvent(c.Writer, 0, EventTypeConnected, ConnectedEvent{ClientID: client.id, Filter: filter}); err != nil {
			return
		}
		c.Writer.Flush()
		log.Debug("client connected", logger.Fields("filter", filter, "remote_addr", c.Request.RemoteAddr))

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				log.Debug("client disconnected")
				return
			case ev, ok := <-client.Events():
				if !ok {
					return
				}
				if err := writeEvent(c.Writer, ev.ID, ev.Type, ev); err != nil {
					log.Debug("write failed", logger.Fields(logger.FieldError, err.Error()))
					return
				}
				c.Writer.Flush()
			case <-ticker.C:
				if _, err := fmt.Fprintf(c.Writer, ": keepalive %d\n\n", time.Now().Unix()); err != nil {
					return
				}
				c.Writer.Flush()
			}
		}
	}
}

func writeEvent(w io.Writer, id uint64, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	return err
}
