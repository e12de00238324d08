package sse

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/logger"
)

// Component runs a Hub and its feeds as a lifecycle-managed component.
type Component struct {
	hub   *Hub
	path  string
	feeds []Feed

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent creates an event stream component served at path.
func NewComponent(path string, log *logger.Logger, feeds ...Feed) *Component {
	return &Component{
		hub:   NewHub(log),
		path:  path,
		feeds: feeds,
	}
}

// Hub returns the underlying Hub.
func (c *Component) Hub() *Hub { return c.hub }

// Name returns the component name.
func (c *Component) Name() string { return "events" }

// Start launches the hub loop and one goroutine per feed.
func (c *Component) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	c.started = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.hub.Run()
	}()
	for _, feed := range c.feeds {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			feed(ctx, c.hub)
		}()
	}
	return nil
}

// Stop ends the feeds, closes every client and waits for the goroutines.
func (c *Component) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	c.cancel()
	c.mu.Unlock()

	c.hub.Stop()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("events: shutdown: %w", ctx.Err())
	}
}

// Health reports the number of connected clients.
func (c *Component) Health(_ context.Context) component.Health {
	return component.Health{
		Name:    c.Name(),
		Status:  component.StatusHealthy,
		Message: fmt.Sprintf("%d clients connected", c.hub.ClientCount()),
	}
}

// Describe returns infrastructure summary info for the bootstrap display.
func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Event Stream",
		Type:    "sse",
		Details: fmt.Sprintf("path=%s feeds=%d", c.path, len(c.feeds)),
	}
}
