package configwatch

import (
	"context"
	"fmt"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/logger"
)

// Component runs a Watcher under the component registry.
type Component struct {
	watcher *Watcher
	cfg     Config
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent creates a config watch component for serviceName.
func NewComponent(source Source, cfg Config, serviceName string, log *logger.Logger) *Component {
	cfg.ApplyDefaults()
	return &Component{
		watcher: NewWatcher(source, cfg, serviceName, log),
		cfg:     cfg,
	}
}

// Watcher returns the underlying watcher.
func (c *Component) Watcher() *Watcher { return c.watcher }

// Name returns the component name.
func (c *Component) Name() string { return "configwatch" }

// Start validates the configuration and starts the watcher. A disabled
// component does nothing.
func (c *Component) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("configwatch config: %w", err)
	}
	return c.watcher.Start(ctx)
}

// Stop stops the watcher.
func (c *Component) Stop(ctx context.Context) error {
	return c.watcher.Stop(ctx)
}

// Health reports how many keys have been read at least once.
func (c *Component) Health(_ context.Context) component.Health {
	h := component.Health{Name: c.Name(), Status: component.StatusHealthy}
	if !c.cfg.Enabled {
		h.Message = "disabled"
		return h
	}
	loaded := len(c.watcher.PropertySources())
	h.Message = fmt.Sprintf("%d/%d keys loaded", loaded, len(c.watcher.Keys()))
	return h
}

// Describe returns infrastructure summary info for the bootstrap display.
func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Config Watch",
		Type:    "configwatch",
		Details: fmt.Sprintf("path=%s format=%s keys=%d", c.cfg.Path, c.cfg.Format, len(c.watcher.Keys())),
	}
}
