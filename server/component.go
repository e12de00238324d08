package server

import (
	"context"
	"fmt"

	"github.com/kbukum/discoverykit/component"
)

const componentName = "admin-server"

var (
	_ component.Component     = (*ServerComponent)(nil)
	_ component.Describable   = (*ServerComponent)(nil)
	_ component.RouteProvider = (*ServerComponent)(nil)
)

// ServerComponent wraps Server to implement component.Component.
type ServerComponent struct {
	server *Server
}

// NewComponent returns a component.Component backed by the given Server.
func NewComponent(s *Server) *ServerComponent {
	return &ServerComponent{server: s}
}

// Name returns the component name used for registration.
func (sc *ServerComponent) Name() string { return componentName }

// Start binds the port and starts serving.
func (sc *ServerComponent) Start(ctx context.Context) error {
	return sc.server.Start(ctx)
}

// Stop gracefully shuts down the underlying HTTP server.
func (sc *ServerComponent) Stop(ctx context.Context) error {
	return sc.server.Stop(ctx)
}

// Health reports unhealthy until the listener is bound.
func (sc *ServerComponent) Health(ctx context.Context) component.Health {
	if sc.server.started() {
		return component.Health{
			Name:   componentName,
			Status: component.StatusHealthy,
		}
	}
	return component.Health{
		Name:    componentName,
		Status:  component.StatusUnhealthy,
		Message: "admin server not listening",
	}
}

// Describe returns infrastructure summary info for the bootstrap display.
func (sc *ServerComponent) Describe() component.Description {
	cfg := sc.server.config
	return component.Description{
		Name:    "Admin API",
		Type:    "server",
		Details: fmt.Sprintf("%s://%s:%d", sc.server.Scheme(), cfg.Host, cfg.Port),
		Port:    cfg.Port,
	}
}

// Routes returns all registered HTTP routes for the startup summary.
func (sc *ServerComponent) Routes() []component.Route {
	ginRoutes := sortedRoutes(sc.server.engine.Routes())
	routes := make([]component.Route, 0, len(ginRoutes))
	for _, r := range ginRoutes {
		handler := formatHandlerName(r.Handler)
		if systemPaths[r.Path] {
			handler += " (system)"
		}
		routes = append(routes, component.Route{
			Method:  r.Method,
			Path:    r.Path,
			Handler: handler,
		})
	}
	return routes
}
