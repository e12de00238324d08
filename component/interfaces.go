package component

import "context"

// HealthStatus is the health of one component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	// StatusDegraded means the component works with reduced guarantees,
	// e.g. a cold cache or a pending registration.
	StatusDegraded HealthStatus = "degraded"
)

// Health is what /healthz reports per component.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Component is a lifecycle-managed part of the agent: the discovery loops,
// the config watcher, the event stream, the admin server.
type Component interface {
	// Name is unique within a Registry.
	Name() string
	Start(ctx context.Context) error
	// Stop must return once ctx is done even if work is still draining.
	Stop(ctx context.Context) error
	Health(ctx context.Context) Health
}

// Description is one line of the startup summary.
type Description struct {
	// Name overrides Component.Name in the summary.
	Name string
	// Type is a short category: "discovery", "server", "config", "sse".
	Type string
	// Details is free text, e.g. "provider=consul watching=3".
	Details string
	Port    int
}

// Describable components contribute a line to the startup summary.
type Describable interface {
	Describe() Description
}

// Route is an HTTP route listed in the startup summary.
type Route struct {
	Method  string
	Path    string
	Handler string
}

// RouteProvider is implemented by components that serve HTTP.
type RouteProvider interface {
	Routes() []Route
}
