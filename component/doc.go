// Package component defines the lifecycle contract shared by the
// long-running parts of a discoverykit agent: the discovery engine, the
// config watcher and the admin HTTP server.
//
// Components are registered with a Registry, started in registration order
// and stopped in reverse order. Components may also implement Describable
// to appear in the bootstrap summary, and RouteProvider to report HTTP
// routes.
package component
