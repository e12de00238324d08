// Package server provides the agent's admin HTTP server, built on Gin and
// served over HTTP/1.1 and h2c on one port.
//
// Server follows the component pattern: ServerComponent handles lifecycle,
// health and the startup route summary. Admin mounts the read-mostly API
// over a running discovery component.
//
// # Middleware
//
// Built-in middleware (server/middleware):
//
//   - Recovery: panic recovery with structured logging
//   - RequestID: request ID generation and propagation
//   - RequestLogger: request logging with duration, probes skipped
//   - RateLimit: per-client token bucket (golang.org/x/time/rate)
//
// # Endpoints
//
//   - /healthz, /readyz, /livez: probes (server/endpoint)
//   - /info, /version, /metrics: build and runtime information
//   - /v1/services, /v1/services/:name, /v1/services/:name/pick: cached view
//   - /v1/watches/:name: add or drop a watch at runtime
//   - /v1/registration: local registration record
//   - /v1/config: property sources of the config watcher
package server
