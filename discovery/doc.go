// Package discovery keeps a local, always-readable view of a service
// registry and registers the local instance with it.
//
// # Architecture
//
//   - RegistryClient: the contract over the remote registry (Consul or static)
//   - InstanceCache: latest snapshot per service, readable without blocking
//   - Reconciler: one long-poll loop per watched service; the only cache writer
//   - Registrar: registers the local instance and keeps its TTL check alive
//   - Facade: resolves and picks instances using a Strategy
//   - Component: assembles the above and plugs into component.Registry
//
// Write path: Registrar -> RegistryClient -> registry.
// Read path: registry -> RegistryClient -> Reconciler -> InstanceCache -> Facade.
//
// # Backends
//
//   - discovery/consul: HashiCorp Consul HTTP API
//   - discovery/static: in-memory catalog for development and tests
package discovery
