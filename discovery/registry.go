package discovery

import (
	"context"
	"time"
)

// Ack confirms a write accepted by the registry.
type Ack struct {
	InstanceID string
	At         time.Time
}

// RegistrationOptions controls the health check attached to a registration.
type RegistrationOptions struct {
	// CheckID names the TTL check the registrar heartbeats.
	CheckID string
	// CheckTTL is how long the registry waits for a heartbeat before marking
	// the instance critical.
	CheckTTL time.Duration
	// DeregisterAfter lets the registry reap an instance left critical this long.
	DeregisterAfter time.Duration
}

// RegistryClient is the contract over the remote coordination service.
// Implementations must be safe for concurrent use: the registrar and every
// reconciler loop share one client.
//
// Errors are *errors.AppError values with codes UNREACHABLE, TIMEOUT,
// SERVER_ERROR or INVALID_RESPONSE; context cancellation is returned as is.
type RegistryClient interface {
	// Register adds or replaces the instance in the registry.
	Register(ctx context.Context, instance ServiceInstance, opts RegistrationOptions) (Ack, error)

	// Deregister removes the instance. Unknown IDs are not an error.
	Deregister(ctx context.Context, instanceID string) (Ack, error)

	// Heartbeat pushes the status of a TTL check.
	Heartbeat(ctx context.Context, checkID string, status HealthStatus, note string) error

	// FetchCatalog performs a blocking query. It returns as soon as the
	// registry index moves past waitIndex, or the unchanged snapshot once
	// waitTime elapses. A waitIndex of 0 returns immediately.
	FetchCatalog(ctx context.Context, serviceName string, waitIndex uint64, waitTime time.Duration) (CatalogSnapshot, error)
}

// CheckIDFor returns the TTL check ID used for an instance.
func CheckIDFor(instanceID string) string {
	return "service:" + instanceID
}
