// Package resilience provides the retry and backoff primitives used by the
// registrar and the reconciler.
//
//   - Backoff: stateful exponential backoff with jitter, capped, reset on success
//   - Retry: bounded retry loop built on the same backoff curve
//
// All waits honour context cancellation so shutdown never stalls on a sleep.
package resilience
