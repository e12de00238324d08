// Package sse streams discovery and configuration changes to admin clients
// as Server-Sent Events.
//
// # Architecture
//
//   - Hub: routes published events to the clients whose topic filter matches
//   - Feed: forwards one source (reconciler, config watcher) into the hub
//   - Handler: the Gin handler serving GET /v1/events
//   - Component: runs the hub and its feeds under the component registry
//
// Topics are "service:<name>" and "config:<key>". A client filter matches a
// topic exactly, or by prefix when it ends with "*".
//
// # Usage
//
//	events := sse.NewComponent("/v1/events",
//		sse.DiscoveryFeed(disc.Reconciler, 0),
//	)
//	router.GET("/v1/events", sse.Handler(events.Hub(), 30*time.Second))
package sse
