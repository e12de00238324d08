// Package configwatch follows configuration stored in a key-value store
// (the Consul KV store in production) and publishes RefreshEvents when the
// effective properties change.
//
// For a service "billing" with active profile "dev" and the default path,
// the watched keys are, in increasing precedence:
//
//	config/application
//	config/billing
//	config/application,dev
//	config/billing,dev
//
// In the native format every child key (config/billing/timeout) is one
// property named after its last path segment. In the yaml format the key
// itself holds a YAML document whose nested mappings are flattened to
// dotted property names.
package configwatch
