// Package observability exports the agent's traces and metrics over
// OTLP/HTTP and defines the discovery instruments.
//
// The bootstrap package installs the providers when observability is
// enabled:
//
//	tp, err := observability.InitTracer(ctx, cfg.Observability.Tracer(name, version, env))
//	mp, err := observability.InitMeter(ctx, cfg.Observability.Meter(name, version, env))
//
// Instruments are created against the global meter, so they are safe to
// build before the providers exist:
//
//	m, err := observability.NewDiscoveryMetrics(observability.Meter("discoverykit/discovery"))
//
// Components accept a nil *DiscoveryMetrics and fall back to NopMetrics.
package observability
