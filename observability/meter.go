package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/discoverykit/logger"
)

// MeterConfig configures OTLP metric export. Config.Meter derives it from
// the agent configuration.
type MeterConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the collector host:port, e.g. "localhost:4318".
	Endpoint string
	Insecure bool
	// Interval is the export period. Zero keeps the SDK default.
	Interval time.Duration
}

// InitMeter installs a periodic OTLP/HTTP meter provider as the global
// provider. The caller shuts it down after the components stop.
func InitMeter(ctx context.Context, config MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// DiscoveryMetrics holds the instruments recorded by the reconciler and the registrar.
type DiscoveryMetrics struct {
	pollTotal         metric.Int64Counter
	changeTotal       metric.Int64Counter
	instances         metric.Int64Gauge
	registrationTotal metric.Int64Counter
	heartbeatTotal    metric.Int64Counter
	fetchDuration     metric.Float64Histogram
}

// NewDiscoveryMetrics creates the discovery instruments on the given meter.
func NewDiscoveryMetrics(meter metric.Meter) (*DiscoveryMetrics, error) {
	pollTotal, err := meter.Int64Counter("discovery.poll.total",
		metric.WithDescription("Catalog polls by service and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating discovery.poll.total counter: %w", err)
	}

	changeTotal, err := meter.Int64Counter("discovery.change.total",
		metric.WithDescription("Instance changes published to the cache by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating discovery.change.total counter: %w", err)
	}

	instances, err := meter.Int64Gauge("discovery.instances",
		metric.WithDescription("Cached instances per service and health"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating discovery.instances gauge: %w", err)
	}

	registrationTotal, err := meter.Int64Counter("discovery.registration.transitions",
		metric.WithDescription("Registration state transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating discovery.registration.transitions counter: %w", err)
	}

	heartbeatTotal, err := meter.Int64Counter("discovery.heartbeat.total",
		metric.WithDescription("Heartbeats pushed by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating discovery.heartbeat.total counter: %w", err)
	}

	fetchDuration, err := meter.Float64Histogram("discovery.fetch.duration",
		metric.WithDescription("Duration of catalog fetches in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating discovery.fetch.duration histogram: %w", err)
	}

	return &DiscoveryMetrics{
		pollTotal:         pollTotal,
		changeTotal:       changeTotal,
		instances:         instances,
		registrationTotal: registrationTotal,
		heartbeatTotal:    heartbeatTotal,
		fetchDuration:     fetchDuration,
	}, nil
}

// NopMetrics returns instruments backed by the no-op meter.
func NopMetrics() *DiscoveryMetrics {
	m, err := NewDiscoveryMetrics(noop.NewMeterProvider().Meter("discoverykit"))
	if err != nil {
		// the no-op meter never fails
		panic(err)
	}
	return m
}

// RecordPoll records the outcome of one catalog poll.
func (m *DiscoveryMetrics) RecordPoll(ctx context.Context, service, outcome string, duration time.Duration) {
	m.pollTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("outcome", outcome),
	))
	m.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("service", service),
	))
}

// RecordChanges records the size of a published diff.
func (m *DiscoveryMetrics) RecordChanges(ctx context.Context, service string, added, removed, changed int) {
	for kind, n := range map[string]int{"added": added, "removed": removed, "changed": changed} {
		if n == 0 {
			continue
		}
		m.changeTotal.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("service", service),
			attribute.String("kind", kind),
		))
	}
}

// RecordInstances records how many instances of a service are cached.
func (m *DiscoveryMetrics) RecordInstances(ctx context.Context, service string, total, passing int) {
	m.instances.Record(ctx, int64(total), metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("health", "any"),
	))
	m.instances.Record(ctx, int64(passing), metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("health", "passing"),
	))
}

// RecordRegistration records a registration state transition.
func (m *DiscoveryMetrics) RecordRegistration(ctx context.Context, from, to string) {
	m.registrationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordHeartbeat records a heartbeat push.
func (m *DiscoveryMetrics) RecordHeartbeat(ctx context.Context, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.heartbeatTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
