package observability

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, key attribute.Key, value string) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: expected Sum[int64], got %T", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(key); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestDiscoveryMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewDiscoveryMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewDiscoveryMetrics: %v", err)
	}

	ctx := context.Background()
	m.RecordPoll(ctx, "payments", "updated", 10*time.Millisecond)
	m.RecordPoll(ctx, "payments", "unchanged", 30*time.Second)
	m.RecordPoll(ctx, "payments", "unchanged", 30*time.Second)
	m.RecordChanges(ctx, "payments", 2, 0, 1)
	m.RecordRegistration(ctx, "registering", "registered")
	m.RecordHeartbeat(ctx, false)
	m.RecordInstances(ctx, "payments", 3, 2)

	metrics := collect(t, reader)

	polls, ok := metrics["discovery.poll.total"]
	if !ok {
		t.Fatal("missing discovery.poll.total")
	}
	if got := sumFor(t, polls, "outcome", "unchanged"); got != 2 {
		t.Errorf("expected 2 unchanged polls, got %d", got)
	}

	changes := metrics["discovery.change.total"]
	if got := sumFor(t, changes, "kind", "added"); got != 2 {
		t.Errorf("expected 2 added, got %d", got)
	}
	if got := sumFor(t, changes, "kind", "removed"); got != 0 {
		t.Errorf("expected no removed data points, got %d", got)
	}

	if got := sumFor(t, metrics["discovery.heartbeat.total"], "result", "failed"); got != 1 {
		t.Errorf("expected 1 failed heartbeat, got %d", got)
	}

	gauge, ok := metrics["discovery.instances"].Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("expected Gauge[int64], got %T", metrics["discovery.instances"].Data)
	}
	if len(gauge.DataPoints) != 2 {
		t.Errorf("expected 2 gauge points, got %d", len(gauge.DataPoints))
	}
}

func TestNopMetrics(t *testing.T) {
	m := NopMetrics()
	m.RecordPoll(context.Background(), "x", "failed", time.Second)
	m.RecordChanges(context.Background(), "x", 1, 1, 1)
}
