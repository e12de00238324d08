package component

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// mockComponent implements Component for testing.
type mockComponent struct {
	name       string
	startErr   error
	stopErr    error
	health     Health
	startOrder *[]string
	stopOrder  *[]string
}

func (m *mockComponent) Name() string { return m.name }
func (m *mockComponent) Start(ctx context.Context) error {
	if m.startOrder != nil {
		*m.startOrder = append(*m.startOrder, m.name)
	}
	return m.startErr
}
func (m *mockComponent) Stop(ctx context.Context) error {
	if m.stopOrder != nil {
		*m.stopOrder = append(*m.stopOrder, m.name)
	}
	return m.stopErr
}
func (m *mockComponent) Health(ctx context.Context) Health {
	return m.health
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("expected non-nil registry")
	}
}

func TestRegister(t *testing.T) {
	r := NewRegistry()
	c := &mockComponent{name: "discovery", health: Health{Name: "discovery", Status: StatusHealthy}}

	if err := r.Register(c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	c := &mockComponent{name: "discovery"}
	r.Register(c)

	err := r.Register(&mockComponent{name: "discovery"})
	if err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestGet(t *testing.T) {
	r := NewRegistry()
	c := &mockComponent{name: "discovery"}
	r.Register(c)

	got := r.Get("discovery")
	if got == nil {
		t.Fatal("expected to get registered component")
	}
	if got.Name() != "discovery" {
		t.Errorf("expected 'discovery', got %q", got.Name())
	}
}

func TestGetNotFound(t *testing.T) {
	r := NewRegistry()
	got := r.Get("missing")
	if got != nil {
		t.Error("expected nil for unregistered component")
	}
}

func TestStartAll(t *testing.T) {
	r := NewRegistry()
	order := []string{}

	r.Register(&mockComponent{
		name: "discovery", startOrder: &order,
		health: Health{Name: "discovery", Status: StatusHealthy},
	})
	r.Register(&mockComponent{
		name: "configwatch", startOrder: &order,
		health: Health{Name: "configwatch", Status: StatusHealthy},
	})

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}

	if len(order) != 2 {
		t.Fatalf("expected 2 starts, got %d", len(order))
	}
	if order[0] != "discovery" || order[1] != "configwatch" {
		t.Errorf("expected start order [discovery, configwatch], got %v", order)
	}
}

func TestStartAllError(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockComponent{name: "discovery", startErr: fmt.Errorf("registry unreachable")})

	err := r.StartAll(context.Background())
	if err == nil {
		t.Error("expected error from StartAll")
	}
}

func TestStopAllReverseOrder(t *testing.T) {
	r := NewRegistry()
	order := []string{}

	r.Register(&mockComponent{name: "discovery", stopOrder: &order, health: Health{Name: "discovery", Status: StatusHealthy}})
	r.Register(&mockComponent{name: "configwatch", stopOrder: &order, health: Health{Name: "configwatch", Status: StatusHealthy}})
	r.Register(&mockComponent{name: "admin", stopOrder: &order, health: Health{Name: "admin", Status: StatusHealthy}})

	r.StartAll(context.Background())
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}

	if len(order) != 3 {
		t.Fatalf("expected 3 stops, got %d", len(order))
	}
	if order[0] != "admin" || order[1] != "configwatch" || order[2] != "discovery" {
		t.Errorf("expected reverse stop order [admin, configwatch, discovery], got %v", order)
	}
}

func TestStopAllSkipsUnstarted(t *testing.T) {
	r := NewRegistry()
	order := []string{}
	r.Register(&mockComponent{name: "discovery", stopOrder: &order})

	// Don't start, then stop
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	if len(order) != 0 {
		t.Errorf("expected 0 stops for unstarted components, got %d", len(order))
	}
}

func TestStopAllWithErrors(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockComponent{
		name: "discovery", stopErr: fmt.Errorf("stop failed"),
		health: Health{Name: "discovery", Status: StatusHealthy},
	})
	r.StartAll(context.Background())

	err := r.StopAll(context.Background())
	if err == nil {
		t.Error("expected error from StopAll")
	}
}

func TestHealthAll(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockComponent{
		name:   "discovery",
		health: Health{Name: "discovery", Status: StatusHealthy, Message: "3 services warm"},
	})
	r.Register(&mockComponent{
		name:   "configwatch",
		health: Health{Name: "configwatch", Status: StatusUnhealthy, Message: "timeout"},
	})

	results := r.HealthAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status != StatusHealthy {
		t.Errorf("expected discovery healthy, got %s", results[0].Status)
	}
	if results[1].Status != StatusUnhealthy {
		t.Errorf("expected configwatch unhealthy, got %s", results[1].Status)
	}
}

func TestHealthStatusConstants(t *testing.T) {
	if StatusHealthy != "healthy" {
		t.Errorf("expected 'healthy', got %q", StatusHealthy)
	}
	if StatusUnhealthy != "unhealthy" {
		t.Errorf("expected 'unhealthy', got %q", StatusUnhealthy)
	}
	if StatusDegraded != "degraded" {
		t.Errorf("expected 'degraded', got %q", StatusDegraded)
	}
}

func TestStartAllFailureKeepsStartedForStop(t *testing.T) {
	r := NewRegistry()
	stops := []string{}
	r.Register(&mockComponent{name: "discovery", stopOrder: &stops})
	r.Register(&mockComponent{name: "server", startErr: fmt.Errorf("address in use"), stopOrder: &stops})

	if err := r.StartAll(context.Background()); err == nil {
		t.Fatal("expected error from StartAll")
	}
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	if len(stops) != 1 || stops[0] != "discovery" {
		t.Errorf("expected only [discovery] stopped, got %v", stops)
	}
}

type slowStopComponent struct {
	mockComponent
	deadline time.Duration
}

func (s *slowStopComponent) Stop(ctx context.Context) error {
	d, ok := ctx.Deadline()
	if ok {
		s.deadline = time.Until(d)
	}
	return nil
}

func TestSetStopTimeout(t *testing.T) {
	r := NewRegistry()
	r.SetStopTimeout(time.Second)
	r.SetStopTimeout(0)
	c := &slowStopComponent{mockComponent: mockComponent{name: "discovery"}}
	r.Register(c)
	r.StartAll(context.Background())
	r.StopAll(context.Background())

	if c.deadline <= 0 || c.deadline > time.Second {
		t.Errorf("expected stop deadline within 1s, got %v", c.deadline)
	}
}

func TestOverall(t *testing.T) {
	tests := []struct {
		name     string
		healths  []Health
		expected HealthStatus
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Health{{Status: StatusHealthy}, {Status: StatusHealthy}}, StatusHealthy},
		{"degraded", []Health{{Status: StatusHealthy}, {Status: StatusDegraded}}, StatusDegraded},
		{"unhealthy wins", []Health{{Status: StatusDegraded}, {Status: StatusUnhealthy}}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overall(tt.healths); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}
