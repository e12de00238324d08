package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/config"
	"github.com/kbukum/discoverykit/logger"
)

type testConfig struct {
	config.ServiceConfig
}

type mockComponent struct {
	name     string
	startErr error
	stopErr  error
	health   component.Health
	desc     *component.Description
	routes   []component.Route

	mu      sync.Mutex
	started bool
	stopped bool
}

func (m *mockComponent) Name() string { return m.name }

func (m *mockComponent) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return m.startErr
}

func (m *mockComponent) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return m.stopErr
}

func (m *mockComponent) Health(ctx context.Context) component.Health {
	h := m.health
	h.Name = m.name
	return h
}

func (m *mockComponent) wasStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

type describedComponent struct{ *mockComponent }

func (d describedComponent) Describe() component.Description { return *d.desc }
func (d describedComponent) Routes() []component.Route      { return d.routes }

func healthy(name string) *mockComponent {
	return &mockComponent{name: name, health: component.Health{Status: component.StatusHealthy}}
}

func newTestConfig(name, version string) *testConfig {
	return &testConfig{
		ServiceConfig: config.ServiceConfig{
			Name:        name,
			Version:     version,
			Environment: "development",
		},
	}
}

func newTestApp(t *testing.T, opts ...Option) *App[*testConfig] {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Nop()), WithGracefulTimeout(2 * time.Second)}, opts...)
	app, err := NewApp(newTestConfig("discovery-agent", "1.0.0"), opts...)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	app.Summary.SetOutput(nil)
	return app
}

func TestNewApp(t *testing.T) {
	app, err := NewApp(newTestConfig("discovery-agent", "1.0.0"))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	if app.Name != "discovery-agent" {
		t.Errorf("expected name 'discovery-agent', got %q", app.Name)
	}
	if app.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %q", app.Version)
	}
	if app.Components == nil || app.Logger == nil || app.Summary == nil {
		t.Error("expected registry, logger and summary to be set")
	}
	if app.Cfg.Logging.Level != "debug" {
		t.Errorf("expected development defaults applied, got level %q", app.Cfg.Logging.Level)
	}
	if logger.GetGlobalLogger() != app.Logger {
		t.Error("expected app logger to become the global logger")
	}
	if app.gracefulTimeout != 15*time.Second {
		t.Errorf("expected default graceful timeout 15s, got %v", app.gracefulTimeout)
	}
}

func TestNewApp_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  *testConfig
	}{
		{"missing name", newTestConfig("", "1.0.0")},
		{"bad environment", &testConfig{ServiceConfig: config.ServiceConfig{Name: "a", Environment: "qa"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewApp(tc.cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNewApp_Options(t *testing.T) {
	custom := logger.Nop()
	app := newTestApp(t, WithLogger(custom), WithGracefulTimeout(3*time.Second))
	if app.Logger != custom {
		t.Error("expected custom logger")
	}
	if app.gracefulTimeout != 3*time.Second {
		t.Errorf("expected 3s, got %v", app.gracefulTimeout)
	}
}

func TestRegisterComponent_Duplicate(t *testing.T) {
	app := newTestApp(t)
	if err := app.RegisterComponent(healthy("discovery")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := app.RegisterComponent(healthy("discovery")); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestReadyCheck(t *testing.T) {
	tests := []struct {
		name    string
		status  component.HealthStatus
		wantErr bool
	}{
		{"healthy", component.StatusHealthy, false},
		{"degraded", component.StatusDegraded, true},
		{"unhealthy", component.StatusUnhealthy, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(t)
			app.RegisterComponent(&mockComponent{name: "discovery", health: component.Health{Status: tc.status, Message: "cold"}})
			err := app.ReadyCheck(context.Background())
			if (err != nil) != tc.wantErr {
				t.Errorf("expected error=%v, got %v", tc.wantErr, err)
			}
			if err != nil && !strings.Contains(err.Error(), "discovery="+string(tc.status)+"(cold)") {
				t.Errorf("expected component detail in error, got %v", err)
			}
		})
	}
}

func TestReadyCheck_Empty(t *testing.T) {
	if err := newTestApp(t).ReadyCheck(context.Background()); err != nil {
		t.Errorf("expected no error for empty registry, got %v", err)
	}
}

func TestRunTask_Lifecycle(t *testing.T) {
	app := newTestApp(t)
	comp := healthy("discovery")
	app.RegisterComponent(comp)

	var order []string
	app.OnStart(func(context.Context) error { order = append(order, "start"); return nil })
	app.OnConfigure(func(_ context.Context, a *App[*testConfig]) error {
		if a != app {
			t.Error("expected configure to receive the app")
		}
		order = append(order, "configure")
		return nil
	})
	app.OnReady(func(context.Context) error { order = append(order, "ready"); return nil })
	app.OnStop(func(context.Context) error { order = append(order, "stop"); return nil })

	err := app.RunTask(context.Background(), func(ctx context.Context) error {
		order = append(order, "task")
		return nil
	})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}

	want := "start,configure,ready,task,stop"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("expected order %s, got %s", want, got)
	}
	if !comp.started || !comp.wasStopped() {
		t.Error("expected component started and stopped")
	}
}

func TestRunTask_TaskError(t *testing.T) {
	app := newTestApp(t)
	boom := errors.New("not ready")
	if err := app.RunTask(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("expected task error, got %v", err)
	}
}

func TestRunTask_TaskErrorWinsOverStopError(t *testing.T) {
	app := newTestApp(t)
	app.RegisterComponent(&mockComponent{name: "discovery", stopErr: errors.New("stop failed")})
	boom := errors.New("task failed")
	if err := app.RunTask(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("expected task error, got %v", err)
	}
}

func TestRunTask_StopError(t *testing.T) {
	app := newTestApp(t)
	app.RegisterComponent(&mockComponent{name: "discovery", stopErr: errors.New("stop failed")})
	if err := app.RunTask(context.Background(), func(context.Context) error { return nil }); err == nil {
		t.Error("expected stop error")
	}
}

func TestRunTask_ContextCancellation(t *testing.T) {
	app := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := app.RunTask(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRunTask_StartupFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		setup func(app *App[*testConfig])
		want  string
	}{
		{"component start", func(app *App[*testConfig]) {
			app.RegisterComponent(&mockComponent{name: "consul", startErr: boom})
		}, "initialization failed"},
		{"start hook", func(app *App[*testConfig]) {
			app.OnStart(func(context.Context) error { return boom })
		}, "onStart hook failed"},
		{"configure", func(app *App[*testConfig]) {
			app.OnConfigure(func(context.Context, *App[*testConfig]) error { return boom })
		}, "configuration failed"},
		{"ready hook", func(app *App[*testConfig]) {
			app.OnReady(func(context.Context) error { return boom })
		}, "onReady hook failed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(t)
			tc.setup(app)
			taskRan := false
			err := app.RunTask(context.Background(), func(context.Context) error {
				taskRan = true
				return nil
			})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q error, got %v", tc.want, err)
			}
			if !errors.Is(err, boom) {
				t.Errorf("expected wrapped cause, got %v", err)
			}
			if taskRan {
				t.Error("expected task not to run")
			}
		})
	}
}

func TestRunTask_FailedStartupStopsStartedComponents(t *testing.T) {
	app := newTestApp(t)
	first := healthy("discovery")
	app.RegisterComponent(first)
	app.RegisterComponent(&mockComponent{name: "admin-server", startErr: errors.New("port in use")})

	if err := app.RunTask(context.Background(), func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected startup error")
	}
	if !first.wasStopped() {
		t.Error("expected the started component to be stopped")
	}
}

func TestRunHooks_StopsAtFirstError(t *testing.T) {
	calls := 0
	err := runHooks(context.Background(), []Hook{
		func(context.Context) error { calls++; return nil },
		func(context.Context) error { calls++; return errors.New("fail") },
		func(context.Context) error { calls++; return nil },
	})
	if err == nil || !strings.Contains(err.Error(), "hook 1") {
		t.Errorf("expected hook 1 error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 hooks to run, got %d", calls)
	}
}

func TestShutdown(t *testing.T) {
	app := newTestApp(t)
	comp := healthy("discovery")
	app.RegisterComponent(comp)
	if err := app.Components.StartAll(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !comp.wasStopped() {
		t.Error("expected component stopped")
	}
}

func TestWaitForSignal_ContextCancellation(t *testing.T) {
	app := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sig := app.WaitForSignal(ctx); sig != nil {
		t.Errorf("expected nil signal, got %v", sig)
	}
}

func TestSummary_NoComponents(t *testing.T) {
	var buf bytes.Buffer
	s := NewSummary("discovery-agent", "1.0.0")
	s.SetOutput(&buf)
	s.SetStartupDuration(1500 * time.Millisecond)
	s.DisplaySummary(nil)

	out := buf.String()
	if !strings.Contains(out, "discovery-agent v1.0.0 started in 1.50s") {
		t.Errorf("expected header, got %q", out)
	}
	if !strings.Contains(out, "No components registered") {
		t.Errorf("expected empty notice, got %q", out)
	}
}

func TestSummary_CollectsFromRegistry(t *testing.T) {
	registry := component.NewRegistry()
	admin := describedComponent{&mockComponent{
		name:   "admin-server",
		health: component.Health{Status: component.StatusHealthy},
		desc:   &component.Description{Name: "Admin API", Type: "server", Details: "gin", Port: 9500},
		routes: []component.Route{{Method: "GET", Path: "/v1/services", Handler: "listServices"}},
	}}
	registry.Register(admin)
	registry.Register(&mockComponent{name: "discovery", health: component.Health{Status: component.StatusDegraded, Message: "0/1 warm"}})

	var buf bytes.Buffer
	s := NewSummary("discovery-agent", "1.0.0")
	s.SetOutput(&buf)
	s.DisplaySummary(registry)
	out := buf.String()

	for _, want := range []string{
		"Admin API [server]: gin (:9500)",
		"GET     /v1/services → listServices",
		"Some components have issues (1/2 healthy)",
		"discovery: degraded (0/1 warm)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in summary, got:\n%s", want, out)
		}
	}
}

func TestTreePrefix(t *testing.T) {
	if got := treePrefix(0, 2); got != "├──" {
		t.Errorf("expected ├──, got %s", got)
	}
	if got := treePrefix(1, 2); got != "└──" {
		t.Errorf("expected └──, got %s", got)
	}
}

func TestHealthStatusIcon(t *testing.T) {
	tests := map[component.HealthStatus]string{
		component.StatusHealthy:   "✅",
		component.StatusDegraded:  "⚠️",
		component.StatusUnhealthy: "❌",
		"unknown":                 "❓",
	}
	for status, want := range tests {
		if got := healthStatusIcon(status); got != want {
			t.Errorf("healthStatusIcon(%q): expected %s, got %s", status, want, got)
		}
	}
}
