package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/observability"
)

// App is a long-running agent with uniform lifecycle management.
// The type parameter C is the config type, which must satisfy the Config
// interface. Any struct embedding config.ServiceConfig satisfies Config.
//
// Example:
//
//	app, err := bootstrap.NewApp(&agentCfg)
//	app.RegisterComponent(discoveryComponent)
//	app.OnReady(func(ctx context.Context) error { ... })
//	app.Run(context.Background())
type App[C Config] struct {
	Name       string
	Version    string
	Cfg        C
	Components *component.Registry
	Logger     *logger.Logger
	Summary    *Summary

	gracefulTimeout time.Duration
	onConfigure     []func(ctx context.Context, app *App[C]) error

	onStart []Hook
	onReady []Hook
	onStop  []Hook

	// telemetryShutdown flushes the OTLP providers after components stop.
	telemetryShutdown []func(context.Context) error
}

// NewApp creates a new application from a typed config. It applies
// defaults, validates the config and installs the global logger.
func NewApp[C Config](cfg C, opts ...Option) (*App[C], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	base := cfg.GetServiceConfig()

	app := &App[C]{
		Name:            base.Name,
		Version:         base.Version,
		Cfg:             cfg,
		Components:      component.NewRegistry(),
		gracefulTimeout: 15 * time.Second,
	}

	o := resolveOptions(opts)
	if o.gracefulTimeout != nil {
		app.gracefulTimeout = *o.gracefulTimeout
	}
	if o.stopTimeout != nil {
		app.Components.SetStopTimeout(*o.stopTimeout)
	}

	if o.logger != nil {
		app.Logger = o.logger
	} else {
		app.Logger = logger.New(&base.Logging, base.Name)
		logger.SetGlobalLogger(app.Logger)
	}

	app.Summary = NewSummary(base.Name, base.Version)
	return app, nil
}

// RegisterComponent adds a component to the application's registry.
// Components start in registration order.
func (a *App[C]) RegisterComponent(c component.Component) error {
	return a.Components.Register(c)
}

// OnConfigure registers a callback to run once components are started.
func (a *App[C]) OnConfigure(fn func(ctx context.Context, app *App[C]) error) {
	a.onConfigure = append(a.onConfigure, fn)
}

// ReadyCheck verifies that all registered components are healthy.
func (a *App[C]) ReadyCheck(ctx context.Context) error {
	var unhealthy []string
	for _, h := range a.Components.HealthAll(ctx) {
		if h.Status != component.StatusHealthy {
			detail := h.Name + "=" + string(h.Status)
			if h.Message != "" {
				detail += "(" + h.Message + ")"
			}
			unhealthy = append(unhealthy, detail)
		}
	}
	if len(unhealthy) > 0 {
		return fmt.Errorf("unhealthy components: %v", unhealthy)
	}
	return nil
}

// Run executes the full lifecycle of a long-running agent:
// telemetry → start components → OnStart hooks → configure → ready check →
// OnReady hooks → wait for a signal → OnStop hooks → graceful shutdown.
func (a *App[C]) Run(ctx context.Context) error {
	if err := a.startup(ctx); err != nil {
		a.abort()
		return err
	}

	a.Logger.Info("Application ready, waiting for shutdown signal")
	a.WaitForSignal(ctx)

	return a.stop()
}

// RunTask runs a finite task with the same lifecycle as Run. It shuts down
// when the task returns or on SIGINT/SIGTERM, which cancels the task.
//
// Example:
//
//	app.RunTask(ctx, func(ctx context.Context) error {
//	    return waitUntilReady(ctx, disc)
//	})
func (a *App[C]) RunTask(ctx context.Context, task func(ctx context.Context) error) error {
	if err := a.startup(ctx); err != nil {
		a.abort()
		return err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			a.Logger.Info("Received signal, canceling task", logger.Fields("signal", sig.String()))
			cancel()
		case <-taskCtx.Done():
		}
	}()

	taskErr := task(taskCtx)

	if stopErr := a.stop(); stopErr != nil {
		if taskErr != nil {
			return taskErr
		}
		return stopErr
	}
	return taskErr
}

// startup is the initialization sequence shared by Run and RunTask.
func (a *App[C]) startup(ctx context.Context) error {
	start := time.Now()

	a.Logger.Info("Starting application", logger.Fields(
		"name", a.Name,
		"version", a.Version,
	))

	if err := a.initTelemetry(ctx); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	if err := a.initialize(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	if err := runHooks(ctx, a.onStart); err != nil {
		return fmt.Errorf("onStart hook failed: %w", err)
	}

	if err := a.configure(ctx); err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	// Degraded components (cold caches, pending registration) are expected
	// right after start; they are reported, not fatal.
	if err := a.ReadyCheck(ctx); err != nil {
		a.Logger.Warn("Ready check reported issues", logger.Fields(logger.FieldError, err.Error()))
	}

	if err := runHooks(ctx, a.onReady); err != nil {
		return fmt.Errorf("onReady hook failed: %w", err)
	}

	a.Summary.SetStartupDuration(time.Since(start))
	a.DisplaySummary()
	return nil
}

// initTelemetry starts the OTLP tracer and meter providers when enabled.
func (a *App[C]) initTelemetry(ctx context.Context) error {
	base := a.Cfg.GetServiceConfig()
	obs := base.Observability
	if !obs.Enabled {
		return nil
	}

	tp, err := observability.InitTracer(ctx, obs.Tracer(base.Name, base.Version, base.Environment))
	if err != nil {
		return err
	}
	a.telemetryShutdown = append(a.telemetryShutdown, tp.Shutdown)

	mp, err := observability.InitMeter(ctx, obs.Meter(base.Name, base.Version, base.Environment))
	if err != nil {
		return err
	}
	a.telemetryShutdown = append(a.telemetryShutdown, mp.Shutdown)
	return nil
}

// initialize starts all registered components.
func (a *App[C]) initialize(ctx context.Context) error {
	a.Logger.Info("Starting components")
	if err := a.Components.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start components: %w", err)
	}
	a.Logger.Info("All components started")
	return nil
}

// DisplaySummary prints the startup summary collected from the registry.
func (a *App[C]) DisplaySummary() {
	a.Summary.DisplaySummary(a.Components)
}

// configure runs registered configuration callbacks.
func (a *App[C]) configure(ctx context.Context) error {
	if len(a.onConfigure) == 0 {
		return nil
	}
	a.Logger.Info("Running configuration callbacks", logger.Fields("count", len(a.onConfigure)))
	for _, fn := range a.onConfigure {
		if err := fn(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// WaitForSignal blocks until SIGINT/SIGTERM or context cancellation.
func (a *App[C]) WaitForSignal(ctx context.Context) os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.Logger.Info("Received shutdown signal, graceful shutdown starting", logger.Fields("signal", sig.String()))
		return sig
	case <-ctx.Done():
		a.Logger.Info("Context canceled, shutting down")
		return nil
	}
}

// Shutdown performs graceful shutdown. Use when managing your own lifecycle.
func (a *App[C]) Shutdown(ctx context.Context) error {
	return a.stop()
}

// abort stops whatever started before a failed startup, so a registration
// failure still closes the watch loops.
func (a *App[C]) abort() {
	if err := a.stop(); err != nil {
		a.Logger.Warn("Cleanup after failed startup reported errors", logger.Fields(logger.FieldError, err.Error()))
	}
}

// stop shuts down all components within the graceful timeout, then flushes
// telemetry.
func (a *App[C]) stop() error {
	a.Logger.Info("Shutting down application", logger.Fields("timeout", a.gracefulTimeout.String()))

	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()

	var shutdownErr error

	if err := runHooks(ctx, a.onStop); err != nil {
		a.Logger.Error("OnStop hook error", logger.Fields(logger.FieldError, err.Error()))
		shutdownErr = err
	}

	if err := a.Components.StopAll(ctx); err != nil {
		a.Logger.Error("Shutdown completed with errors", logger.Fields(logger.FieldError, err.Error()))
		shutdownErr = err
	}

	for _, shutdown := range a.telemetryShutdown {
		if err := shutdown(ctx); err != nil {
			a.Logger.Warn("Telemetry flush failed", logger.Fields(logger.FieldError, err.Error()))
		}
	}
	a.telemetryShutdown = nil

	a.Logger.Info("Application shutdown complete")
	return shutdownErr
}
