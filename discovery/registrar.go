package discovery

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/observability"
	"github.com/kbukum/discoverykit/resilience"
)

// RegistrationState is the lifecycle state of the local registration.
type RegistrationState string

const (
	StateUnregistered  RegistrationState = "unregistered"
	StateRegistering   RegistrationState = "registering"
	StateRegistered    RegistrationState = "registered"
	StateDeregistering RegistrationState = "deregistering"
	StateFailed        RegistrationState = "failed"
)

var registrationTransitions = map[RegistrationState][]RegistrationState{
	StateUnregistered:  {StateRegistering},
	StateRegistering:   {StateRegistered, StateFailed, StateUnregistered},
	StateRegistered:    {StateDeregistering, StateFailed},
	StateFailed:        {StateRegistering, StateDeregistering},
	StateDeregistering: {StateUnregistered},
}

// CanTransition reports whether the registrar may move from one state to another.
func CanTransition(from, to RegistrationState) bool {
	return slices.Contains(registrationTransitions[from], to)
}

// RegistrationRecord is a point-in-time view of the local registration.
type RegistrationRecord struct {
	Self             ServiceInstance   `json:"self"`
	State            RegistrationState `json:"state"`
	CheckID          string            `json:"check_id"`
	RegisteredAt     time.Time         `json:"registered_at,omitempty"`
	LastHeartbeatAt  time.Time         `json:"last_heartbeat_at,omitempty"`
	MissedHeartbeats int               `json:"missed_heartbeats"`
	Attempts         int               `json:"attempts"`
	LastError        string            `json:"last_error,omitempty"`
}

// HealthFunc reports the local health pushed with every heartbeat.
type HealthFunc func(ctx context.Context) (HealthStatus, string)

// StateChangeFunc is called after every registration state transition.
type StateChangeFunc func(from, to RegistrationState)

// RegistrarOption configures a Registrar.
type RegistrarOption func(*Registrar)

// WithHealthFunc sets the health reported by heartbeats. Without it every
// heartbeat reports passing.
func WithHealthFunc(fn HealthFunc) RegistrarOption {
	return func(r *Registrar) { r.healthFn = fn }
}

// WithStateChangeHook sets a callback for state transitions.
func WithStateChangeHook(fn StateChangeFunc) RegistrarOption {
	return func(r *Registrar) { r.onChange = fn }
}

// WithRegistrarMetrics records transitions and heartbeats.
func WithRegistrarMetrics(m *observability.DiscoveryMetrics) RegistrarOption {
	return func(r *Registrar) {
		if m != nil {
			r.metrics = m
		}
	}
}

// Registrar registers the local instance and keeps its TTL check alive.
type Registrar struct {
	client   RegistryClient
	cfg      RegistrationConfig
	backoff  resilience.BackoffConfig
	opts     RegistrationOptions
	limiter  *rate.Limiter
	metrics  *observability.DiscoveryMetrics
	healthFn HealthFunc
	onChange StateChangeFunc
	log      *logger.Logger

	mu     sync.Mutex
	record RegistrationRecord
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistrar creates a Registrar for self. cfg must have defaults applied.
func NewRegistrar(client RegistryClient, self ServiceInstance, cfg RegistrationConfig, backoff resilience.BackoffConfig, log *logger.Logger, opts ...RegistrarOption) *Registrar {
	backoff.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	if self.Health == "" {
		self.Health = HealthPassing
	}
	cfg.ServiceID = self.InstanceID
	r := &Registrar{
		client:  client,
		cfg:     cfg,
		backoff: backoff,
		opts:    cfg.RegistrationOptions(),
		limiter: rate.NewLimiter(rate.Every(cfg.ReregisterInterval), 1),
		metrics: observability.NopMetrics(),
		log: log.WithComponent("registrar").WithFields(logger.Fields(
			logger.FieldInstanceID, self.InstanceID,
		)),
	}
	r.record = RegistrationRecord{Self: self, State: StateUnregistered, CheckID: r.opts.CheckID}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current registration state.
func (r *Registrar) State() RegistrationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.State
}

// Record returns a copy of the registration record.
func (r *Registrar) Record() RegistrationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record
}

// Start registers the instance within the retry budget and starts the
// heartbeat loop. When the budget is exhausted Start returns a
// REGISTRATION_FAILED error and leaves the registrar in StateFailed, unless
// BestEffort is set: then the registrar stays unregistered, Start returns
// nil and registration keeps being retried in the background.
func (r *Registrar) Start(ctx context.Context) error {
	if err := r.transition(StateRegistering); err != nil {
		return err
	}

	attempts := 0
	err := resilience.RetryFunc(ctx, resilience.RetryConfig{
		MaxAttempts: r.cfg.RegisterAttempts,
		Backoff:     r.backoff,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			r.log.Warn("registration attempt failed", logger.Fields(
				logger.FieldAttempt, attempt,
				logger.FieldBackoff, backoff.Milliseconds(),
				logger.FieldError, err.Error(),
			))
		},
	}, func() error {
		attempts++
		return r.register(ctx)
	})

	if err != nil {
		r.setError(attempts, err)
		if ctx.Err() != nil {
			_ = r.transition(StateUnregistered)
			return ctx.Err()
		}
		if !r.cfg.BestEffort {
			_ = r.transition(StateFailed)
			r.log.Error("registration failed", logger.Fields(
				logger.FieldAttempt, attempts,
				logger.FieldError, err.Error(),
			))
			return errors.RegistrationFailed(r.Record().Self.ServiceName, attempts, err)
		}
		_ = r.transition(StateUnregistered)
		r.log.Warn("registration failed, continuing unregistered", logger.Fields(
			logger.FieldAttempt, attempts,
			logger.FieldError, err.Error(),
		))
	} else {
		r.registered(attempts)
		r.pushHeartbeat(ctx)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		r.loop(loopCtx)
	}()
	return nil
}

// Stop ends the heartbeat loop and deregisters the instance. The registrar
// ends in StateUnregistered; a failed deregistration is logged and left to
// the registry's deregister-after reaping.
func (r *Registrar) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("registrar: shutdown: %w", ctx.Err())
		}
	}

	switch r.State() {
	case StateRegistered, StateFailed:
	default:
		return nil
	}

	if err := r.transition(StateDeregistering); err != nil {
		return err
	}
	id := r.Record().Self.InstanceID
	if _, err := r.client.Deregister(ctx, id); err != nil {
		r.log.Warn("deregistration failed", logger.ErrorFields("deregister", err))
	} else {
		r.log.Info("deregistered")
	}
	return r.transition(StateUnregistered)
}

func (r *Registrar) loop(ctx context.Context) {
	bo := resilience.NewBackoff(r.backoff)
	for ctx.Err() == nil {
		state := r.State()
		if state == StateUnregistered || state == StateFailed {
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
			if r.reregister(ctx, state) {
				bo.Reset()
				continue
			}
			if resilience.Sleep(ctx, bo.Next()) != nil {
				return
			}
			continue
		}

		if resilience.Sleep(ctx, r.cfg.HeartbeatInterval) != nil {
			return
		}
		if missed := r.pushHeartbeat(ctx); missed >= r.cfg.MissedHeartbeatThreshold {
			r.log.Warn("heartbeat threshold exceeded, re-registering", logger.Fields(
				"missed", missed,
			))
			_ = r.transition(StateFailed)
		}
	}
}

// reregister makes a single registration attempt from state from and
// reports whether it succeeded. A failed attempt returns to from.
func (r *Registrar) reregister(ctx context.Context, from RegistrationState) bool {
	if err := r.transition(StateRegistering); err != nil {
		return false
	}
	attempts := r.Record().Attempts + 1
	if err := r.register(ctx); err != nil {
		r.setError(attempts, err)
		_ = r.transition(from)
		if ctx.Err() == nil {
			r.log.Warn("re-registration failed", logger.Fields(
				logger.FieldAttempt, attempts,
				logger.FieldError, err.Error(),
			))
		}
		return false
	}
	r.registered(attempts)
	r.pushHeartbeat(ctx)
	return true
}

func (r *Registrar) register(ctx context.Context) error {
	self := r.Record().Self
	_, err := r.client.Register(ctx, self, r.opts)
	return err
}

func (r *Registrar) registered(attempts int) {
	r.mu.Lock()
	r.record.RegisteredAt = time.Now()
	r.record.Attempts = attempts
	r.record.MissedHeartbeats = 0
	r.record.LastError = ""
	r.mu.Unlock()
	_ = r.transition(StateRegistered)
	r.log.Info("registered", logger.Fields(
		logger.FieldAttempt, attempts,
		"check_id", r.opts.CheckID,
	))
}

// pushHeartbeat reports local health and returns the number of consecutive
// missed heartbeats.
func (r *Registrar) pushHeartbeat(ctx context.Context) int {
	status, note := HealthPassing, "ok"
	if r.healthFn != nil {
		status, note = r.healthFn(ctx)
	}

	err := r.client.Heartbeat(ctx, r.opts.CheckID, status, note)
	r.metrics.RecordHeartbeat(ctx, err == nil)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.record.MissedHeartbeats++
		r.record.LastError = err.Error()
		r.log.Warn("heartbeat failed", logger.Fields(
			"missed", r.record.MissedHeartbeats,
			logger.FieldError, err.Error(),
		))
		return r.record.MissedHeartbeats
	}
	r.record.MissedHeartbeats = 0
	r.record.LastHeartbeatAt = time.Now()
	r.record.Self.Health = status
	return 0
}

func (r *Registrar) setError(attempts int, err error) {
	r.mu.Lock()
	r.record.Attempts = attempts
	r.record.LastError = err.Error()
	r.mu.Unlock()
}

func (r *Registrar) transition(to RegistrationState) error {
	r.mu.Lock()
	from := r.record.State
	if !CanTransition(from, to) {
		r.mu.Unlock()
		return fmt.Errorf("registrar: invalid transition %s -> %s", from, to)
	}
	r.record.State = to
	hook := r.onChange
	r.mu.Unlock()

	r.metrics.RecordRegistration(context.Background(), string(from), string(to))
	r.log.Debug("registration state changed", logger.Fields("from", from, "to", to))
	if hook != nil {
		hook(from, to)
	}
	return nil
}
