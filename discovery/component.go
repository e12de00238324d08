package discovery

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/observability"
	"github.com/kbukum/discoverykit/version"
)

// ProviderFactory creates the RegistryClient for a provider. providerCfg
// holds provider-specific configuration (e.g., consul.Config); providers
// type-assert it to their own config type.
type ProviderFactory func(cfg Config, providerCfg any, log *logger.Logger) (RegistryClient, error)

var (
	factoriesMu       sync.RWMutex
	providerFactories = make(map[string]ProviderFactory)
)

// RegisterProviderFactory registers a registry backend factory for the given
// provider name. Implementation packages call this from an init function to
// make themselves available to the Component.
func RegisterProviderFactory(name string, f ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	providerFactories[name] = f
}

func lookupProviderFactory(name string) (ProviderFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := providerFactories[name]
	return f, ok
}

// ComponentOption configures a Component.
type ComponentOption func(*Component)

// WithClient uses client instead of building one from the provider factory.
func WithClient(client RegistryClient) ComponentOption {
	return func(c *Component) { c.client = client }
}

// WithMetrics records reconciler and registrar metrics.
func WithMetrics(m *observability.DiscoveryMetrics) ComponentOption {
	return func(c *Component) { c.metrics = m }
}

// WithRegistrarOptions passes options through to the Registrar.
func WithRegistrarOptions(opts ...RegistrarOption) ComponentOption {
	return func(c *Component) { c.regOpts = append(c.regOpts, opts...) }
}

// Component assembles the registry client, cache, reconciler, registrar and
// facade, and implements component.Component for lifecycle management.
type Component struct {
	cfg         Config
	providerCfg any
	log         *logger.Logger
	metrics     *observability.DiscoveryMetrics
	regOpts     []RegistrarOption

	mu         sync.RWMutex
	client     RegistryClient
	cache      *InstanceCache
	reconciler *Reconciler
	registrar  *Registrar
	facade     *Facade
}

// NewComponent creates a discovery Component. providerCfg holds
// provider-specific configuration (e.g., consul.Config for Consul).
func NewComponent(cfg Config, providerCfg any, log *logger.Logger, opts ...ComponentOption) *Component {
	if log == nil {
		log = logger.Nop()
	}
	cfg.ApplyDefaults()
	c := &Component{
		cfg:         cfg,
		providerCfg: providerCfg,
		log:         log.WithComponent("discovery"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// Name returns the component name.
func (c *Component) Name() string { return "discovery" }

// Config returns the effective configuration, defaults applied.
func (c *Component) Config() Config { return c.cfg }

// Client returns the registry client, or nil if not started.
func (c *Component) Client() RegistryClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// Facade returns the read API, or nil if not started.
func (c *Component) Facade() *Facade {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.facade
}

// Reconciler returns the reconciler, or nil if not started.
func (c *Component) Reconciler() *Reconciler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconciler
}

// Registrar returns the registrar, or nil when registration is disabled or
// the component is not started.
func (c *Component) Registrar() *Registrar {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registrar
}

// Start builds the pipeline, starts the watch loops and registers the local
// instance. A disabled component serves the static endpoints only.
func (c *Component) Start(ctx context.Context) error {
	cfg := c.cfg
	provider := cfg.Provider
	if !cfg.Enabled {
		c.log.Info("discovery disabled, using static provider")
		provider = "static"
		cfg.Registration.Enabled = false
	} else if err := cfg.Validate(); err != nil {
		return fmt.Errorf("discovery config: %w", err)
	}

	client := c.Client()
	if !cfg.Enabled {
		// An injected registry client is not consulted while disabled.
		client = nil
	}
	if client == nil {
		f, ok := lookupProviderFactory(provider)
		if !ok {
			return fmt.Errorf("unsupported discovery provider %q (not registered)", provider)
		}
		var err error
		if client, err = f(cfg, c.providerCfg, c.log); err != nil {
			return fmt.Errorf("discovery start: %w", err)
		}
	}

	strategy, err := NewStrategy(cfg.Strategy)
	if err != nil {
		return fmt.Errorf("discovery start: %w", err)
	}

	watch := cfg.Watch
	watch.Services = watchedServices(cfg, provider)
	cache := NewInstanceCache(watch.PollTimeout+cfg.Backoff.Max, watch.StalenessCeiling)
	reconciler := NewReconciler(client, cache, watch, cfg.Backoff, c.metrics, c.log)

	var registrar *Registrar
	if cfg.Registration.Enabled {
		self, err := selfInstance(cfg.Registration)
		if err != nil {
			return fmt.Errorf("discovery: %w", err)
		}
		opts := append([]RegistrarOption{WithRegistrarMetrics(c.metrics)}, c.regOpts...)
		registrar = NewRegistrar(client, self, cfg.Registration, cfg.Backoff, c.log, opts...)
	}

	c.mu.Lock()
	c.client = client
	c.cache = cache
	c.reconciler = reconciler
	c.registrar = registrar
	c.facade = NewFacade(cache, strategy)
	c.mu.Unlock()

	if err := reconciler.Start(ctx); err != nil {
		return fmt.Errorf("discovery start: %w", err)
	}
	if registrar != nil {
		if err := registrar.Start(ctx); err != nil {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownGrace)
			defer cancel()
			_ = reconciler.Stop(stopCtx)
			return err
		}
	}

	c.log.Info("discovery component started", logger.Fields(
		"provider", provider,
		"watching", len(watch.Services),
		"registration", cfg.Registration.Enabled,
	))
	return nil
}

// Stop deregisters the local instance and stops the watch loops, all within
// ShutdownGrace.
func (c *Component) Stop(ctx context.Context) error {
	c.log.Info("discovery component stopping")
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ShutdownGrace)
	defer cancel()

	c.mu.RLock()
	registrar, reconciler := c.registrar, c.reconciler
	c.mu.RUnlock()

	var firstErr error
	if registrar != nil {
		if err := registrar.Stop(ctx); err != nil {
			c.log.Warn("failed to deregister on stop", logger.Fields(logger.FieldError, err.Error()))
			firstErr = err
		}
	}
	if reconciler != nil {
		if err := reconciler.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Ready reports whether every watched service is warm and, unless
// registration is best effort, the local instance is registered.
func (c *Component) Ready() bool {
	c.mu.RLock()
	registrar, reconciler, facade := c.registrar, c.reconciler, c.facade
	c.mu.RUnlock()
	if reconciler == nil {
		return false
	}
	for _, svc := range reconciler.Watched() {
		if !facade.IsWarm(svc) {
			return false
		}
	}
	if registrar != nil && !c.cfg.Registration.BestEffort {
		return registrar.State() == StateRegistered
	}
	return true
}

// Health returns the current health status of the discovery component.
func (c *Component) Health(ctx context.Context) component.Health {
	c.mu.RLock()
	registrar, reconciler, facade := c.registrar, c.reconciler, c.facade
	c.mu.RUnlock()

	if reconciler == nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: "discovery not initialized",
		}
	}

	if registrar != nil {
		switch state := registrar.State(); state {
		case StateRegistered:
		case StateFailed:
			return component.Health{
				Name:    c.Name(),
				Status:  component.StatusUnhealthy,
				Message: "registration failed: " + registrar.Record().LastError,
			}
		default:
			return component.Health{
				Name:    c.Name(),
				Status:  component.StatusDegraded,
				Message: "registration " + string(state),
			}
		}
	}

	watched := reconciler.Watched()
	warm := 0
	for _, svc := range watched {
		if facade.IsWarm(svc) {
			warm++
		}
	}
	if warm < len(watched) {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusDegraded,
			Message: fmt.Sprintf("%d/%d services warm", warm, len(watched)),
		}
	}

	if !c.cfg.Enabled {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusHealthy,
			Message: "disabled (static)",
		}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}

// Describe returns infrastructure summary info for the bootstrap display.
func (c *Component) Describe() component.Description {
	details := fmt.Sprintf("provider=%s strategy=%s watching=%d",
		c.cfg.Provider, c.cfg.Strategy, len(watchedServices(c.cfg, c.cfg.Provider)))
	if c.cfg.Registration.Enabled {
		details += " service=" + c.cfg.Registration.ServiceName
	}
	return component.Description{
		Name:    "Discovery",
		Type:    "discovery",
		Details: details,
		Port:    c.cfg.Registration.ServicePort,
	}
}

// watchedServices returns the configured watches plus, for the static
// provider, every service named by a static endpoint.
func watchedServices(cfg Config, provider string) []string {
	services := slices.Clone(cfg.Watch.Services)
	if provider == "static" {
		for _, ep := range cfg.StaticEndpoints {
			if !slices.Contains(services, ep.Name) {
				services = append(services, ep.Name)
			}
		}
	}
	return services
}

func selfInstance(cfg RegistrationConfig) (ServiceInstance, error) {
	addr := cfg.ServiceAddress
	if addr == "" {
		ip, err := getLocalIP()
		if err != nil {
			return ServiceInstance{}, fmt.Errorf("resolve local IP: %w", err)
		}
		addr = ip
	}
	return ServiceInstance{
		ServiceName: cfg.ServiceName,
		InstanceID:  cfg.ServiceID,
		Address:     addr,
		Port:        cfg.ServicePort,
		Tags:        cfg.Tags,
		Metadata:    withBuildMeta(cfg.Metadata),
		Health:      HealthPassing,
	}, nil
}

// withBuildMeta adds the agent build keys without overriding configured ones.
func withBuildMeta(meta map[string]string) map[string]string {
	out := version.Get().Meta()
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func getLocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
