package discovery

import (
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/discoverykit/resilience"
	"github.com/kbukum/discoverykit/validation"
)

// Config holds service discovery and registration configuration.
type Config struct {
	// Enabled controls whether the discovery component is active.
	Enabled bool `mapstructure:"enabled"`

	// Provider selects the registry backend: "consul" or "static".
	Provider string `mapstructure:"provider" validate:"oneof=consul static"`

	// Strategy is the load balancing policy used by Pick.
	Strategy LoadBalancingStrategy `mapstructure:"strategy" validate:"omitempty,oneof=random round_robin weighted"`

	// Registration describes this process as a registry instance.
	Registration RegistrationConfig `mapstructure:"registration"`

	// Watch configures the reconciler loops.
	Watch WatchConfig `mapstructure:"watch"`

	// Backoff is the delay curve used after failed registry calls.
	Backoff resilience.BackoffConfig `mapstructure:"backoff"`

	// ShutdownGrace bounds how long Stop waits for loops and deregistration.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" validate:"gt=0"`

	// StaticEndpoints seeds the static provider.
	StaticEndpoints []StaticEndpoint `mapstructure:"static_endpoints" validate:"dive"`
}

// RegistrationConfig describes the local service instance.
type RegistrationConfig struct {
	// Enabled turns self-registration on.
	Enabled bool `mapstructure:"enabled"`

	// ServiceName is the name used when registering this service.
	ServiceName string `mapstructure:"service_name" validate:"required_if=Enabled true"`

	// ServiceID is the unique instance ID; defaults to "<service_name>-<uuid>".
	ServiceID string `mapstructure:"service_id"`

	// ServiceAddress is the address advertised to other services.
	ServiceAddress string `mapstructure:"service_address"`

	// ServicePort is the port advertised to other services.
	ServicePort int `mapstructure:"service_port" validate:"gte=0,lte=65535"`

	// Tags are attached to the registration.
	Tags []string `mapstructure:"tags"`

	// Metadata is arbitrary key-value metadata for the service.
	Metadata map[string]string `mapstructure:"metadata"`

	// HeartbeatInterval is how often the TTL check is refreshed.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`

	// CheckTTL is the TTL of the registry health check.
	CheckTTL time.Duration `mapstructure:"check_ttl" validate:"gt=0"`

	// DeregisterAfter removes the instance after being critical for this duration.
	DeregisterAfter time.Duration `mapstructure:"deregister_after" validate:"gte=0"`

	// RegisterAttempts is the retry budget for the initial registration.
	RegisterAttempts int `mapstructure:"register_attempts" validate:"gte=1"`

	// MissedHeartbeatThreshold is the number of consecutive failed heartbeats
	// after which the registrar re-registers.
	MissedHeartbeatThreshold int `mapstructure:"missed_heartbeat_threshold" validate:"gte=1"`

	// ReregisterInterval is the minimum spacing of forced re-registrations.
	ReregisterInterval time.Duration `mapstructure:"reregister_interval" validate:"gt=0"`

	// BestEffort keeps the process running when the registration budget is
	// exhausted and keeps retrying in the background.
	BestEffort bool `mapstructure:"best_effort"`
}

// WatchConfig configures the reconciler.
type WatchConfig struct {
	// Services are watched from Start.
	Services []string `mapstructure:"services" validate:"unique"`

	// PollTimeout is the blocking query wait time.
	PollTimeout time.Duration `mapstructure:"poll_timeout" validate:"gt=0"`

	// RemovalDebounce is how many consecutive fetches must miss an instance
	// before it is removed. 1 removes on the first miss.
	RemovalDebounce int `mapstructure:"removal_debounce" validate:"gte=1"`

	// StalenessCeiling evicts entries not refreshed for this long. 0 keeps
	// entries forever.
	StalenessCeiling time.Duration `mapstructure:"staleness_ceiling" validate:"gte=0"`

	// EvictInterval is how often stale entries are looked for.
	EvictInterval time.Duration `mapstructure:"evict_interval" validate:"gt=0"`

	// SubscriberBuffer is the channel capacity given to each subscriber.
	SubscriberBuffer int `mapstructure:"subscriber_buffer" validate:"gte=0"`
}

// StaticEndpoint describes a statically configured service endpoint.
type StaticEndpoint struct {
	Name       string            `mapstructure:"name" validate:"required"`
	InstanceID string            `mapstructure:"instance_id"`
	Address    string            `mapstructure:"address" validate:"required"`
	Port       int               `mapstructure:"port" validate:"gte=1,lte=65535"`
	Tags       []string          `mapstructure:"tags"`
	Metadata   map[string]string `mapstructure:"metadata"`
}

// Instance converts the endpoint into a passing ServiceInstance.
func (e StaticEndpoint) Instance() ServiceInstance {
	id := e.InstanceID
	if id == "" {
		id = e.Name + "-" + ServiceInstance{Address: e.Address, Port: e.Port}.HostPort()
	}
	return ServiceInstance{
		ServiceName: e.Name,
		InstanceID:  id,
		Address:     e.Address,
		Port:        e.Port,
		Tags:        e.Tags,
		Metadata:    e.Metadata,
		Health:      HealthPassing,
	}
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "static"
	}
	if c.Strategy == "" {
		c.Strategy = StrategyRoundRobin
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	c.Backoff.ApplyDefaults()
	c.Registration.ApplyDefaults()
	c.Watch.ApplyDefaults()
}

// ApplyDefaults fills zero-valued registration fields.
func (c *RegistrationConfig) ApplyDefaults() {
	if c.ServiceID == "" && c.ServiceName != "" {
		c.ServiceID = c.ServiceName + "-" + uuid.NewString()
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.CheckTTL == 0 {
		c.CheckTTL = 30 * time.Second
	}
	if c.DeregisterAfter == 0 {
		c.DeregisterAfter = time.Minute
	}
	if c.RegisterAttempts == 0 {
		c.RegisterAttempts = 5
	}
	if c.MissedHeartbeatThreshold == 0 {
		c.MissedHeartbeatThreshold = 3
	}
	if c.ReregisterInterval == 0 {
		c.ReregisterInterval = 5 * time.Second
	}
}

// ApplyDefaults fills zero-valued watch fields.
func (c *WatchConfig) ApplyDefaults() {
	if c.PollTimeout == 0 {
		c.PollTimeout = 30 * time.Second
	}
	if c.RemovalDebounce == 0 {
		c.RemovalDebounce = 2
	}
	if c.StalenessCeiling == 0 {
		c.StalenessCeiling = 10 * time.Minute
	}
	if c.EvictInterval == 0 {
		c.EvictInterval = time.Minute
	}
	if c.SubscriberBuffer == 0 {
		c.SubscriberBuffer = 64
	}
}

// Validate checks that required fields are present and consistent.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	v := validation.New("discovery")
	v.Merge(validation.Struct("discovery", c))
	if err := c.Backoff.Validate(); err != nil {
		v.Add("backoff", err.Error())
	}
	if c.Registration.Enabled {
		v.Check(c.Registration.CheckTTL > c.Registration.HeartbeatInterval,
			"registration.check_ttl", "must exceed registration.heartbeat_interval")
		v.Check(c.Registration.ServicePort > 0, "registration.service_port", "is required when registration is enabled")
	}
	return v.Err()
}

// RegistrationOptions derives the check options for the local instance.
func (c *RegistrationConfig) RegistrationOptions() RegistrationOptions {
	return RegistrationOptions{
		CheckID:         CheckIDFor(c.ServiceID),
		CheckTTL:        c.CheckTTL,
		DeregisterAfter: c.DeregisterAfter,
	}
}
