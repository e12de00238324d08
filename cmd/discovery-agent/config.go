package main

import (
	"time"

	"github.com/kbukum/discoverykit/config"
	"github.com/kbukum/discoverykit/configwatch"
	"github.com/kbukum/discoverykit/discovery"
	"github.com/kbukum/discoverykit/discovery/consul"
	"github.com/kbukum/discoverykit/server"
	"github.com/kbukum/discoverykit/validation"
)

// AgentConfig is the full configuration of the discovery agent.
type AgentConfig struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Discovery   discovery.Config   `yaml:"discovery" mapstructure:"discovery"`
	Consul      consul.Config      `yaml:"consul" mapstructure:"consul"`
	ConfigWatch configwatch.Config `yaml:"config_watch" mapstructure:"config_watch"`
	Server      server.Config      `yaml:"server" mapstructure:"server"`
	Events      EventsConfig       `yaml:"events" mapstructure:"events"`
}

// EventsConfig configures the change event stream of the admin API.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
	// KeepAlive is the interval of comment frames on idle streams.
	KeepAlive time.Duration `yaml:"keep_alive" mapstructure:"keep_alive" validate:"gte=0"`
	// Buffer is the subscription buffer of each feed.
	Buffer int `yaml:"buffer" mapstructure:"buffer" validate:"gte=0"`
}

// ApplyDefaults fills zero values of every section.
func (c *AgentConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "discovery-agent"
	}
	c.ServiceConfig.ApplyDefaults()
	c.Discovery.ApplyDefaults()
	c.Consul.ApplyDefaults()
	c.ConfigWatch.ApplyDefaults()
	c.Server.ApplyDefaults()
	if c.Events.Path == "" {
		c.Events.Path = "/v1/events"
	}
	if c.Events.KeepAlive == 0 {
		c.Events.KeepAlive = 15 * time.Second
	}
	if c.Events.Buffer == 0 {
		c.Events.Buffer = 64
	}
}

// Validate checks every section and the rules that span sections.
func (c *AgentConfig) Validate() error {
	v := validation.New("")
	v.Merge(c.ServiceConfig.Validate())
	v.Merge(c.Discovery.Validate())
	v.Merge(c.ConfigWatch.Validate())
	v.Merge(c.Server.Validate())
	v.Merge(validation.Struct("events", &c.Events))
	if c.usesConsul() {
		if err := c.Consul.Validate(); err != nil {
			v.Add("consul", err.Error())
		}
	}

	v.Check(!c.ConfigWatch.Enabled || c.usesConsul(),
		"config_watch.enabled", "requires discovery enabled with provider consul")
	v.Check(!c.Events.Enabled || c.Server.Enabled,
		"events.enabled", "requires server.enabled")
	return v.Err()
}

// usesConsul reports whether a Consul client is needed. A disabled discovery
// section serves its static endpoints and never talks to Consul.
func (c *AgentConfig) usesConsul() bool {
	return c.Discovery.Enabled && c.Discovery.Provider == "consul"
}
