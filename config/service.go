package config

import (
	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/observability"
	"github.com/kbukum/discoverykit/validation"
)

// ServiceConfig contains the fields every agent needs. Agents extend it by
// embedding it in their own config structs.
//
// Example:
//
//	type AgentConfig struct {
//	    config.ServiceConfig `yaml:",inline" mapstructure:",squash"`
//	    Discovery discovery.Config `yaml:"discovery" mapstructure:"discovery"`
//	}
type ServiceConfig struct {
	Name          string               `yaml:"name" mapstructure:"name" validate:"required"`
	Environment   string               `yaml:"environment" mapstructure:"environment" validate:"oneof=development staging production"`
	Version       string               `yaml:"version" mapstructure:"version"`
	Debug         bool                 `yaml:"debug" mapstructure:"debug"`
	Logging       logger.Config        `yaml:"logging" mapstructure:"logging"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

// GetServiceConfig returns the base ServiceConfig. When embedded, the method
// is promoted so the embedding struct satisfies bootstrap.Config.
func (c *ServiceConfig) GetServiceConfig() *ServiceConfig {
	return c
}

// ApplyDefaults applies default values to the base configuration.
// Embedding structs override it and call c.ServiceConfig.ApplyDefaults() first.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
	if c.Debug && c.Logging.Level == "" {
		c.Logging.Level = "debug"
	}
	c.Logging.ApplyDefaults()
	c.Observability.ApplyDefaults()
}

// Validate validates the base configuration fields.
// Embedding structs override it and call c.ServiceConfig.Validate() first.
func (c *ServiceConfig) Validate() error {
	v := validation.New("config")
	v.Merge(validation.Struct("config", c))
	if err := c.Logging.Validate(); err != nil {
		v.Add("logging", err.Error())
	}
	if err := c.Observability.Validate(); err != nil {
		v.Add("observability", err.Error())
	}
	return v.Err()
}
