package server

import (
	"time"

	"github.com/kbukum/discoverykit/security"
	"github.com/kbukum/discoverykit/validation"
)

// Config holds admin HTTP server configuration.
type Config struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"gte=0"`
	// RateLimit is the per-client request rate in requests per second.
	// Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit" validate:"gte=0"`
	// RateBurst is the per-client burst allowed above RateLimit.
	RateBurst int `yaml:"rate_burst" mapstructure:"rate_burst" validate:"gte=0"`
	// TLS serves the admin API over HTTPS, optionally with client certificates.
	TLS security.TLSConfig `yaml:"tls" mapstructure:"tls"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 9500
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		c.RateBurst = int(c.RateLimit) + 1
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	v := validation.New("server")
	v.Merge(validation.Struct("server", c))
	if err := c.TLS.Validate(); err != nil {
		v.Add("tls", err.Error())
	}
	return v.Err()
}
