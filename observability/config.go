package observability

import (
	"fmt"
	"time"
)

// Config turns OTLP export of traces and metrics on for an agent.
type Config struct {
	// Enabled starts the tracer and meter providers.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Endpoint is the OTLP HTTP collector host:port.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure" mapstructure:"insecure"`
	// SampleRate is the trace sampling ratio (0.0 to 1.0).
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
	// MetricInterval is the metric export interval.
	MetricInterval time.Duration `yaml:"metric_interval" mapstructure:"metric_interval"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.MetricInterval == 0 {
		c.MetricInterval = 15 * time.Second
	}
}

// Validate checks the sampling ratio and export interval.
func (c *Config) Validate() error {
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be between 0 and 1 (got %v)", c.SampleRate)
	}
	if c.MetricInterval < 0 {
		return fmt.Errorf("observability.metric_interval must not be negative")
	}
	return nil
}

// Tracer derives the tracer config for a service.
func (c Config) Tracer(serviceName, version, environment string) TracerConfig {
	return TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    environment,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		SampleRate:     c.SampleRate,
	}
}

// Meter derives the meter config for a service.
func (c Config) Meter(serviceName, version, environment string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    environment,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		Interval:       c.MetricInterval,
	}
}
