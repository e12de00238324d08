package configwatch

import (
	"strings"
	"time"

	"github.com/kbukum/discoverykit/resilience"
	"github.com/kbukum/discoverykit/validation"
)

// Format is the layout of configuration in the KV store.
type Format string

const (
	FormatNative Format = "native"
	FormatYAML   Format = "yaml"
)

const (
	// DefaultPath is the key prefix under which configuration lives.
	DefaultPath = "config/"
	// DefaultName is the configuration shared by all services.
	DefaultName = "application"
)

// Config configures the Watcher.
type Config struct {
	// Enabled turns configuration watching on.
	Enabled bool `mapstructure:"enabled"`

	// Path is the key prefix; a trailing slash is added when missing.
	Path string `mapstructure:"path"`

	// Format selects how keys are turned into properties.
	Format Format `mapstructure:"format" validate:"oneof=native yaml"`

	// Profiles are the active profiles, in increasing precedence.
	Profiles []string `mapstructure:"profiles"`

	// WaitTime is the blocking query wait time.
	WaitTime time.Duration `mapstructure:"wait_time" validate:"gt=0"`

	// Backoff is used after failed reads.
	Backoff resilience.BackoffConfig `mapstructure:"backoff"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if !strings.HasSuffix(c.Path, "/") {
		c.Path += "/"
	}
	if c.Format == "" {
		c.Format = FormatNative
	}
	if c.WaitTime == 0 {
		c.WaitTime = 55 * time.Second
	}
	c.Backoff.ApplyDefaults()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	v := validation.New("config_watch")
	v.Merge(validation.Struct("config_watch", c))
	if err := c.Backoff.Validate(); err != nil {
		v.Add("backoff", err.Error())
	}
	return v.Err()
}

// Keys returns the watched keys for a service in increasing precedence.
func (c *Config) Keys(serviceName string) []string {
	common := c.Path + DefaultName
	keys := []string{common}
	specific := ""
	if serviceName != "" && serviceName != DefaultName {
		specific = c.Path + serviceName
		keys = append(keys, specific)
	}
	for _, profile := range c.Profiles {
		keys = append(keys, common+","+profile)
		if specific != "" {
			keys = append(keys, specific+","+profile)
		}
	}
	return keys
}

// SourceName derives the property source name of a key:
// "config/billing,dev" becomes "billing[dev]".
func (c *Config) SourceName(key string) string {
	name := strings.TrimPrefix(key, c.Path)
	base, profile, ok := strings.Cut(name, ",")
	if !ok {
		return name
	}
	return base + "[" + profile + "]"
}
