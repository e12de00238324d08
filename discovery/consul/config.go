package consul

import (
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"
)

// Config holds Consul connection and client settings.
type Config struct {
	// Address is the Consul agent address (default: localhost:8500).
	Address string `yaml:"address" mapstructure:"address"`

	// Scheme is the URI scheme (http/https).
	Scheme string `yaml:"scheme" mapstructure:"scheme"`

	// Datacenter to use. Empty means the agent's datacenter.
	Datacenter string `yaml:"datacenter" mapstructure:"datacenter"`

	// Token is the ACL token for authentication.
	Token string `yaml:"token" mapstructure:"token"`

	// Namespace for Consul Enterprise.
	Namespace string `yaml:"namespace" mapstructure:"namespace"`

	// Partition for Consul Enterprise.
	Partition string `yaml:"partition" mapstructure:"partition"`

	// TLS configuration.
	TLS *TLSConfig `yaml:"tls" mapstructure:"tls"`

	// Pool holds connection pool settings.
	Pool *PoolConfig `yaml:"pool" mapstructure:"pool"`

	// RequestTimeout bounds register, deregister and heartbeat calls.
	// Blocking queries are bounded by their wait time instead.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`

	// Stale allows any server to answer catalog reads.
	Stale bool `yaml:"stale" mapstructure:"stale"`
}

// TLSConfig holds TLS configuration for Consul connections.
type TLSConfig struct {
	// Enabled toggles TLS.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// CACert is the path to CA certificate.
	CACert string `yaml:"ca_cert" mapstructure:"ca_cert"`

	// CAPath is the path to a directory of CA certificates.
	CAPath string `yaml:"ca_path" mapstructure:"ca_path"`

	// ClientCert is the path to client certificate.
	ClientCert string `yaml:"client_cert" mapstructure:"client_cert"`

	// ClientKey is the path to client key.
	ClientKey string `yaml:"client_key" mapstructure:"client_key"`

	// InsecureSkipVerify skips TLS verification (not recommended for production).
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`

	// ServerName is the server name for TLS verification.
	ServerName string `yaml:"server_name" mapstructure:"server_name"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	// MaxIdleConns controls maximum idle connections.
	MaxIdleConns int `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`

	// MaxIdleConnsPerHost controls max idle connections per host. Every
	// watched service holds one connection during its long poll.
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host" mapstructure:"max_idle_conns_per_host"`

	// MaxConnsPerHost controls max connections per host.
	MaxConnsPerHost int `yaml:"max_conns_per_host" mapstructure:"max_conns_per_host"`

	// IdleConnTimeout is how long connections stay idle.
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout" mapstructure:"idle_conn_timeout"`
}

// ApplyDefaults sets sensible defaults for Config.
func (c *Config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = "localhost:8500"
	}
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.Pool == nil {
		c.Pool = &PoolConfig{}
	}
	c.Pool.ApplyDefaults()
}

// ApplyDefaults sets sensible defaults for PoolConfig.
func (c *PoolConfig) ApplyDefaults() {
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 100
	}
	if c.MaxIdleConnsPerHost == 0 {
		c.MaxIdleConnsPerHost = 32
	}
	if c.IdleConnTimeout == 0 {
		c.IdleConnTimeout = 90 * time.Second
	}
}

// Validate checks if the Consul configuration is valid.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("consul address is required")
	}
	if c.Scheme != "http" && c.Scheme != "https" {
		return fmt.Errorf("consul scheme must be 'http' or 'https', got '%s'", c.Scheme)
	}
	if c.TLS != nil && c.TLS.Enabled && c.Scheme != "https" {
		return fmt.Errorf("TLS enabled but scheme is not https")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must be non-negative")
	}
	return nil
}

// apiConfig translates Config into the Consul API client configuration.
func (c *Config) apiConfig() *api.Config {
	cfg := api.DefaultConfig()
	cfg.Address = c.Address
	cfg.Scheme = c.Scheme
	cfg.Datacenter = c.Datacenter
	cfg.Token = c.Token
	cfg.Namespace = c.Namespace
	cfg.Partition = c.Partition

	if c.Pool != nil && cfg.Transport != nil {
		cfg.Transport.MaxIdleConns = c.Pool.MaxIdleConns
		cfg.Transport.MaxIdleConnsPerHost = c.Pool.MaxIdleConnsPerHost
		cfg.Transport.MaxConnsPerHost = c.Pool.MaxConnsPerHost
		cfg.Transport.IdleConnTimeout = c.Pool.IdleConnTimeout
	}

	if c.TLS != nil && c.TLS.Enabled {
		cfg.TLSConfig = api.TLSConfig{
			Address:            c.TLS.ServerName,
			CAFile:             c.TLS.CACert,
			CAPath:             c.TLS.CAPath,
			CertFile:           c.TLS.ClientCert,
			KeyFile:            c.TLS.ClientKey,
			InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		}
	}
	return cfg
}
