package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig configures TLS on the admin listener. Setting ClientCAFile
// turns on mutual TLS: clients must present a certificate signed by it.
type TLSConfig struct {
	// Enabled serves HTTPS instead of cleartext HTTP/1.1 and h2c.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// CertFile is the PEM server certificate.
	CertFile string `yaml:"cert_file" mapstructure:"cert_file"`

	// KeyFile is the PEM private key of CertFile.
	KeyFile string `yaml:"key_file" mapstructure:"key_file"`

	// ClientCAFile is the PEM bundle client certificates are verified against.
	ClientCAFile string `yaml:"client_ca_file" mapstructure:"client_ca_file"`

	// MinVersion is "1.2" or "1.3". Defaults to 1.2.
	MinVersion string `yaml:"min_version" mapstructure:"min_version"`
}

var tlsVersions = map[string]uint16{
	"":    tls.VersionTLS12,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// Validate checks that an enabled config names a key pair and a known
// protocol version. Files are only read by ServerConfig.
func (c *TLSConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return fmt.Errorf("security/tls: cert_file and key_file are required when tls is enabled")
	}
	if _, ok := tlsVersions[c.MinVersion]; !ok {
		return fmt.Errorf("security/tls: min_version must be 1.2 or 1.3, got %q", c.MinVersion)
	}
	return nil
}

// ServerConfig loads the key pair and client CA into a *tls.Config.
// It returns nil when TLS is disabled.
func (c *TLSConfig) ServerConfig() (*tls.Config, error) {
	if c == nil || !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("security/tls: failed to load server certificate: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tlsVersions[c.MinVersion],
	}

	if c.ClientCAFile != "" {
		pool, err := LoadCertPool(c.ClientCAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// LoadCertPool reads a PEM bundle into a certificate pool.
func LoadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("security/tls: failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("security/tls: failed to parse CA certificate %s", path)
	}
	return pool, nil
}
