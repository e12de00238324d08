// Package security builds the TLS configuration of the admin listener.
//
//	cfg := security.TLSConfig{
//	    Enabled:      true,
//	    CertFile:     "/etc/agent/tls/cert.pem",
//	    KeyFile:      "/etc/agent/tls/key.pem",
//	    ClientCAFile: "/etc/agent/tls/ca.pem",
//	}
//	tlsConfig, err := cfg.ServerConfig()
package security
