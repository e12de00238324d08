package security

import (
	"crypto/tls"
	"strings"
	"testing"

	"github.com/kbukum/discoverykit/security/tlstest"
)

func TestTLSConfig_Disabled(t *testing.T) {
	var nilCfg *TLSConfig
	for _, cfg := range []*TLSConfig{nilCfg, {}, {CertFile: "ignored"}} {
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected no error when disabled, got %v", err)
		}
		result, err := cfg.ServerConfig()
		if err != nil || result != nil {
			t.Errorf("expected nil config when disabled, got %v, %v", result, err)
		}
	}
}

func TestTLSConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  TLSConfig
		want string
	}{
		{"missing key", TLSConfig{Enabled: true, CertFile: "c.pem"}, "cert_file and key_file"},
		{"missing cert", TLSConfig{Enabled: true, KeyFile: "k.pem"}, "cert_file and key_file"},
		{"bad version", TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.1"}, "min_version"},
		{"valid", TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.3"}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.want == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestTLSConfig_ServerConfig(t *testing.T) {
	certs := tlstest.GenerateTLSCerts(t)
	cfg := &TLSConfig{Enabled: true, CertFile: certs.CertFile, KeyFile: certs.KeyFile}

	result, err := cfg.ServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Certificates) != 1 {
		t.Errorf("expected 1 certificate, got %d", len(result.Certificates))
	}
	if result.MinVersion != tls.VersionTLS12 {
		t.Errorf("expected TLS 1.2 minimum, got %d", result.MinVersion)
	}
	if result.ClientAuth != tls.NoClientCert {
		t.Errorf("expected no client auth without a client CA, got %v", result.ClientAuth)
	}
}

func TestTLSConfig_MutualTLS(t *testing.T) {
	certs := tlstest.GenerateTLSCerts(t)
	cfg := &TLSConfig{
		Enabled:      true,
		CertFile:     certs.CertFile,
		KeyFile:      certs.KeyFile,
		ClientCAFile: certs.CAFile,
		MinVersion:   "1.3",
	}
	result, err := cfg.ServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("expected client certs required, got %v", result.ClientAuth)
	}
	if result.ClientCAs == nil {
		t.Error("expected client CA pool")
	}
	if result.MinVersion != tls.VersionTLS13 {
		t.Errorf("expected TLS 1.3 minimum, got %d", result.MinVersion)
	}
}

func TestTLSConfig_LoadErrors(t *testing.T) {
	certs := tlstest.GenerateTLSCerts(t)
	tests := []struct {
		name string
		cfg  TLSConfig
		want string
	}{
		{"missing key pair", TLSConfig{Enabled: true, CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"}, "server certificate"},
		{"missing client CA", TLSConfig{Enabled: true, CertFile: certs.CertFile, KeyFile: certs.KeyFile, ClientCAFile: "/nonexistent/ca.pem"}, "read CA file"},
		{"invalid client CA", TLSConfig{Enabled: true, CertFile: certs.CertFile, KeyFile: certs.KeyFile, ClientCAFile: tlstest.WriteInvalidPEM(t, "ca.pem")}, "parse CA certificate"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.cfg.ServerConfig()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
