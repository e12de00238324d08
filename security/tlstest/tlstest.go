// Package tlstest generates a throwaway CA and a localhost certificate for
// tests of the TLS admin listener. Files live under t.TempDir().
//
//	certs := tlstest.GenerateTLSCerts(t)
//	resp, err := certs.Client().Get("https://" + addr + "/healthz")
package tlstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TLSCerts holds the generated PEM files and their parsed forms. The leaf
// certificate is valid for both server and client authentication.
type TLSCerts struct {
	CAFile   string
	CertFile string
	KeyFile  string

	CACert   *x509.Certificate
	Leaf     tls.Certificate
	CertPool *x509.CertPool
}

// GenerateTLSCerts creates a CA and a leaf certificate for localhost,
// 127.0.0.1 and ::1.
func GenerateTLSCerts(t testing.TB) *TLSCerts {
	t.Helper()
	dir := t.TempDir()
	notBefore := time.Now().Add(-time.Hour)
	notAfter := time.Now().Add(24 * time.Hour)

	caKey := newKey(t)
	caCert, caDER := sign(t, &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"discoverykit test CA"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}, nil, caKey, caKey)

	leafKey := newKey(t)
	_, leafDER := sign(t, &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{Organization: []string{"discoverykit test"}, CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}, caCert, caKey, leafKey)

	keyDER, err := x509.MarshalECPrivateKey(leafKey)
	if err != nil {
		t.Fatalf("tlstest: marshal key: %v", err)
	}

	certs := &TLSCerts{
		CAFile:   writePEM(t, dir, "ca.pem", "CERTIFICATE", caDER),
		CertFile: writePEM(t, dir, "cert.pem", "CERTIFICATE", leafDER),
		KeyFile:  writePEM(t, dir, "key.pem", "EC PRIVATE KEY", keyDER),
		CACert:   caCert,
		CertPool: x509.NewCertPool(),
	}
	certs.CertPool.AddCert(caCert)
	if certs.Leaf, err = tls.LoadX509KeyPair(certs.CertFile, certs.KeyFile); err != nil {
		t.Fatalf("tlstest: load key pair: %v", err)
	}
	return certs
}

// ClientConfig trusts the generated CA and presents the leaf certificate,
// which satisfies a listener that requires client certificates.
func (c *TLSCerts) ClientConfig() *tls.Config {
	return &tls.Config{
		RootCAs:      c.CertPool,
		Certificates: []tls.Certificate{c.Leaf},
		MinVersion:   tls.VersionTLS12,
	}
}

// Client returns an HTTP client configured with ClientConfig.
func (c *TLSCerts) Client() *http.Client {
	return &http.Client{Transport: &http.Transport{TLSClientConfig: c.ClientConfig()}}
}

// WriteInvalidPEM writes a PEM-framed file whose body is not a certificate.
func WriteInvalidPEM(t testing.TB, filename string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), filename)
	content := []byte("-----BEGIN CERTIFICATE-----\nnot-valid-base64-data\n-----END CERTIFICATE-----\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("tlstest: write invalid PEM: %v", err)
	}
	return path
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("tlstest: generate key: %v", err)
	}
	return key
}

// sign issues tmpl with the parent's key. A nil parent self-signs.
func sign(t testing.TB, tmpl, parent *x509.Certificate, parentKey, key *ecdsa.PrivateKey) (*x509.Certificate, []byte) {
	t.Helper()
	if parent == nil {
		parent = tmpl
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, parentKey)
	if err != nil {
		t.Fatalf("tlstest: create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("tlstest: parse certificate: %v", err)
	}
	return cert, der
}

func writePEM(t testing.TB, dir, name, blockType string, der []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("tlstest: write %s: %v", path, err)
	}
	return path
}
