// Package tls builds the server's TLS configuration from certificate files
// or a generated self-signed certificate.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	ErrNoCertificate = errors.New("TLS enabled but no certificate provided and auto-generation disabled")
	ErrKeyPair       = errors.New("cert_file and key_file must be set together")
)

// Config holds TLS configuration options
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	// CAFile enables client certificate verification against this CA.
	CAFile string `yaml:"ca_file"`

	// AutoGenerate creates a self-signed certificate when no files are set.
	AutoGenerate bool          `yaml:"auto_generate"`
	Hosts        []string      `yaml:"hosts"`
	ValidFor     time.Duration `yaml:"valid_for"`
}

// DefaultConfig returns TLS disabled with self-signed generation for
// localhost ready to be switched on.
func DefaultConfig() Config {
	return Config{
		AutoGenerate: true,
		Hosts:        []string{"localhost", "127.0.0.1"},
		ValidFor:     365 * 24 * time.Hour,
	}
}

// Validate reports configuration errors without touching the filesystem.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return ErrKeyPair
	}
	if c.CertFile == "" && !c.AutoGenerate {
		return ErrNoCertificate
	}
	if c.CertFile == "" && c.ValidFor <= 0 {
		return fmt.Errorf("valid_for must be positive, got %s", c.ValidFor)
	}
	return nil
}

// Load builds a *tls.Config from cfg. It returns nil when TLS is disabled.
func Load(cfg *Config) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var cert tls.Certificate
	var err error
	if cfg.CertFile != "" {
		cert, err = tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
	} else {
		cert, err = GenerateSelfSigned(cfg.Hosts, cfg.ValidFor)
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: SecureCipherSuites(),
	}
	if cfg.CAFile != "" {
		pool, err := LoadCAPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return tlsConfig, nil
}

// LoadCAPool loads a CA certificate pool from a PEM file.
func LoadCAPool(caFile string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate %s", caFile)
	}
	return pool, nil
}

// SecureCipherSuites returns the TLS 1.2 suites allowed besides the fixed
// TLS 1.3 set.
func SecureCipherSuites() []uint16 {
	return []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	}
}
