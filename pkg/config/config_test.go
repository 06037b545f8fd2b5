package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dd0wney/cluso-dagvc/pkg/hasher"
	"github.com/dd0wney/cluso-dagvc/pkg/logging"
	"github.com/dd0wney/cluso-dagvc/pkg/validation"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.HashAlgorithm() != hasher.SHA256 {
		t.Errorf("HashAlgorithm = %s", cfg.HashAlgorithm())
	}
	if cfg.LogLevel() != logging.InfoLevel {
		t.Errorf("LogLevel = %s", cfg.LogLevel())
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
log:
  level: debug
hash:
  algorithm: blake2b-256
server:
  port: 9090
  operation_timeout: 2s
  tls:
    enabled: true
    hosts: [dagvc.internal]
    valid_for: 720h
archive:
  backend: file
  dir: /var/lib/dagvc
bus:
  address: tcp://127.0.0.1:40899
`)
	cfg := Default()
	if err := Parse(data, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.OperationTimeout != 2*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if !cfg.Server.TLS.Enabled || cfg.Server.TLS.ValidFor != 720*time.Hour || !cfg.Server.TLS.AutoGenerate {
		t.Errorf("tls = %+v", cfg.Server.TLS)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("unset key lost its default: %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Archive.Backend != ArchiveFile || cfg.Archive.Dir != "/var/lib/dagvc" {
		t.Errorf("archive = %+v", cfg.Archive)
	}
	if cfg.HashAlgorithm() != hasher.BLAKE2b256 || cfg.LogLevel() != logging.DebugLevel {
		t.Errorf("hash=%s level=%s", cfg.HashAlgorithm(), cfg.LogLevel())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	if err := Parse([]byte("server:\n  prot: 1\n"), &cfg); err == nil {
		t.Error("unknown key should be rejected")
	}
	empty := Default()
	if err := Parse(nil, &empty); err != nil {
		t.Errorf("empty document: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"LOG_LEVEL":               "warn",
		"DAGVC_PORT":              "7000",
		"DAGVC_OPERATION_TIMEOUT": "250ms",
		"DAGVC_ARCHIVE_BACKEND":   "s3",
		"DAGVC_S3_BUCKET":         "versions",
		"DAGVC_S3_PATH_STYLE":     "true",
		"DAGVC_RECORDER_CAPACITY": "64",
		"DAGVC_BUS_ADDRESS":       "inproc://bus",
		"DAGVC_HASH_ALGORITHM":    "",
		"DAGVC_TLS_ENABLED":       "true",
		"DAGVC_TLS_CERT_FILE":     "/etc/dagvc/tls.crt",
		"DAGVC_AUDIT_PERSIST":     "1",
		"DAGVC_AUDIT_DIR":         "/var/lib/dagvc/audit",
		"DAGVC_VALIDATION_RULES":  "require_active_gateways, Forbid_Error_Nodes,",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel() != logging.WarnLevel {
		t.Errorf("level = %s", cfg.LogLevel())
	}
	if cfg.Server.Port != 7000 || cfg.Server.OperationTimeout != 250*time.Millisecond {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Archive.Backend != ArchiveS3 || cfg.Archive.S3.Bucket != "versions" || !cfg.Archive.S3.UsePathStyle {
		t.Errorf("archive = %+v", cfg.Archive)
	}
	if cfg.Telemetry.RecorderCapacity != 64 || cfg.Bus.Address != "inproc://bus" {
		t.Errorf("telemetry=%d bus=%q", cfg.Telemetry.RecorderCapacity, cfg.Bus.Address)
	}
	if !cfg.Server.TLS.Enabled || cfg.Server.TLS.CertFile != "/etc/dagvc/tls.crt" {
		t.Errorf("tls = %+v", cfg.Server.TLS)
	}
	if !cfg.Audit.Enabled || !cfg.Audit.Persist || cfg.Audit.Persistent.Dir != "/var/lib/dagvc/audit" {
		t.Errorf("audit = %+v", cfg.Audit)
	}
	if cfg.Hash.Algorithm != string(hasher.SHA256) {
		t.Errorf("empty override replaced the algorithm: %q", cfg.Hash.Algorithm)
	}
	rules, err := cfg.ValidationRules()
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 || rules[0] != validation.RuleRequireActiveGateways || rules[1] != validation.RuleForbidErrorNodes {
		t.Errorf("rules = %v", rules)
	}

	bad := Default()
	err = bad.ApplyEnv(env(map[string]string{"DAGVC_PORT": "eighty", "DAGVC_ARCHIVE_TIMEOUT": "soon", "DAGVC_AUDIT_ENABLED": "maybe"}))
	if err == nil || !strings.Contains(err.Error(), "DAGVC_PORT") || !strings.Contains(err.Error(), "DAGVC_ARCHIVE_TIMEOUT") ||
		!strings.Contains(err.Error(), "DAGVC_AUDIT_ENABLED") {
		t.Errorf("error = %v, want both variables reported", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"algorithm", func(c *Config) { c.Hash.Algorithm = "md5" }, "hash.algorithm"},
		{"unknown rule", func(c *Config) { c.Validation.Rules = []string{"require_active_gateways", "be_nice"} }, "validation.rules"},
		{"short secret", func(c *Config) { c.Server.JWTSecret = "secret" }, "server.jwt_secret"},
		{"previous secret alone", func(c *Config) { c.Server.JWTPreviousSecret = strings.Repeat("p", 32) }, "server.jwt_secret"},
		{"token ttl", func(c *Config) {
			c.Server.JWTSecret = strings.Repeat("s", 32)
			c.Server.TokenTTL = time.Second
		}, "server.token_ttl"},
		{"tls without certificate", func(c *Config) {
			c.Server.TLS.Enabled = true
			c.Server.TLS.AutoGenerate = false
		}, "server.tls"},
		{"backend", func(c *Config) { c.Archive.Backend = "tape" }, "archive.backend"},
		{"postgres url", func(c *Config) { c.Archive.Backend = ArchivePostgres }, "archive.postgres.url"},
		{"s3 bucket", func(c *Config) { c.Archive.Backend = ArchiveS3 }, "archive.s3.bucket"},
		{"file dir", func(c *Config) { c.Archive.Backend = ArchiveFile; c.Archive.Dir = "" }, "archive.dir"},
		{"archive concurrency", func(c *Config) { c.Archive.Backend = ArchiveFile; c.Archive.Concurrency = 0 }, "archive.concurrency"},
		{"capacity", func(c *Config) { c.Telemetry.RecorderCapacity = 0 }, "telemetry.recorder_capacity"},
		{"operation timeout", func(c *Config) { c.Server.OperationTimeout = 0 }, "server.operation_timeout"},
		{"encryption salt", func(c *Config) {
			c.Archive.Encryption = EncryptionConfig{Salt: "zz", Keys: []ArchiveKey{{Version: 1, Passphrase: "p"}}}
		}, "archive.encryption"},
		{"encryption short salt", func(c *Config) {
			c.Archive.Encryption = EncryptionConfig{Salt: "abcd", Keys: []ArchiveKey{{Version: 1, Passphrase: "p"}}}
		}, "at least"},
		{"encryption duplicate", func(c *Config) {
			c.Archive.Encryption = EncryptionConfig{Salt: strings.Repeat("ab", 16),
				Keys: []ArchiveKey{{Version: 1, Passphrase: "p"}, {Version: 1, Passphrase: "q"}}}
		}, "duplicate key version"},
		{"encryption active", func(c *Config) {
			c.Archive.Encryption = EncryptionConfig{Salt: strings.Repeat("ab", 16), Active: 3,
				Keys: []ArchiveKey{{Version: 1, Passphrase: "p"}}}
		}, "active version 3"},
		{"audit buffer", func(c *Config) { c.Audit.BufferSize = 0 }, "audit.buffer_size"},
		{"audit dir", func(c *Config) { c.Audit.Persist = true; c.Audit.Persistent.Dir = "" }, "audit.persistent.dir"},
		{"audit rotation", func(c *Config) { c.Audit.Persist = true; c.Audit.Persistent.RotationSize = -1 }, "audit.persistent.rotation_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.want)
			}
		})
	}

	cfg := Default()
	cfg.Hash.Algorithm = "md5"
	if err := cfg.Validate(); !errors.Is(err, hasher.ErrUnknownAlgorithm) {
		t.Errorf("error = %v, want ErrUnknownAlgorithm", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dagvc.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8181\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DAGVC_PORT", "")
	t.Setenv("DAGVC_RECORDER_CAPACITY", "32")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8181 || cfg.Telemetry.RecorderCapacity != 32 {
		t.Errorf("port=%d capacity=%d", cfg.Server.Port, cfg.Telemetry.RecorderCapacity)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}

	t.Setenv("DAGVC_ARCHIVE_BACKEND", "tape")
	if _, err := Load(""); err == nil {
		t.Error("invalid override should fail validation")
	}
}

func TestEncryptionKeyring(t *testing.T) {
	enc := EncryptionConfig{
		Salt: strings.Repeat("5a", 16),
		Keys: []ArchiveKey{{Version: 1, Passphrase: "old"}, {Version: 2, Passphrase: "new"}},
	}
	if err := enc.validate(); err != nil {
		t.Fatal(err)
	}
	ring, err := enc.Keyring()
	if err != nil {
		t.Fatal(err)
	}
	if ring.ActiveVersion() != 2 {
		t.Errorf("active = %d, want the highest version", ring.ActiveVersion())
	}

	enc.Active = 1
	ring, err = enc.Keyring()
	if err != nil || ring.ActiveVersion() != 1 {
		t.Errorf("active = %v, %v", ring, err)
	}

	cfg := Default()
	if err := cfg.ApplyEnv(env(map[string]string{
		"DAGVC_ARCHIVE_PASSPHRASE": "from-env",
		"DAGVC_ARCHIVE_SALT":       strings.Repeat("01", 16),
	})); err != nil {
		t.Fatal(err)
	}
	if !cfg.Archive.Encryption.Enabled() || cfg.Archive.Encryption.Keys[0].Version != 1 {
		t.Errorf("encryption = %+v", cfg.Archive.Encryption)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}
