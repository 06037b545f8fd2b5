// Package config loads server configuration from a YAML file, environment
// overrides and defaults, in increasing order of precedence: defaults, file,
// environment.
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-dagvc/pkg/audit"
	"github.com/dd0wney/cluso-dagvc/pkg/encryption"
	"github.com/dd0wney/cluso-dagvc/pkg/hasher"
	"github.com/dd0wney/cluso-dagvc/pkg/logging"
	dagvctls "github.com/dd0wney/cluso-dagvc/pkg/tls"
	"github.com/dd0wney/cluso-dagvc/pkg/validation"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DAGVC_"

// Archive backends.
const (
	ArchiveNone     = "none"
	ArchiveFile     = "file"
	ArchivePostgres = "postgres"
	ArchiveS3       = "s3"
)

// Config is the complete server configuration.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Hash       HashConfig       `yaml:"hash"`
	Validation ValidationConfig `yaml:"validation"`
	Server     ServerConfig     `yaml:"server"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Bus        BusConfig        `yaml:"bus"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Audit      AuditConfig      `yaml:"audit"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type HashConfig struct {
	Algorithm string `yaml:"algorithm"`
}

// ValidationConfig names the optional topology rules every commit must pass
// in addition to the integrity checks, e.g. require_active_gateways.
type ValidationConfig struct {
	Rules []string `yaml:"rules"`
}

type ServerConfig struct {
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	MaxBodyBytes     int           `yaml:"max_body_bytes"`
	// JWTSecret enables bearer-token authentication when set.
	JWTSecret string `yaml:"jwt_secret"`
	// JWTPreviousSecret keeps tokens signed before a secret rotation valid.
	JWTPreviousSecret string          `yaml:"jwt_previous_secret"`
	TokenTTL          time.Duration   `yaml:"token_ttl"`
	TLS               dagvctls.Config `yaml:"tls"`
}

type ArchiveConfig struct {
	Backend string        `yaml:"backend"`
	Timeout time.Duration `yaml:"timeout"`
	// Concurrency bounds parallel object transfers during load and flush.
	Concurrency int            `yaml:"concurrency"`
	Dir         string         `yaml:"dir"`
	Postgres    PostgresConfig `yaml:"postgres"`
	S3          S3Config       `yaml:"s3"`
	// Encryption seals stored objects when at least one key is set.
	Encryption EncryptionConfig `yaml:"encryption"`
}

// EncryptionConfig lists passphrase-derived archive keys. Objects are
// sealed with Active (the highest version when zero); older versions stay
// readable so keys can rotate.
type EncryptionConfig struct {
	// Salt is hex encoded and shared by every key.
	Salt   string       `yaml:"salt"`
	Active uint32       `yaml:"active"`
	Keys   []ArchiveKey `yaml:"keys"`
}

type ArchiveKey struct {
	Version    uint32 `yaml:"version"`
	Passphrase string `yaml:"passphrase"`
}

// Enabled reports whether archive encryption is configured.
func (e EncryptionConfig) Enabled() bool { return len(e.Keys) > 0 }

// Keyring derives every configured key and activates the active version.
func (e EncryptionConfig) Keyring() (*encryption.Keyring, error) {
	salt, err := hex.DecodeString(e.Salt)
	if err != nil {
		return nil, fmt.Errorf("archive.encryption.salt: %w", err)
	}
	ring := encryption.NewKeyring()
	var highest uint32
	for _, k := range e.Keys {
		key, err := encryption.DeriveKey(k.Passphrase, salt)
		if err != nil {
			return nil, fmt.Errorf("archive.encryption key %d: %w", k.Version, err)
		}
		if err := ring.Add(k.Version, key); err != nil {
			return nil, err
		}
		highest = max(highest, k.Version)
	}
	active := e.Active
	if active == 0 {
		active = highest
	}
	if err := ring.Activate(active); err != nil {
		return nil, err
	}
	return ring, nil
}

type PostgresConfig struct {
	URL      string `yaml:"url"`
	Table    string `yaml:"table"`
	MaxConns int32  `yaml:"max_conns"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// BusConfig configures the telemetry message bus. An empty address
// disables it.
type BusConfig struct {
	Address string `yaml:"address"`
}

type TelemetryConfig struct {
	RecorderCapacity int `yaml:"recorder_capacity"`
}

// AuditConfig configures the mutation audit trail. The in-memory ring
// serves GET /audit; Persistent adds a hash-chained log on disk.
type AuditConfig struct {
	Enabled    bool                   `yaml:"enabled"`
	BufferSize int                    `yaml:"buffer_size"`
	Persist    bool                   `yaml:"persist"`
	Persistent audit.PersistentConfig `yaml:"persistent"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Log:  LogConfig{Level: "info"},
		Hash: HashConfig{Algorithm: string(hasher.SHA256)},
		Server: ServerConfig{
			Port:             8080,
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     15 * time.Second,
			IdleTimeout:      60 * time.Second,
			ShutdownTimeout:  30 * time.Second,
			OperationTimeout: 10 * time.Second,
			MaxBodyBytes:     10 << 20,
			TokenTTL:         24 * time.Hour,
			TLS:              dagvctls.DefaultConfig(),
		},
		Archive: ArchiveConfig{
			Backend:     ArchiveNone,
			Timeout:     30 * time.Second,
			Concurrency: 4,
			Dir:         "./data/archive",
		},
		Telemetry: TelemetryConfig{RecorderCapacity: 1024},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			Persistent: audit.DefaultPersistentConfig(),
		},
	}
}

// Load reads path (when non-empty), applies environment overrides from the
// process environment and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Keys absent from data keep their current
// values; unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	str("LOG_LEVEL", &c.Log.Level)
	str(EnvPrefix+"LOG_LEVEL", &c.Log.Level)
	str(EnvPrefix+"HASH_ALGORITHM", &c.Hash.Algorithm)
	if v, ok := lookup(EnvPrefix + "VALIDATION_RULES"); ok && v != "" {
		c.Validation.Rules = nil
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.Validation.Rules = append(c.Validation.Rules, name)
			}
		}
	}

	num(EnvPrefix+"PORT", &c.Server.Port)
	dur(EnvPrefix+"OPERATION_TIMEOUT", &c.Server.OperationTimeout)
	dur(EnvPrefix+"SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	str(EnvPrefix+"JWT_SECRET", &c.Server.JWTSecret)
	str(EnvPrefix+"JWT_PREVIOUS_SECRET", &c.Server.JWTPreviousSecret)
	str(EnvPrefix+"TLS_CERT_FILE", &c.Server.TLS.CertFile)
	str(EnvPrefix+"TLS_KEY_FILE", &c.Server.TLS.KeyFile)
	if v, ok := lookup(EnvPrefix + "TLS_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTLS_ENABLED: %w", EnvPrefix, err))
		} else {
			c.Server.TLS.Enabled = b
		}
	}

	str(EnvPrefix+"ARCHIVE_BACKEND", &c.Archive.Backend)
	str(EnvPrefix+"ARCHIVE_DIR", &c.Archive.Dir)
	dur(EnvPrefix+"ARCHIVE_TIMEOUT", &c.Archive.Timeout)
	str(EnvPrefix+"ARCHIVE_SALT", &c.Archive.Encryption.Salt)
	if v, ok := lookup(EnvPrefix + "ARCHIVE_PASSPHRASE"); ok && v != "" && len(c.Archive.Encryption.Keys) == 0 {
		c.Archive.Encryption.Keys = []ArchiveKey{{Version: 1, Passphrase: v}}
	}
	str(EnvPrefix+"DATABASE_URL", &c.Archive.Postgres.URL)
	str(EnvPrefix+"S3_BUCKET", &c.Archive.S3.Bucket)
	str(EnvPrefix+"S3_PREFIX", &c.Archive.S3.Prefix)
	str(EnvPrefix+"S3_REGION", &c.Archive.S3.Region)
	str(EnvPrefix+"S3_ENDPOINT", &c.Archive.S3.Endpoint)
	if v, ok := lookup(EnvPrefix + "S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sS3_PATH_STYLE: %w", EnvPrefix, err))
		} else {
			c.Archive.S3.UsePathStyle = b
		}
	}

	str(EnvPrefix+"BUS_ADDRESS", &c.Bus.Address)
	num(EnvPrefix+"RECORDER_CAPACITY", &c.Telemetry.RecorderCapacity)

	str(EnvPrefix+"AUDIT_DIR", &c.Audit.Persistent.Dir)
	for name, dst := range map[string]*bool{
		"AUDIT_ENABLED": &c.Audit.Enabled,
		"AUDIT_PERSIST": &c.Audit.Persist,
	} {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				continue
			}
			*dst = b
		}
	}

	return errors.Join(errs...)
}

// Validate checks every section and reports all problems together.
func (c *Config) Validate() error {
	var errs []error

	logCV := validation.NewConfigValidator("log").
		OneOf("level", strings.ToLower(c.Log.Level), []string{"debug", "info", "warn", "warning", "error"})
	errs = append(errs, logCV.Errors()...)

	hashCV := validation.NewConfigValidator("hash").
		Custom("algorithm", func() error {
			if !hasher.Algorithm(c.Hash.Algorithm).IsValid() {
				return fmt.Errorf("%w: %q", hasher.ErrUnknownAlgorithm, c.Hash.Algorithm)
			}
			return nil
		})
	errs = append(errs, hashCV.Errors()...)

	validationCV := validation.NewConfigValidator("validation").
		Custom("rules", func() error {
			_, err := c.ValidationRules()
			return err
		})
	errs = append(errs, validationCV.Errors()...)

	serverCV := validation.NewConfigValidator("server").
		RangeInt("port", c.Server.Port, 1, 65535).
		MinDuration("read_timeout", c.Server.ReadTimeout, time.Second).
		MinDuration("write_timeout", c.Server.WriteTimeout, time.Second).
		MinDuration("shutdown_timeout", c.Server.ShutdownTimeout, time.Second).
		MinDuration("operation_timeout", c.Server.OperationTimeout, 10*time.Millisecond).
		Positive("max_body_bytes", c.Server.MaxBodyBytes).
		When(c.Server.JWTSecret != "", func(cv *validation.ConfigValidator) {
			cv.MinLength("jwt_secret", c.Server.JWTSecret, 32).
				MinDuration("token_ttl", c.Server.TokenTTL, time.Minute)
		}).
		When(c.Server.JWTPreviousSecret != "", func(cv *validation.ConfigValidator) {
			cv.Required("jwt_secret", c.Server.JWTSecret).
				MinLength("jwt_previous_secret", c.Server.JWTPreviousSecret, 32)
		}).
		Custom("tls", c.Server.TLS.Validate)
	errs = append(errs, serverCV.Errors()...)

	archiveCV := validation.NewConfigValidator("archive").
		OneOf("backend", c.Archive.Backend, []string{ArchiveNone, ArchiveFile, ArchivePostgres, ArchiveS3}).
		When(c.Archive.Backend != ArchiveNone, func(cv *validation.ConfigValidator) {
			cv.MinDuration("timeout", c.Archive.Timeout, 100*time.Millisecond).
				RangeInt("concurrency", c.Archive.Concurrency, 1, 256)
		}).
		When(c.Archive.Backend == ArchiveFile, func(cv *validation.ConfigValidator) {
			cv.Required("dir", c.Archive.Dir)
		}).
		When(c.Archive.Backend == ArchivePostgres, func(cv *validation.ConfigValidator) {
			cv.Required("postgres.url", c.Archive.Postgres.URL)
		}).
		When(c.Archive.Backend == ArchiveS3, func(cv *validation.ConfigValidator) {
			cv.Required("s3.bucket", c.Archive.S3.Bucket)
		}).
		When(c.Archive.Encryption.Enabled(), func(cv *validation.ConfigValidator) {
			cv.Custom("encryption", c.Archive.Encryption.validate)
		})
	errs = append(errs, archiveCV.Errors()...)

	telemetryCV := validation.NewConfigValidator("telemetry").
		Positive("recorder_capacity", c.Telemetry.RecorderCapacity)
	errs = append(errs, telemetryCV.Errors()...)

	auditCV := validation.NewConfigValidator("audit").
		When(c.Audit.Enabled, func(cv *validation.ConfigValidator) {
			cv.Positive("buffer_size", c.Audit.BufferSize)
		}).
		When(c.Audit.Enabled && c.Audit.Persist, func(cv *validation.ConfigValidator) {
			cv.Required("persistent.dir", c.Audit.Persistent.Dir).
				Custom("persistent.rotation_size", func() error {
					if c.Audit.Persistent.RotationSize < 0 {
						return errors.New("must not be negative")
					}
					return nil
				})
		})
	errs = append(errs, auditCV.Errors()...)

	return errors.Join(errs...)
}

func (e EncryptionConfig) validate() error {
	salt, err := hex.DecodeString(e.Salt)
	if err != nil {
		return fmt.Errorf("salt must be hex: %w", err)
	}
	if len(salt) < encryption.MinSaltSize {
		return fmt.Errorf("salt must be at least %d bytes", encryption.MinSaltSize)
	}
	seen := make(map[uint32]bool, len(e.Keys))
	for _, k := range e.Keys {
		switch {
		case k.Version == 0:
			return errors.New("key versions start at 1")
		case seen[k.Version]:
			return fmt.Errorf("duplicate key version %d", k.Version)
		case k.Passphrase == "":
			return fmt.Errorf("key %d has no passphrase", k.Version)
		}
		seen[k.Version] = true
	}
	if e.Active != 0 && !seen[e.Active] {
		return fmt.Errorf("active version %d is not configured", e.Active)
	}
	return nil
}

// LogLevel returns the configured logging level.
func (c *Config) LogLevel() logging.Level {
	return logging.ParseLevel(strings.ToLower(c.Log.Level))
}

// ValidationRules resolves the configured rule names.
func (c *Config) ValidationRules() ([]validation.Rule, error) {
	rules := make([]validation.Rule, 0, len(c.Validation.Rules))
	for _, name := range c.Validation.Rules {
		r, err := validation.ParseRule(name)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// HashAlgorithm returns the configured hash algorithm.
func (c *Config) HashAlgorithm() hasher.Algorithm {
	return hasher.Algorithm(c.Hash.Algorithm)
}
