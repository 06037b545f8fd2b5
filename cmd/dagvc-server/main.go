package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dd0wney/cluso-dagvc/pkg/api"
	"github.com/dd0wney/cluso-dagvc/pkg/archive"
	"github.com/dd0wney/cluso-dagvc/pkg/audit"
	"github.com/dd0wney/cluso-dagvc/pkg/auth"
	"github.com/dd0wney/cluso-dagvc/pkg/config"
	"github.com/dd0wney/cluso-dagvc/pkg/hasher"
	"github.com/dd0wney/cluso-dagvc/pkg/logging"
	"github.com/dd0wney/cluso-dagvc/pkg/metrics"
	"github.com/dd0wney/cluso-dagvc/pkg/pubsub"
	"github.com/dd0wney/cluso-dagvc/pkg/server"
	"github.com/dd0wney/cluso-dagvc/pkg/telemetry"
	dagvctls "github.com/dd0wney/cluso-dagvc/pkg/tls"
	"github.com/dd0wney/cluso-dagvc/pkg/validation"
	"github.com/dd0wney/cluso-dagvc/pkg/versionstore"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "Path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewJSONLogger(os.Stdout, cfg.LogLevel())
	logging.SetDefaultLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, cfg, logger); err != nil {
		logger.Error("server exited with error", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(ctx context.Context, configPath string, cfg config.Config, logger *logging.JSONLogger) error {
	logger.Info("dagvc server starting",
		logging.Version(version),
		logging.String("hash_algorithm", cfg.Hash.Algorithm),
		logging.String("archive", cfg.Archive.Backend))

	registry := metrics.NewRegistry()

	h, err := hasher.New(cfg.HashAlgorithm())
	if err != nil {
		return err
	}
	validator, err := newValidator(cfg)
	if err != nil {
		return err
	}
	if rules := validator.Rules(); len(rules) > 0 {
		logger.Info("topology rules enabled", logging.Count(len(rules)))
	}

	// Telemetry: every store operation goes to the ring buffer, the log,
	// Prometheus and the in-process broker. The broker feeds the message bus.
	recorder := telemetry.NewRecorder(cfg.Telemetry.RecorderCapacity)
	broker := pubsub.NewBroker[telemetry.Event]()
	defer broker.Shutdown()
	emitter := telemetry.NewMulti(
		recorder,
		telemetry.NewLogEmitter(logger),
		telemetry.NewMetricsEmitter(registry),
		telemetry.NewBrokerEmitter(broker),
	)

	if cfg.Bus.Address != "" {
		bus, err := telemetry.NewBusPublisher(cfg.Bus.Address, registry, logger)
		if err != nil {
			return fmt.Errorf("telemetry bus: %w", err)
		}
		defer bus.Close()
		go func() {
			if err := bus.Run(ctx, broker); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("telemetry bus stopped", logging.Error(err))
			}
		}()
		logger.Info("telemetry bus listening", logging.String("addr", bus.Addr()))
	}

	store := versionstore.New(
		versionstore.WithHasher(h),
		versionstore.WithValidator(validator),
		versionstore.WithAgentRegistry(versionstore.NewMemoryRegistry()),
		versionstore.WithEmitter(emitter),
		versionstore.WithMetrics(registry),
		versionstore.WithLogger(logger),
	)

	opts := []api.Option{
		api.WithRecorder(recorder),
		api.WithMetrics(registry),
		api.WithLogger(logger),
		api.WithOperationTimeout(cfg.Server.OperationTimeout),
		api.WithMaxBodyBytes(int64(cfg.Server.MaxBodyBytes)),
		api.WithVersion(version),
	}

	archiver, err := openArchive(ctx, cfg.Archive, registry, logger)
	if err != nil {
		return err
	}
	if archiver != nil {
		defer archiver.Backend().Close()
		snaps, bundles, err := archiver.Hydrate(ctx, store)
		if err != nil {
			// Unreadable objects are skipped; the rest of the history is served.
			logger.Warn("archive hydrated with errors", logging.Error(err))
		}
		logger.Info("archive hydrated", logging.Count(snaps), logging.Int("bundles", bundles))
		opts = append(opts, api.WithArchiver(archiver))
	}

	tokenVal, err := tokenValidator(cfg.Server)
	if err != nil {
		return err
	}
	if tokenVal != nil {
		opts = append(opts, api.WithTokenValidator(tokenVal))
		logger.Info("bearer authentication enabled", logging.String("validator", tokenVal.Name()))
	} else {
		logger.Warn("authentication disabled: no jwt_secret configured")
	}

	trail, closeAudit, err := openAudit(cfg.Audit, logger)
	if err != nil {
		return err
	}
	defer closeAudit()
	if trail != nil {
		opts = append(opts, api.WithAudit(trail))
	}

	apiServer, err := api.NewServer(store, opts...)
	if err != nil {
		return err
	}

	gs := server.NewGracefulServer(fmt.Sprintf(":%d", cfg.Server.Port), apiServer.Handler(), server.Timeouts{
		Read:     cfg.Server.ReadTimeout,
		Write:    cfg.Server.WriteTimeout,
		Idle:     cfg.Server.IdleTimeout,
		Shutdown: cfg.Server.ShutdownTimeout,
	}, logger)
	tlsConf, err := dagvctls.Load(&cfg.Server.TLS)
	if err != nil {
		return err
	}
	gs.SetTLSConfig(tlsConf)
	gs.SetConfigReloadFunc(func() error {
		next, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger.SetLevel(next.LogLevel())
		logger.Info("log level reloaded", logging.String("level", next.LogLevel().String()))
		return nil
	})

	if err := gs.Run(ctx); err != nil {
		return err
	}

	if archiver != nil {
		if err := archiver.Persist(context.Background(), store); err != nil {
			logger.Warn("final archive flush incomplete", logging.Error(err))
		}
	}
	return nil
}

// openAudit builds the audit sink. The returned close func is never nil.
func openAudit(cfg config.AuditConfig, logger logging.Logger) (audit.Logger, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}
	ring := audit.NewAuditLogger(cfg.BufferSize)
	if !cfg.Persist {
		return ring, func() {}, nil
	}

	persistent, err := audit.NewPersistentAuditLogger(cfg.Persistent)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	n, err := audit.VerifyChain(cfg.Persistent.Dir)
	if err != nil {
		persistent.Close()
		return nil, nil, fmt.Errorf("audit log failed verification after %d events: %w", n, err)
	}
	logger.Info("audit log verified", logging.Count(n), logging.String("dir", cfg.Persistent.Dir))

	return audit.NewMulti(ring, persistent), func() {
		if err := persistent.Close(); err != nil {
			logger.Warn("failed to close audit log", logging.Error(err))
		}
	}, nil
}

func openArchive(ctx context.Context, cfg config.ArchiveConfig, registry *metrics.Registry, logger logging.Logger) (*archive.Archiver, error) {
	var (
		backend archive.Backend
		err     error
	)
	switch cfg.Backend {
	case config.ArchiveNone:
		return nil, nil
	case config.ArchiveFile:
		backend, err = archive.NewFileBackend(cfg.Dir)
	case config.ArchivePostgres:
		backend, err = archive.NewPostgresBackend(ctx, archive.PostgresConfig{
			URL:      cfg.Postgres.URL,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
		})
	case config.ArchiveS3:
		backend, err = archive.NewS3Backend(ctx, archive.S3Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s archive: %w", cfg.Backend, err)
	}
	if cfg.Encryption.Enabled() {
		ring, err := cfg.Encryption.Keyring()
		if err != nil {
			backend.Close()
			return nil, err
		}
		backend = archive.NewEncryptedBackend(backend, ring)
		logger.Info("archive encryption enabled",
			logging.Int("keys", len(ring.Versions())),
			logging.Int("active_version", int(ring.ActiveVersion())))
	}
	return archive.New(backend,
		archive.WithTimeout(cfg.Timeout),
		archive.WithConcurrency(cfg.Concurrency),
		archive.WithMetrics(registry),
		archive.WithLogger(logger),
	), nil
}

// newValidator builds the integrity validator with the configured rules.
func newValidator(cfg config.Config) (*validation.Validator, error) {
	rules, err := cfg.ValidationRules()
	if err != nil {
		return nil, err
	}
	return validation.New(validation.WithRules(rules...)), nil
}

// tokenValidator accepts tokens signed with the current secret and, during
// a rotation, with the previous one.
func tokenValidator(cfg config.ServerConfig) (auth.TokenValidator, error) {
	if cfg.JWTSecret == "" {
		return nil, nil
	}
	current, err := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	if cfg.JWTPreviousSecret == "" {
		return current, nil
	}
	previous, err := auth.NewJWTManager(cfg.JWTPreviousSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	return auth.NewCompositeTokenValidator(current, previous), nil
}
