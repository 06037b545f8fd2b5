package api

import (
	"net/http"
	"time"

	"github.com/dd0wney/cluso-dagvc/pkg/archive"
	"github.com/dd0wney/cluso-dagvc/pkg/audit"
	"github.com/dd0wney/cluso-dagvc/pkg/auth"
	"github.com/dd0wney/cluso-dagvc/pkg/health"
	"github.com/dd0wney/cluso-dagvc/pkg/logging"
	"github.com/dd0wney/cluso-dagvc/pkg/metrics"
	"github.com/dd0wney/cluso-dagvc/pkg/telemetry"
	"github.com/dd0wney/cluso-dagvc/pkg/versionstore"
)

// Server represents the HTTP API server
type Server struct {
	store            *versionstore.Store
	archiver         *archive.Archiver   // nil when no archive backend is configured
	recorder         *telemetry.Recorder // backs GET /events; nil disables it
	audit            audit.Logger        // nil disables auditing
	metricsRegistry  *metrics.Registry
	tokenValidator   auth.TokenValidator // nil disables authentication
	graphqlHandler   http.Handler
	health           *health.HealthChecker
	logger           logging.Logger
	operationTimeout time.Duration
	maxBodyBytes     int64
	startTime        time.Time
	version          string
}

// Option configures a Server.
type Option func(*Server)

// WithArchiver persists committed snapshots and bundles through a.
func WithArchiver(a *archive.Archiver) Option {
	return func(s *Server) { s.archiver = a }
}

// WithRecorder exposes recorded telemetry events on GET /events.
func WithRecorder(r *telemetry.Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithAudit records every mutation in l. GET /audit is served when l
// implements audit.Querier.
func WithAudit(l audit.Logger) Option {
	return func(s *Server) { s.audit = l }
}

// WithMetrics sets the registry served on /metrics and used for request
// metrics.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Server) { s.metricsRegistry = r }
}

// WithTokenValidator enables bearer-token authentication.
func WithTokenValidator(v auth.TokenValidator) Option {
	return func(s *Server) { s.tokenValidator = v }
}

// WithLogger sets the request and error logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithOperationTimeout bounds every store mutation.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Server) { s.operationTimeout = d }
}

// WithMaxBodyBytes limits request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBodyBytes = n }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}
