// Package api exposes a version store over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-dagvc/pkg/api/middleware"
	"github.com/dd0wney/cluso-dagvc/pkg/audit"
	"github.com/dd0wney/cluso-dagvc/pkg/auth"
	"github.com/dd0wney/cluso-dagvc/pkg/graphql"
	"github.com/dd0wney/cluso-dagvc/pkg/health"
	"github.com/dd0wney/cluso-dagvc/pkg/logging"
	"github.com/dd0wney/cluso-dagvc/pkg/metrics"
	"github.com/dd0wney/cluso-dagvc/pkg/versionstore"
)

// Defaults applied when the matching option is not given.
const (
	DefaultOperationTimeout = 10 * time.Second
	DefaultMaxBodyBytes     = 10 << 20
)

// NewServer creates a new API server over store.
func NewServer(store *versionstore.Store, opts ...Option) (*Server, error) {
	s := &Server{
		store:            store,
		logger:           logging.NewNopLogger(),
		operationTimeout: DefaultOperationTimeout,
		maxBodyBytes:     DefaultMaxBodyBytes,
		startTime:        time.Now(),
		version:          "1.0.0",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metricsRegistry == nil {
		s.metricsRegistry = metrics.NewRegistry()
	}
	s.logger = s.logger.With(logging.Component("api"))

	limits := graphql.DefaultLimitConfig()
	schema, err := graphql.NewSchema(store, limits)
	if err != nil {
		return nil, err
	}
	s.graphqlHandler = graphql.NewHandler(schema, limits.MaxDepth)

	s.health = health.NewHealthChecker(health.DefaultCheckTimeout)
	s.health.RegisterLivenessCheck("memory", health.MemoryCheck(0))
	s.health.RegisterReadinessCheck("integrity", health.IntegrityCheck(store.Latest))
	if s.archiver != nil {
		s.health.RegisterReadinessCheck("archive", health.ArchiveCheck(s.archiver.Backend()))
	}
	return s, nil
}

// Handler returns the routed API wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	authenticate := middleware.Authenticate(s.tokenValidator, s.metricsRegistry)
	guard := func(perm auth.Permission) func(http.HandlerFunc) http.Handler {
		return func(h http.HandlerFunc) http.Handler {
			return authenticate(middleware.Require(perm, h))
		}
	}
	read, write, admin := guard(auth.PermRead), guard(auth.PermWrite), guard(auth.PermAdmin)

	// Health and metrics are served without authentication.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/live", s.health.LivenessHandler())
	mux.HandleFunc("GET /health/ready", s.health.ReadinessHandler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metricsRegistry.GetPrometheusRegistry(), promhttp.HandlerOpts{}))

	// Validation
	mux.Handle("POST /validate", read(s.handleValidate))

	// Snapshots
	mux.Handle("POST /snapshots", write(s.audited(audit.ActionCommit, audit.ResourceSnapshot, s.handleCommit)))
	mux.Handle("GET /snapshots", read(s.handleListSnapshots))
	mux.Handle("GET /snapshots/latest", read(s.handleLatest))
	mux.Handle("GET /snapshots/{hash}", read(s.handleGetSnapshot))
	mux.Handle("PATCH /snapshots/{hash}", write(s.audited(audit.ActionUpdate, audit.ResourceSnapshot, s.handleUpdateSnapshot)))
	mux.Handle("DELETE /snapshots/{hash}", admin(s.audited(audit.ActionDelete, audit.ResourceSnapshot, s.handleDeleteSnapshot)))

	// History
	mux.Handle("POST /diff", read(s.handleDiff))
	mux.Handle("POST /apply", write(s.audited(audit.ActionApply, audit.ResourceSnapshot, s.handleApply)))
	mux.Handle("POST /rollback", write(s.audited(audit.ActionRollback, audit.ResourceSnapshot, s.handleRollback)))

	// Bundles
	mux.Handle("POST /bundles", write(s.audited(audit.ActionCreateBundle, audit.ResourceBundle, s.handleCreateBundle)))
	mux.Handle("GET /bundles", read(s.handleListBundles))
	mux.Handle("GET /bundles/{id}", read(s.handleGetBundle))
	mux.Handle("POST /bundles/{id}/restore", write(s.audited(audit.ActionRestore, audit.ResourceBundle, s.handleRestoreBundle)))

	// Telemetry, audit and GraphQL
	mux.Handle("GET /events", read(s.handleEvents))
	mux.Handle("GET /audit", admin(s.handleAudit))
	mux.Handle("POST /graphql", read(s.graphqlHandler.ServeHTTP))

	var handler http.Handler = mux
	handler = middleware.BodySizeLimit(s.maxBodyBytes)(handler)
	handler = middleware.Metrics(s.metricsRegistry)(handler)
	handler = middleware.Logging(s.logger)(handler)
	handler = middleware.PanicRecovery(s.logger)(handler)
	handler = middleware.RequestID()(handler)
	return handler
}
