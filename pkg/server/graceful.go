// Package server runs the API over HTTP with signal-driven graceful
// shutdown and configuration reload.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-dagvc/pkg/logging"
)

// ConfigReloadFunc is a function that reloads configuration
type ConfigReloadFunc func() error

// Timeouts bounds the HTTP server. Zero fields take the defaults.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Read:     15 * time.Second,
		Write:    15 * time.Second,
		Idle:     60 * time.Second,
		Shutdown: 30 * time.Second,
	}
}

// GracefulServer wraps an HTTP server with graceful shutdown capabilities
type GracefulServer struct {
	server          *http.Server
	logger          logging.Logger
	shutdownTimeout time.Duration
	listener        net.Listener
	ready           chan struct{}
	shutdownCh      chan struct{}
	shutdownOnce    sync.Once
	configReloadFn  ConfigReloadFunc
	configMu        sync.RWMutex
}

// NewGracefulServer creates a new graceful HTTP server
func NewGracefulServer(addr string, handler http.Handler, timeouts Timeouts, logger logging.Logger) *GracefulServer {
	def := DefaultTimeouts()
	if timeouts.Read <= 0 {
		timeouts.Read = def.Read
	}
	if timeouts.Write <= 0 {
		timeouts.Write = def.Write
	}
	if timeouts.Idle <= 0 {
		timeouts.Idle = def.Idle
	}
	if timeouts.Shutdown <= 0 {
		timeouts.Shutdown = def.Shutdown
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &GracefulServer{
		server: &http.Server{
			Addr:           addr,
			Handler:        handler,
			ReadTimeout:    timeouts.Read,
			WriteTimeout:   timeouts.Write,
			IdleTimeout:    timeouts.Idle,
			MaxHeaderBytes: 1 << 20,
		},
		logger:          logger.With(logging.Component("server")),
		shutdownTimeout: timeouts.Shutdown,
		ready:           make(chan struct{}),
		shutdownCh:      make(chan struct{}),
	}
}

// SetTLSConfig serves HTTPS with c. It must be called before Run; nil
// keeps plain HTTP.
func (gs *GracefulServer) SetTLSConfig(c *tls.Config) {
	gs.server.TLSConfig = c
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully. SIGHUP triggers a configuration reload.
func (gs *GracefulServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return err
	}
	scheme := "http"
	if gs.server.TLSConfig != nil {
		ln = tls.NewListener(ln, gs.server.TLSConfig)
		scheme = "https"
	}
	gs.listener = ln

	// Signal handlers are in place before Ready closes.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	close(gs.ready)

	serveErr := make(chan error, 1)
	go func() {
		gs.logger.Info("starting HTTP server",
			logging.String("addr", ln.Addr().String()),
			logging.String("scheme", scheme))
		serveErr <- gs.server.Serve(ln)
	}()

	for {
		select {
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			gs.logger.Info("context cancelled, starting graceful shutdown")
			return gs.Shutdown(gs.shutdownTimeout)
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				gs.logger.Info("received SIGHUP, reloading configuration")
				gs.ReloadConfig()
				continue
			}
			gs.logger.Info("received signal, starting graceful shutdown", logging.String("signal", sig.String()))
			return gs.Shutdown(gs.shutdownTimeout)
		}
	}
}

// Addr returns the bound address once Run is listening.
func (gs *GracefulServer) Addr() string {
	<-gs.ready
	return gs.listener.Addr().String()
}

// Shutdown initiates a graceful shutdown
func (gs *GracefulServer) Shutdown(timeout time.Duration) error {
	var err error
	gs.shutdownOnce.Do(func() {
		close(gs.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		gs.logger.Info("initiating graceful shutdown", logging.Duration("timeout", timeout))
		if err = gs.server.Shutdown(ctx); err != nil {
			gs.logger.Error("error during shutdown", logging.Error(err))
		} else {
			gs.logger.Info("server shutdown complete")
		}
	})
	return err
}

// IsShuttingDown returns true if shutdown has been initiated
func (gs *GracefulServer) IsShuttingDown() bool {
	select {
	case <-gs.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownChannel returns a channel that closes when shutdown is initiated
func (gs *GracefulServer) ShutdownChannel() <-chan struct{} {
	return gs.shutdownCh
}

// SetConfigReloadFunc sets the function to call when configuration reload is triggered
func (gs *GracefulServer) SetConfigReloadFunc(fn ConfigReloadFunc) {
	gs.configMu.Lock()
	defer gs.configMu.Unlock()
	gs.configReloadFn = fn
}

// ReloadConfig triggers a configuration reload
func (gs *GracefulServer) ReloadConfig() error {
	gs.configMu.RLock()
	reloadFn := gs.configReloadFn
	gs.configMu.RUnlock()

	if reloadFn == nil {
		gs.logger.Warn("configuration reload requested, but no reload function configured")
		return nil
	}

	if err := reloadFn(); err != nil {
		gs.logger.Error("configuration reload failed", logging.Error(err))
		return err
	}
	gs.logger.Info("configuration reload complete")
	return nil
}
