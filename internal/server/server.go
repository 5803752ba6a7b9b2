// Package server exposes the HTTP surface: the SSE stream endpoints, the
// hook ingest endpoints, and the health and metrics endpoints.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cordona/hookrelay/internal/config"
	"github.com/cordona/hookrelay/internal/hooks"
	"github.com/cordona/hookrelay/internal/limits"
	"github.com/cordona/hookrelay/internal/registry"
	"github.com/cordona/hookrelay/internal/relay"
	"github.com/cordona/hookrelay/internal/work"
)

// userHeader carries the authenticated user's external ID, resolved by the
// upstream auth proxy before requests reach this service.
const userHeader = "X-User-External-Id"

// Server wires the HTTP layer to the relay core.
type Server struct {
	cfg         *config.Config
	logger      zerolog.Logger
	reg         *registry.Registry
	manager     *relay.Manager
	hookService *hooks.Service
	rateLimiter *limits.UserRateLimiter
	pool        *work.Pool

	listener     net.Listener
	httpServer   *http.Server
	startTime    time.Time
	shuttingDown atomic.Bool
}

// New assembles the server over its collaborators.
func New(cfg *config.Config, reg *registry.Registry, manager *relay.Manager, hookService *hooks.Service, rateLimiter *limits.UserRateLimiter, pool *work.Pool, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		reg:         reg,
		manager:     manager,
		hookService: hookService,
		rateLimiter: rateLimiter,
		pool:        pool,
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /hooks/events/stream", s.handleStream)
	mux.HandleFunc("DELETE /hooks/events/stream/{connectionId}", s.handleDisconnect)
	mux.HandleFunc("POST /hooks/stop", s.handleStopHook)
	mux.HandleFunc("POST /hooks/notification", s.handleNotificationHook)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		// WriteTimeout stays zero: SSE responses are open-ended, and
		// per-write deadlines are enforced on each stream instead.
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return s
}

// Start begins serving. It returns once the listener is bound; the accept
// loop runs until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.logger.Info().
		Str("addr", s.cfg.Addr).
		Msg("Server listening")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().
				Err(err).
				Msg("Server accept loop error")
		}
	}()
	return nil
}

// Shutdown stops accepting new streams, closes every live transport so the
// blocked stream handlers return, then shuts the HTTP server down within the
// configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shuttingDown.Store(true)

	active := s.reg.CountConnections()
	s.logger.Info().
		Int("active_connections", active).
		Msg("Initiating graceful shutdown")

	s.reg.Shutdown()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info().Msg("Graceful shutdown completed")
	return nil
}
