// Package api provides the worker HTTP server: it validates shards posted by a
// remote dispatcher and exposes health and metrics endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/api/middleware"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/dispatch"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/metrics"
)

const serviceName = "ilr-validation-worker"

type (
	// Server represents the worker HTTP server.
	Server struct {
		httpServer  *http.Server
		handler     http.Handler
		logger      *slog.Logger
		config      *ServerConfig
		startTime   time.Time
		version     string
		worker      dispatch.Worker
		metrics     *metrics.Pipeline
		gatherer    prometheus.Gatherer
		rateLimiter middleware.RateLimiter
	}

	// Option configures a Server.
	Option func(*Server)
)

// WithLogger replaces the JSON stdout logger built from the config log level.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics records worker requests in m and serves gatherer on /metrics.
func WithMetrics(m *metrics.Pipeline, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithVersion sets the version reported by /ping and /api/v1/health.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// NewServer creates a worker server.
//
// Dependencies are injected explicitly rather than being part of ServerConfig.
//
// Parameters:
//   - cfg: Pure server configuration (ports, timeouts, limits)
//   - worker: Worker that validates each posted shard, usually a dispatch.LocalWorker
//   - verifier: API key verifier (nil disables authentication)
//   - rateLimiter: Rate limiter implementation (nil disables rate limiting)
func NewServer(
	cfg *ServerConfig,
	worker dispatch.Worker,
	verifier middleware.KeyVerifier,
	rateLimiter middleware.RateLimiter,
	opts ...Option,
) *Server {
	server := &Server{
		config:      cfg,
		worker:      worker,
		rateLimiter: rateLimiter,
		version:     "dev",
		gatherer:    prometheus.DefaultGatherer,
	}

	for _, opt := range opts {
		opt(server)
	}

	if server.logger == nil {
		server.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	}

	mux := http.NewServeMux()
	public := server.setupRoutes(mux)

	if verifier != nil {
		server.logger.Info("API key authentication enabled")
	} else {
		server.logger.Warn("No worker API key configured - authentication disabled")
	}

	if rateLimiter != nil {
		server.logger.Info("Rate limiting middleware enabled")
	}

	// Middleware executes in the order listed (top-to-bottom):
	//   1. CorrelationID - generate correlation ID for all responses
	//   2. Recovery - catch panics in all downstream middleware
	//   3. APIKeyAuth - reject unauthenticated shard requests (optional)
	//   4. RateLimit - block requests before decoding a shard (optional)
	//   5. RequestLogger - log only admitted requests
	server.handler = middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(server.logger),
		middleware.WithAPIKeyAuth(nilIfEmpty(verifier), server.logger, public...),
		middleware.WithRateLimit(rateLimiter, server.logger),
		middleware.WithRequestLogger(server.logger),
	)

	server.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           server.handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return server
}

// nilIfEmpty turns a typed nil verifier into an untyped nil so the auth option is skipped.
func nilIfEmpty(v middleware.KeyVerifier) middleware.KeyVerifier {
	if hk, ok := v.(*middleware.HashedKeys); ok && hk == nil {
		return nil
	}

	return v
}

// Handler returns the server's handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	listener, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.startTime = time.Now()

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting ILR validation worker server",
			slog.String("address", listener.Addr().String()),
			slog.String("version", s.version),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed",
				slog.String("address", listener.Addr().String()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed: %w", err)
		}

		close(serverErrors)
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		s.logger.Info("Received shutdown signal")

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server. In-flight shards get the shutdown
// timeout to finish.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if limiter, ok := s.rateLimiter.(io.Closer); ok {
		if err := limiter.Close(); err != nil {
			s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
