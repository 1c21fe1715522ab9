// Package main provides the shard validation worker of the ILR validation service.
//
// The worker accepts shards posted by a validator running in remote mode, runs the
// learner and message rules over them and returns the validation errors.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/api"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/api/middleware"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/config"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/dispatch"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/metrics"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "ilr-worker"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()
	logger := config.NewLogger(serverConfig.LogLevel)

	logger.Info("Starting ILR validation worker",
		slog.String("service", name),
		slog.String("version", version),
	)

	if err := serverConfig.Validate(); err != nil {
		logger.Error("Invalid server configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.Int64("max_request_size", serverConfig.MaxRequestSize),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	verifier, err := serverConfig.KeyVerifier()
	if err != nil {
		logger.Error("Failed to load worker API keys", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if verifier == nil {
		logger.Warn("Worker authentication disabled",
			slog.String("security", "Only use in trusted networks (localhost, VPN, internal)"),
			slog.String("note", "Set ILR_WORKER_API_KEY or ILR_WORKER_API_KEY_HASHES to require a key"),
		)
	}

	// Graceful shutdown of the limiter is handled by server.shutdown()
	var rateLimiter middleware.RateLimiter

	if serverConfig.RateLimitEnabled {
		rateLimiter = middleware.NewInMemoryRateLimiter(serverConfig.RateLimit)

		logger.Info("Rate limiter initialized",
			slog.Int("global_rps", serverConfig.RateLimit.GlobalRPS),
			slog.Int("global_burst", serverConfig.RateLimit.GlobalBurst),
			slog.Int("client_rps", serverConfig.RateLimit.ClientRPS),
			slog.Int("client_burst", serverConfig.RateLimit.ClientBurst),
			slog.Int("max_clients", serverConfig.RateLimit.MaxClients),
		)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	server := api.NewServer(serverConfig, dispatch.NewLocalWorker(nil), verifier, rateLimiter,
		api.WithLogger(logger),
		api.WithMetrics(m, prometheus.DefaultGatherer),
		api.WithVersion(version),
	)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("ILR validation worker stopped")
}
