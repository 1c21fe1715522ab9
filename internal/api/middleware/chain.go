// Package middleware provides the HTTP middleware of the worker server.
package middleware

import (
	"log/slog"
	"net/http"
)

type (
	// Option is a function that applies middleware to a handler.
	Option func(http.Handler) http.Handler
)

// Apply applies a chain of middleware options to a base handler.
// The first option becomes the outermost middleware.
//
// Example:
//
//	handler := middleware.Apply(mux,
//	    middleware.WithCorrelationID(),
//	    middleware.WithRecovery(logger),
//	    middleware.WithAPIKeyAuth(keys, logger, "/ping"),
//	    middleware.WithRateLimit(limiter, logger),
//	    middleware.WithRequestLogger(logger),
//	)
func Apply(handler http.Handler, options ...Option) http.Handler {
	for i := len(options) - 1; i >= 0; i-- {
		handler = options[i](handler)
	}

	return handler
}

func passthrough(next http.Handler) http.Handler { return next }

// WithCorrelationID returns an option that adds correlation ID middleware.
func WithCorrelationID() Option {
	return CorrelationID()
}

// WithRecovery returns an option that adds panic recovery middleware.
func WithRecovery(logger *slog.Logger) Option {
	return Recovery(logger)
}

// WithAPIKeyAuth returns an option that adds API key authentication.
// If verifier is nil, this option is skipped. Requests for publicPaths are never authenticated.
func WithAPIKeyAuth(verifier KeyVerifier, logger *slog.Logger, publicPaths ...string) Option {
	if verifier == nil {
		return passthrough
	}

	return Authenticate(verifier, logger, publicPaths...)
}

// WithRateLimit returns an option that adds rate limiting middleware.
// If limiter is nil, this option is skipped.
func WithRateLimit(limiter RateLimiter, logger *slog.Logger) Option {
	if limiter == nil {
		return passthrough
	}

	return RateLimit(limiter, logger)
}

// WithRequestLogger returns an option that adds request logging middleware.
func WithRequestLogger(logger *slog.Logger) Option {
	return RequestLogger(logger)
}
