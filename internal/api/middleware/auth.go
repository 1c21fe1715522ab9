package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type (
	// KeyVerifier checks an API key and names the caller it belongs to.
	KeyVerifier interface {
		Verify(apiKey string) (callerID string, ok bool)
	}

	callerKey struct{}
)

var (
	// ErrMissingAPIKey is returned when no API key is provided in headers.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey is returned for an API key that matches no configured key.
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// GetCallerID returns the authenticated caller of the request, if any.
func GetCallerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callerKey{}).(string)

	return id, ok
}

// extractAPIKey reads the X-Api-Key header, falling back to Authorization: Bearer.
// Keys containing line breaks are rejected.
func extractAPIKey(r *http.Request) (string, bool) {
	if apiKey := r.Header.Get("X-Api-Key"); apiKey != "" {
		return cleanAPIKey(apiKey)
	}

	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return cleanAPIKey(token)
	}

	return "", false
}

func cleanAPIKey(key string) (string, bool) {
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)

	return key, key != ""
}

// Authenticate creates a middleware that rejects requests without a valid API key
// with 401. Requests for publicPaths pass through unauthenticated.
//
// Example:
//
//	keys, _ := middleware.NewHashedKeys(os.Getenv("ILR_WORKER_API_KEY_HASH"))
//	handler = middleware.Authenticate(keys, logger, "/ping", "/api/v1/health")(handler)
func Authenticate(verifier KeyVerifier, logger *slog.Logger, publicPaths ...string) func(http.Handler) http.Handler {
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			apiKey, found := extractAPIKey(r)
			if !found {
				writeAuthError(w, r, logger, ErrMissingAPIKey)
				return
			}

			caller, ok := verifier.Verify(apiKey)
			if !ok {
				writeAuthError(w, r, logger, ErrInvalidAPIKey)
				return
			}

			logger.Debug("API key authenticated",
				slog.String("caller_id", caller),
				slog.Duration("auth_latency", time.Since(start)),
				slog.String("correlation_id", GetCorrelationID(r.Context())),
			)

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	correlationID := GetCorrelationID(r.Context())

	logger.Warn("Authentication failed",
		slog.String("reason", err.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	if err := writeProblem(w, r, http.StatusUnauthorized, "authentication failed: "+err.Error()); err != nil {
		logger.Error("Failed to encode authentication error response",
			slog.String("correlation_id", correlationID),
			slog.Any("encode_error", err),
		)
	}
}
