package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	// CorrelationIDHeader carries the request correlation ID in both directions.
	CorrelationIDHeader = "X-Correlation-ID"

	correlationIDSize      = 8
	maxCorrelationIDLength = 128
)

type correlationIDKey struct{}

// CorrelationID creates a middleware that adds a correlation ID to each request.
// A well-formed X-Correlation-ID header is reused; remote workers receive
// "<runID>-<shardIndex>" from the dispatcher so their logs line up with the run.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get(CorrelationIDHeader)
			if !validCorrelationID(correlationID) {
				correlationID = generateCorrelationID()
			}

			w.Header().Set(CorrelationIDHeader, correlationID)

			ctx := context.WithValue(r.Context(), correlationIDKey{}, correlationID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCorrelationID extracts the correlation ID from the request context.
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return correlationID
	}

	return "unknown"
}

func validCorrelationID(id string) bool {
	return id != "" && len(id) <= maxCorrelationIDLength && !strings.ContainsAny(id, "\r\n")
}

// generateCorrelationID returns 16 hex characters, or a UUID if the system
// random source fails.
func generateCorrelationID() string {
	b := make([]byte, correlationIDSize)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()
	}

	return hex.EncodeToString(b)
}
