package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/api/middleware"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/dispatch"
)

const healthCheckTimeout = 2 * time.Second

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
		Worker      string `json:"worker"`
	}

	// Route represents an HTTP route with a path pattern and handler.
	Route struct {
		Path    string
		Handler http.Handler
	}

	// HealthChecker is implemented by workers that depend on something that can fail.
	HealthChecker interface {
		HealthCheck(ctx context.Context) error
	}
)

// setupRoutes registers every route and returns the paths that bypass authentication.
func (s *Server) setupRoutes(mux *http.ServeMux) []string {
	public := s.registerPublicRoutes(
		mux,
		Route{"GET /ping", http.HandlerFunc(s.handlePing)},
		Route{"GET /api/v1/health", http.HandlerFunc(s.handleHealth)},
		Route{"GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})},
	)

	mux.HandleFunc("POST "+dispatch.ValidatePath, s.handleValidate)
	mux.HandleFunc("/", s.handleNotFound)

	return public
}

// registerPublicRoutes registers routes that bypass authentication and returns
// their paths with any method prefix stripped ("GET /ping" -> "/ping").
//
// Never register business logic endpoints as public routes.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) []string {
	paths := make([]string, 0, len(routes))

	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		path := route.Path
		if _, after, ok := strings.Cut(path, " "); ok {
			path = strings.TrimSpace(after)
		}

		if path == "" {
			s.logger.Warn("Malformed route path detected, ignoring route", slog.String("path", route.Path))
			continue
		}

		paths = append(paths, path)
	}

	return paths
}

// handlePing responds to liveness probes.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-ILR-Worker-Version", s.version)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Error("Failed to write ping response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

// handleHealth reports status, uptime and version. A worker implementing
// HealthChecker that fails its check turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	health := HealthStatus{
		Status:      "healthy",
		ServiceName: serviceName,
		Version:     s.version,
		Worker:      "ok",
	}

	if !s.startTime.IsZero() {
		health.Uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	status := http.StatusOK

	if hc, ok := s.worker.(HealthChecker); ok {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := hc.HealthCheck(ctx); err != nil {
			s.logger.Error("Worker health check failed",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)

			health.Status = "unhealthy"
			health.Worker = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	data, err := json.Marshal(health)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode health response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write health response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
