package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/api/middleware"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/dispatch"
)

// handleValidate validates one shard.
//
// The body is an encoded dispatch.Payload, optionally zstd compressed
// (Content-Encoding: zstd). The reply is {"errors": [...]} in shard order.
//
// Response codes:
//   - 200 OK: the shard was validated, with or without validation errors
//   - 400 Bad Request: the payload could not be decoded
//   - 413 Request Entity Too Large: the body exceeds the configured maximum
//   - 415 Unsupported Media Type: wrong Content-Type or Content-Encoding
//   - 500 Internal Server Error: the worker failed; the dispatcher fails the run
//   - 503 Service Unavailable: the request was cancelled or timed out
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK

	defer func() {
		s.metrics.ObserveWorkerRequest(status, time.Since(start))
	}()

	fail := func(problem *ProblemDetail) {
		status = problem.Status
		WriteErrorResponse(w, r, s.logger, problem)
	}

	correlationID := middleware.GetCorrelationID(r.Context())

	if ct := r.Header.Get("Content-Type"); ct != "" && !hasJSONContentType(ct) {
		fail(UnsupportedMediaType("Content-Type must be application/json"))
		return
	}

	encoding := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding")))
	if encoding != "" && encoding != dispatch.ContentEncodingZstd && encoding != "identity" {
		fail(UnsupportedMediaType("Content-Encoding must be zstd or absent"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			fail(PayloadTooLarge("Request body exceeds the maximum shard size"))
			return
		}

		fail(BadRequest("Failed to read request body"))

		return
	}

	if encoding == dispatch.ContentEncodingZstd {
		body, err = dispatch.Decompress(body)
		if err != nil {
			fail(BadRequest(err.Error()))
			return
		}
	}

	payload, err := dispatch.DecodePayload(body)
	if err != nil {
		fail(BadRequest(err.Error()))
		return
	}

	errs, err := s.worker.Validate(r.Context(), payload)
	if err != nil {
		s.logger.Error("Shard validation failed",
			slog.String("correlation_id", correlationID),
			slog.String("run_id", payload.RunID),
			slog.Int("shard", payload.Shard.Index),
			slog.String("error", err.Error()),
		)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			fail(ServiceUnavailable("Shard validation was cancelled"))
			return
		}

		fail(InternalServerError("Shard validation failed"))

		return
	}

	data, err := dispatch.EncodeErrors(errs)
	if err != nil {
		fail(InternalServerError("Failed to encode validation errors"))
		return
	}

	s.logger.Info("Shard validated",
		slog.String("correlation_id", correlationID),
		slog.String("run_id", payload.RunID),
		slog.Int("shard", payload.Shard.Index),
		slog.Int("learners", len(payload.Shard.Message.Learners)),
		slog.Int("errors", len(errs)),
		slog.Duration("duration", time.Since(start)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write validation response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}
