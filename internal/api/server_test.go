package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/api/middleware"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/dispatch"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/ilr"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/metrics"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/partition"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/referencedata"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/rules"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/validation"
)

type failingWorker struct {
	err error
}

func (f failingWorker) Validate(context.Context, *dispatch.Payload) ([]validation.Error, error) {
	return nil, f.err
}

type checkedWorker struct {
	dispatch.Worker

	err error
}

func (c checkedWorker) HealthCheck(context.Context) error {
	return c.err
}

func testConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8081,
		Host:            "127.0.0.1",
		ReadTimeout:     time.Minute,
		WriteTimeout:    time.Minute,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        slog.LevelInfo,
		MaxRequestSize:  1 << 20,
	}
}

func newTestServer(
	t *testing.T,
	cfg *ServerConfig,
	worker dispatch.Worker,
	verifier middleware.KeyVerifier,
) (*httptest.Server, *metrics.Pipeline, *prometheus.Registry) {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	s := NewServer(cfg, worker, verifier, nil,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(m, reg),
		WithVersion("1.2.3"))

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return ts, m, reg
}

func shardPayload() *dispatch.Payload {
	return &dispatch.Payload{
		RunID: "run-1",
		Shard: partition.Shard{Index: 0, Message: &ilr.Message{
			LearningProvider: ilr.LearningProvider{UKPRN: 10000001},
			Learners: []ilr.Learner{
				{LearnRefNumber: "A", ULN: 1000000001},
				{LearnRefNumber: "B", ULN: 1000000002},
			},
		}},
		ReferenceData: referencedata.NewBuilder().ULNs([]int64{1000000001}).Build(),
		FileData:      rules.FileData{UKPRN: 10000001},
	}
}

func TestValidateThroughRemoteWorker(t *testing.T) {
	keys, err := middleware.NewPlainKeys("secret")
	require.NoError(t, err)

	ts, m, _ := newTestServer(t, testConfig(), dispatch.NewLocalWorker(nil), keys)

	remote := dispatch.NewRemoteWorker(ts.URL, dispatch.WithAPIKey("secret"))

	errs, err := remote.Validate(context.Background(), shardPayload())
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, rules.RuleULN03, errs[0].RuleName)
	assert.Equal(t, "B", errs[0].LearnRefNumber)

	assert.InDelta(t, 1, testutil.ToFloat64(m.WorkerRequests.WithLabelValues("200")), 0)

	uncompressed := dispatch.NewRemoteWorker(ts.URL, dispatch.WithAPIKey("secret"), dispatch.WithCompression(false))

	errs, err = uncompressed.Validate(context.Background(), shardPayload())
	require.NoError(t, err)
	assert.Len(t, errs, 1)

	_, err = dispatch.NewRemoteWorker(ts.URL, dispatch.WithAPIKey("wrong")).Validate(context.Background(), shardPayload())
	require.ErrorIs(t, err, dispatch.ErrRemoteWorker)
	assert.Contains(t, err.Error(), "401")
}

func TestValidateRejectsBadRequests(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRequestSize = 64

	ts, m, _ := newTestServer(t, cfg, dispatch.NewLocalWorker(nil), nil)

	tests := []struct {
		name        string
		body        string
		contentType string
		encoding    string
		wantStatus  int
	}{
		{name: "invalid json", body: "{", wantStatus: http.StatusBadRequest},
		{name: "no shard message", body: `{"runId":"r"}`, wantStatus: http.StatusBadRequest},
		{name: "corrupt zstd", body: "not zstd", encoding: "zstd", wantStatus: http.StatusBadRequest},
		{name: "gzip", body: "{}", encoding: "gzip", wantStatus: http.StatusUnsupportedMediaType},
		{name: "xml", body: "<a/>", contentType: "application/xml", wantStatus: http.StatusUnsupportedMediaType},
		{name: "too large", body: strings.Repeat("x", 65), wantStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, ts.URL+dispatch.ValidatePath, strings.NewReader(tt.body))
			require.NoError(t, err)

			req.Header.Set("Content-Type", "application/json")
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}

			if tt.encoding != "" {
				req.Header.Set("Content-Encoding", tt.encoding)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, middleware.ContentTypeProblemJSON, resp.Header.Get("Content-Type"))

			var problem ProblemDetail
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
			assert.Equal(t, tt.wantStatus, problem.Status)
			assert.Equal(t, dispatch.ValidatePath, problem.Instance)
			assert.NotEmpty(t, problem.CorrelationID)
		})
	}

	assert.InDelta(t, 3, testutil.ToFloat64(m.WorkerRequests.WithLabelValues("400")), 0)
}

func TestValidateWorkerFailure(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "rule failure", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
		{name: "cancelled", err: context.Canceled, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _, _ := newTestServer(t, testConfig(), failingWorker{err: tt.err}, nil)

			body, err := dispatch.EncodePayload(shardPayload(), nil)
			require.NoError(t, err)

			resp, err := http.Post(ts.URL+dispatch.ValidatePath, "application/json", bytes.NewReader(body))
			require.NoError(t, err)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestPublicEndpoints(t *testing.T) {
	keys, err := middleware.NewPlainKeys("secret")
	require.NoError(t, err)

	ts, _, _ := newTestServer(t, testConfig(), dispatch.NewLocalWorker(nil), keys)

	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)

	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))
	assert.Equal(t, "1.2.3", resp.Header.Get("X-ILR-Worker-Version"))
	assert.NotEmpty(t, resp.Header.Get(middleware.CorrelationIDHeader))

	resp, err = http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, serviceName, health.ServiceName)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)

	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ilr_validation_")

	resp, err = http.Get(ts.URL + "/api/v1/unknown")
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "unknown paths are not public")
}

func TestHealthReportsUnhealthyWorker(t *testing.T) {
	worker := checkedWorker{Worker: dispatch.NewLocalWorker(nil), err: errors.New("rules not loaded")}
	ts, _, _ := newTestServer(t, testConfig(), worker, nil)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	var health HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "rules not loaded", health.Worker)
}

func TestNotFound(t *testing.T) {
	ts, _, _ := newTestServer(t, testConfig(), dispatch.NewLocalWorker(nil), nil)

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, middleware.ContentTypeProblemJSON, resp.Header.Get("Content-Type"))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := NewServer(testConfig(), dispatch.NewLocalWorker(nil), nil, nil,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- s.Serve(ctx, listener)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/ping")
		if err != nil {
			return false
		}

		_ = resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr error
	}{
		{name: "port", mutate: func(c *ServerConfig) { c.Port = 70000 }, wantErr: ErrInvalidPort},
		{name: "host", mutate: func(c *ServerConfig) { c.Host = "" }, wantErr: ErrEmptyHost},
		{name: "read timeout", mutate: func(c *ServerConfig) { c.ReadTimeout = 0 }, wantErr: ErrInvalidReadTimeout},
		{name: "write timeout", mutate: func(c *ServerConfig) { c.WriteTimeout = 0 }, wantErr: ErrInvalidWriteTimeout},
		{name: "shutdown", mutate: func(c *ServerConfig) { c.ShutdownTimeout = 0 }, wantErr: ErrInvalidShutdownTimeout},
		{name: "max size", mutate: func(c *ServerConfig) { c.MaxRequestSize = 0 }, wantErr: ErrInvalidMaxRequestSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)

			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}

	require.NoError(t, testConfig().Validate())
}

func TestServerConfigKeyVerifier(t *testing.T) {
	cfg := testConfig()

	verifier, err := cfg.KeyVerifier()
	require.NoError(t, err)
	assert.Nil(t, verifier)

	hash, err := middleware.HashAPIKey("hashed")
	require.NoError(t, err)

	cfg.APIKeyHashes = []string{hash}
	cfg.APIKeys = []string{"plain"}

	verifier, err = cfg.KeyVerifier()
	require.NoError(t, err)
	assert.Equal(t, 2, verifier.Len())

	caller, ok := verifier.Verify("plain")
	assert.True(t, ok)
	assert.Equal(t, "key-1", caller)

	t.Setenv("ILR_WORKER_PORT", "9090")
	t.Setenv("ILR_WORKER_API_KEY", "a,b")

	loaded := LoadServerConfig()
	assert.Equal(t, 9090, loaded.Port)
	assert.Equal(t, []string{"a", "b"}, loaded.APIKeys)
	assert.True(t, loaded.AuthEnabled())
}
