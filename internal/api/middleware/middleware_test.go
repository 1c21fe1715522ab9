package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func decodeProblem(t *testing.T, body io.Reader) map[string]any {
	t.Helper()

	var problem map[string]any
	if err := json.NewDecoder(body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode problem body: %v", err)
	}

	return problem
}

func TestApplyOrder(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var order []string

	mark := func(name string) Option {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Apply(okHandler(), mark("first"), mark("second"), mark("third"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got := strings.Join(order, ","); got != "first,second,third" {
		t.Errorf("expected first,second,third, got %s", got)
	}
}

func TestCorrelationID(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var seen string

	handler := CorrelationID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/validate", nil)
	req.Header.Set(CorrelationIDHeader, "run-1-3")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "run-1-3" || rec.Header().Get(CorrelationIDHeader) != "run-1-3" {
		t.Errorf("expected incoming correlation ID to be reused, got context %q header %q",
			seen, rec.Header().Get(CorrelationIDHeader))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if len(seen) != 2*correlationIDSize {
		t.Errorf("expected generated correlation ID of %d chars, got %q", 2*correlationIDSize, seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(CorrelationIDHeader, strings.Repeat("x", maxCorrelationIDLength+1))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(seen) != 2*correlationIDSize {
		t.Errorf("expected oversized correlation ID to be replaced, got %d chars", len(seen))
	}

	if got := GetCorrelationID(t.Context()); got != "unknown" {
		t.Errorf("expected unknown outside a request, got %q", got)
	}
}

func TestRecovery(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	handler := Apply(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("rule exploded")
	}), WithCorrelationID(), WithRecovery(discardLogger()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/validate", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != ContentTypeProblemJSON {
		t.Errorf("expected problem content type, got %q", ct)
	}

	problem := decodeProblem(t, rec.Body)
	if problem["type"] != ProblemType(http.StatusInternalServerError) {
		t.Errorf("unexpected problem type %v", problem["type"])
	}

	if problem["instance"] != "/api/v1/validate" {
		t.Errorf("unexpected instance %v", problem["instance"])
	}

	if problem["correlationId"] == "" || problem["correlationId"] == "unknown" {
		t.Errorf("expected correlation ID in problem, got %v", problem["correlationId"])
	}
}

func TestExtractAPIKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name      string
		headers   map[string]string
		wantKey   string
		wantFound bool
	}{
		{name: "x-api-key", headers: map[string]string{"X-Api-Key": "secret"}, wantKey: "secret", wantFound: true},
		{name: "bearer", headers: map[string]string{"Authorization": "Bearer secret"}, wantKey: "secret", wantFound: true},
		{
			name:      "x-api-key wins",
			headers:   map[string]string{"X-Api-Key": "primary", "Authorization": "Bearer secondary"},
			wantKey:   "primary",
			wantFound: true,
		},
		{name: "trimmed", headers: map[string]string{"X-Api-Key": "  secret  "}, wantKey: "secret", wantFound: true},
		{name: "basic scheme", headers: map[string]string{"Authorization": "Basic secret"}},
		{name: "blank", headers: map[string]string{"X-Api-Key": "   "}},
		{name: "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			key, found := extractAPIKey(req)
			if found != tt.wantFound || key != tt.wantKey {
				t.Errorf("expected (%q, %v), got (%q, %v)", tt.wantKey, tt.wantFound, key, found)
			}
		})
	}

	if _, ok := cleanAPIKey("secret\r\nX-Injected: 1"); ok {
		t.Error("expected key with line break to be rejected")
	}
}

func TestAuthenticate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	keys, err := NewPlainKeys("worker-secret")
	if err != nil {
		t.Fatalf("failed to create keys: %v", err)
	}

	var caller string

	handler := Apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ = GetCallerID(r.Context())
		w.WriteHeader(http.StatusOK)
	}), WithCorrelationID(), WithAPIKeyAuth(keys, discardLogger(), "/ping"))

	tests := []struct {
		name       string
		path       string
		key        string
		wantStatus int
		wantCaller string
	}{
		{name: "valid key", path: "/api/v1/validate", key: "worker-secret", wantStatus: http.StatusOK, wantCaller: "key-0"},
		{name: "wrong key", path: "/api/v1/validate", key: "guess", wantStatus: http.StatusUnauthorized},
		{name: "missing key", path: "/api/v1/validate", wantStatus: http.StatusUnauthorized},
		{name: "public path", path: "/ping", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller = ""

			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-Api-Key", tt.key)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}

			if caller != tt.wantCaller {
				t.Errorf("expected caller %q, got %q", tt.wantCaller, caller)
			}

			if tt.wantStatus == http.StatusUnauthorized {
				problem := decodeProblem(t, rec.Body)
				if problem["status"] != float64(http.StatusUnauthorized) {
					t.Errorf("unexpected problem status %v", problem["status"])
				}
			}
		})
	}
}

func TestWithAPIKeyAuthNilVerifier(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rec := httptest.NewRecorder()
	Apply(okHandler(), WithAPIKeyAuth(nil, discardLogger())).
		ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/validate", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected auth to be disabled, got %d", rec.Code)
	}
}

func TestHashAPIKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	if _, err := HashAPIKey(""); err == nil {
		t.Error("expected error for empty key")
	}

	long := strings.Repeat("k", bcryptLimit+10)

	hash, err := HashAPIKey(long)
	if err != nil {
		t.Fatalf("failed to hash long key: %v", err)
	}

	if !CompareAPIKeyHash(hash, long) {
		t.Error("expected long key to match its hash")
	}

	// Differs from long only after byte 72, which bcrypt alone would ignore.
	if CompareAPIKeyHash(hash, strings.Repeat("k", bcryptLimit)+"different") {
		t.Error("expected keys differing after 72 bytes not to match")
	}

	if CompareAPIKeyHash("", long) || CompareAPIKeyHash(hash, "") || CompareAPIKeyHash("not-a-hash", long) {
		t.Error("expected empty or malformed inputs never to match")
	}
}

func TestHashedKeys(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	if _, err := NewHashedKeys("plaintext"); err == nil {
		t.Error("expected a non-bcrypt hash to be rejected")
	}

	keys, err := NewPlainKeys("first", "second")
	if err != nil {
		t.Fatalf("failed to create keys: %v", err)
	}

	if keys.Len() != 2 {
		t.Errorf("expected 2 keys, got %d", keys.Len())
	}

	for range 2 {
		if caller, ok := keys.Verify("second"); !ok || caller != "key-1" {
			t.Errorf("expected (key-1, true), got (%q, %v)", caller, ok)
		}
	}

	if len(keys.accepted) != 1 {
		t.Errorf("expected one remembered key, got %d", len(keys.accepted))
	}

	if _, ok := keys.Verify("third"); ok {
		t.Error("expected unknown key to be rejected")
	}

	if len(keys.accepted) != 1 {
		t.Error("expected rejected key not to be remembered")
	}
}

func TestRateLimiterGlobalLimit(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{GlobalRPS: 10, GlobalBurst: 10, ClientRPS: 50})
	defer func() { _ = rl.Close() }()

	allowed := 0

	for range 11 {
		if rl.Allow("key-0") {
			allowed++
		}
	}

	if allowed != 10 {
		t.Errorf("expected 10 allowed requests, got %d", allowed)
	}
}

func TestRateLimiterClientLimit(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{GlobalRPS: 100, ClientRPS: 5, ClientBurst: 5})
	defer func() { _ = rl.Close() }()

	for range 5 {
		if !rl.Allow("key-0") {
			t.Fatal("expected requests within client burst to be allowed")
		}
	}

	if rl.Allow("key-0") {
		t.Error("expected client limit to be enforced")
	}

	if !rl.Allow("key-1") {
		t.Error("expected another client to have its own bucket")
	}
}

func TestRateLimiterMaxClientsAndCleanup(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:  100,
		ClientRPS:  1,
		MaxClients: 2,
		// The test drives cleanup by hand.
		CleanupInterval: time.Hour,
		IdleTimeout:     time.Minute,
	})
	defer func() { _ = rl.Close() }()

	rl.Allow("a")
	rl.Allow("b")

	if !rl.Allow("c") || rl.Clients() != 2 {
		t.Errorf("expected client over the cap to bypass tracking, got %d clients", rl.Clients())
	}

	rl.cleanup(time.Now().Add(2 * time.Minute))

	if rl.Clients() != 0 {
		t.Errorf("expected idle clients to be removed, got %d", rl.Clients())
	}

	if err := rl.Close(); err != nil {
		t.Errorf("expected second close to succeed, got %v", err)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{GlobalRPS: 100, ClientRPS: 1, ClientBurst: 1})
	defer func() { _ = rl.Close() }()

	handler := Apply(okHandler(), WithCorrelationID(), WithRateLimit(rl, discardLogger()))

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/validate", nil)
		req.RemoteAddr = remote

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		return rec.Code
	}

	if code := send("10.0.0.1:1234"); code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", code)
	}

	if code := send("10.0.0.1:5678"); code != http.StatusTooManyRequests {
		t.Errorf("expected same host on another port to be limited, got %d", code)
	}

	if code := send("10.0.0.2:1234"); code != http.StatusOK {
		t.Errorf("expected another host to pass, got %d", code)
	}
}

func TestRequestLogger(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := Apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			_, _ = w.Write([]byte("pong"))
			return
		}

		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad"))
	}), WithCorrelationID(), WithRequestLogger(logger))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	if buf.Len() != 0 {
		t.Errorf("expected probe request to be logged below info, got %s", buf.String())
	}

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/validate", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}

	if entry["status_code"] != float64(http.StatusBadRequest) {
		t.Errorf("expected status_code 400, got %v", entry["status_code"])
	}

	if entry["bytes_written"] != float64(3) {
		t.Errorf("expected bytes_written 3, got %v", entry["bytes_written"])
	}
}
