package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/referencedata"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/validation"
)

const (
	// ValidatePath is the worker server route that validates one shard.
	ValidatePath = "/api/v1/validate"

	defaultRemoteTimeout = 5 * time.Minute
	maxErrorBodyBytes    = 4096
)

type (
	// RemoteWorker validates shards on a worker server.
	// The serialized reference data snapshot is kept for the last cache seen, so a
	// run's shards share one encoding.
	RemoteWorker struct {
		endpoint string
		apiKey   string
		timeout  time.Duration
		client   *http.Client
		compress bool

		mu       sync.Mutex
		lastRef  *referencedata.Cache
		lastJSON []byte
	}

	// RemoteOption configures a RemoteWorker.
	RemoteOption func(*RemoteWorker)
)

// WithAPIKey sets the X-Api-Key header sent with every request.
func WithAPIKey(key string) RemoteOption {
	return func(w *RemoteWorker) {
		w.apiKey = key
	}
}

// WithTimeout bounds each shard request.
func WithTimeout(d time.Duration) RemoteOption {
	return func(w *RemoteWorker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(w *RemoteWorker) {
		w.client = c
	}
}

// WithCompression enables or disables zstd request compression. Enabled by default.
func WithCompression(enabled bool) RemoteOption {
	return func(w *RemoteWorker) {
		w.compress = enabled
	}
}

// NewRemoteWorker creates a worker calling the server at baseURL, e.g. "http://worker:8081".
func NewRemoteWorker(baseURL string, opts ...RemoteOption) *RemoteWorker {
	w := &RemoteWorker{
		endpoint: strings.TrimRight(baseURL, "/") + ValidatePath,
		timeout:  defaultRemoteTimeout,
		client:   &http.Client{},
		compress: true,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Validate implements Worker.
func (w *RemoteWorker) Validate(ctx context.Context, payload *Payload) ([]validation.Error, error) {
	refJSON, err := w.referenceJSON(payload.ReferenceData)
	if err != nil {
		return nil, err
	}

	body, err := EncodePayload(payload, refJSON)
	if err != nil {
		return nil, err
	}

	if w.compress {
		body = Compress(body)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteWorker, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", payload.RunID+"-"+strconv.Itoa(payload.Shard.Index))

	if w.compress {
		req.Header.Set("Content-Encoding", ContentEncodingZstd)
	}

	if w.apiKey != "" {
		req.Header.Set("X-Api-Key", w.apiKey)
	}

	resp, err := w.client.Do(req) //nolint:gosec // endpoint comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteWorker, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrRemoteWorker, w.endpoint, resp.StatusCode,
			strings.TrimSpace(string(detail)))
	}

	return DecodeErrors(resp.Body)
}

func (w *RemoteWorker) referenceJSON(cache *referencedata.Cache) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cache != nil && cache == w.lastRef {
		return w.lastJSON, nil
	}

	data, err := json.Marshal(cache)
	if err != nil {
		return nil, fmt.Errorf("%w: reference data: %w", ErrCodec, err)
	}

	w.lastRef, w.lastJSON = cache, data

	return data, nil
}
