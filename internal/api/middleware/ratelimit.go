package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int = 2
	defaultMaxClients          int = 1000
	defaultGlobalRPS           int = 200
	defaultClientRPS           int = 50
	rateLimiterCleanupInterval     = 5 * time.Minute
	rateLimiterIdleTimeout         = 1 * time.Hour
)

type (
	// RateLimiter decides whether a request from clientID may proceed.
	RateLimiter interface {
		Allow(clientID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter with golang.org/x/time/rate token
	// buckets: one global bucket and one bucket per client. Clients idle longer
	// than the idle timeout are dropped by a background cleanup.
	InMemoryRateLimiter struct {
		global    *rate.Limiter
		perClient map[string]*clientLimiter
		mu        sync.Mutex
		done      chan struct{}
		closeOnce sync.Once

		clientRPS       int
		clientBurst     int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxClients      int
	}

	clientLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
	}
)

// NewInMemoryRateLimiter creates a rate limiter and starts its cleanup goroutine.
// Burst capacities default to 2 × rate.
//
// Example:
//
//	rl := NewInMemoryRateLimiter(&Config{GlobalRPS: 200, ClientRPS: 50})
//	defer rl.Close()
func NewInMemoryRateLimiter(cfg *Config) *InMemoryRateLimiter {
	rl := &InMemoryRateLimiter{
		global: rate.NewLimiter(rate.Limit(cfg.GlobalRPS),
			computeBurstCapacity(cfg.GlobalRPS, cfg.GlobalBurst)),
		perClient:       make(map[string]*clientLimiter),
		done:            make(chan struct{}),
		clientRPS:       cfg.ClientRPS,
		clientBurst:     computeBurstCapacity(cfg.ClientRPS, cfg.ClientBurst),
		cleanupInterval: valueOr(cfg.CleanupInterval, rateLimiterCleanupInterval),
		idleTimeout:     valueOr(cfg.IdleTimeout, rateLimiterIdleTimeout),
		maxClients:      valueOr(cfg.MaxClients, defaultMaxClients),
	}

	go rl.cleanupLoop()

	return rl
}

func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

func valueOr[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}

	return fallback
}

// Allow implements RateLimiter. The global bucket is checked first.
// Once maxClients are tracked, unknown clients share the global bucket only.
func (rl *InMemoryRateLimiter) Allow(clientID string) bool {
	if !rl.global.Allow() {
		return false
	}

	rl.mu.Lock()
	cl, ok := rl.perClient[clientID]

	if !ok {
		if len(rl.perClient) >= rl.maxClients {
			rl.mu.Unlock()

			slog.Warn("Rate limiter at max clients, skipping per-client limit",
				slog.Int("max_clients", rl.maxClients))

			return true
		}

		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.clientRPS), rl.clientBurst)}
		rl.perClient[clientID] = cl
	}

	cl.lastAccess = time.Now()
	rl.mu.Unlock()

	return cl.limiter.Allow()
}

// Clients returns the number of tracked clients.
func (rl *InMemoryRateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return len(rl.perClient)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rl *InMemoryRateLimiter) Close() error {
	rl.closeOnce.Do(func() {
		close(rl.done)
	})

	return nil
}

func (rl *InMemoryRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.done:
			return
		}
	}
}

func (rl *InMemoryRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for id, cl := range rl.perClient {
		if now.Sub(cl.lastAccess) > rl.idleTimeout {
			delete(rl.perClient, id)
		}
	}
}

// clientID keys the per-client bucket: the authenticated caller when there is
// one, otherwise the remote host.
func clientID(r *http.Request) string {
	if caller, ok := GetCallerID(r.Context()); ok {
		return caller
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// RateLimit returns a middleware that answers 429 with an RFC 7807 body when
// the limiter rejects a request. It must run after authentication to see the caller.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.Allow(clientID(r)) {
				next.ServeHTTP(w, r)
				return
			}

			detail := "Rate limit exceeded. Please retry after some time."
			if err := writeProblem(w, r, http.StatusTooManyRequests, detail); err != nil {
				logger.Error("Failed to write rate limit response",
					slog.String("correlation_id", GetCorrelationID(r.Context())),
					slog.String("error", err.Error()),
				)
			}
		})
	}
}
