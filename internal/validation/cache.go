package validation

import "sync"

// ErrorCache accumulates the errors reported by every shard of a run.
// It is safe for concurrent use. Entries added by one AddAll call stay contiguous
// and in order; no order is defined between separate calls.
type ErrorCache struct {
	mu     sync.Mutex
	errors []Error
}

// NewErrorCache returns an empty cache.
func NewErrorCache() *ErrorCache {
	return &ErrorCache{errors: make([]Error, 0)}
}

// Add appends one error.
func (c *ErrorCache) Add(err Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errors = append(c.errors, err)
}

// AddAll appends a shard's errors as one contiguous block.
func (c *ErrorCache) AddAll(errs []Error) {
	if len(errs) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.errors = append(c.errors, errs...)
}

// Snapshot returns a copy of the accumulated errors.
func (c *ErrorCache) Snapshot() []Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Error, len(c.errors))
	copy(out, c.errors)

	return out
}

// Len returns the number of accumulated errors.
func (c *ErrorCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.errors)
}

// Reset discards all accumulated errors.
func (c *ErrorCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errors = make([]Error, 0)
}
