// Package lookup issues reference data queries in bounded batches.
//
// Reference stores reject queries with too many parameters, so a key set is split
// into fixed-size batches, one query per batch, and the results are concatenated.
// Any failed batch fails the whole fetch: a partial reference data set would make
// lookup rules report false errors.
package lookup

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

// DefaultBatchSize is the number of keys sent to a store in one query.
const DefaultBatchSize = 5000

// ErrBatchFailed is wrapped by every error returned from a failed batch query.
var ErrBatchFailed = errors.New("lookup batch failed")

// QueryFunc runs one query against a reference store for a bounded batch of keys.
type QueryFunc[K, V any] func(ctx context.Context, keys []K) ([]V, error)

type (
	// Option configures a Fetch call.
	Option func(*options)

	options struct {
		batchSize int
		retries   uint64
		onBatch   func(keys int)
	}
)

// WithBatchSize sets the number of keys per query. Values below 1 keep DefaultBatchSize.
func WithBatchSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.batchSize = size
		}
	}
}

// WithRetry retries each failed batch up to maxRetries times with exponential backoff.
// Retries are off unless this option is given.
func WithRetry(maxRetries uint64) Option {
	return func(o *options) {
		o.retries = maxRetries
	}
}

// WithBatchHook registers a callback invoked once per issued batch with the batch size.
func WithBatchHook(hook func(keys int)) Option {
	return func(o *options) {
		o.onBatch = hook
	}
}

// Fetch queries the store for keys in batches and concatenates the results.
//
// Parameters:
//   - ctx: run-scoped context, checked before every batch
//   - keys: the distinct keys to resolve; an empty slice issues no query
//   - query: the store adapter for one batch
//   - opts: batch size, retry and batch-hook options
//
// Example:
//
//	rows, err := lookup.Fetch(ctx, aimRefs, store.LARSLearningDeliveries, lookup.WithBatchSize(5000))
func Fetch[K, V any](ctx context.Context, keys []K, query QueryFunc[K, V], opts ...Option) ([]V, error) {
	o := options{batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(&o)
	}

	results := make([]V, 0)
	if len(keys) == 0 {
		return results, nil
	}

	batches := Batches(keys, o.batchSize)

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if o.onBatch != nil {
			o.onBatch(len(batch))
		}

		rows, err := runBatch(ctx, batch, query, o.retries)
		if err != nil {
			return nil, fmt.Errorf("%w: batch %d of %d (%d keys): %w", ErrBatchFailed, i+1, len(batches), len(batch), err)
		}

		results = append(results, rows...)
	}

	return results, nil
}

// Batches splits keys into consecutive slices of at most size elements.
func Batches[K any](keys []K, size int) [][]K {
	if size < 1 {
		size = DefaultBatchSize
	}

	batches := make([][]K, 0, (len(keys)+size-1)/size)

	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		batches = append(batches, keys[start:end:end])
	}

	return batches
}

func runBatch[K, V any](ctx context.Context, batch []K, query QueryFunc[K, V], retries uint64) ([]V, error) {
	if retries == 0 {
		return query(ctx, batch)
	}

	var rows []V

	operation := func() error {
		var err error

		rows, err = query(ctx, batch)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return backoff.Permanent(err)
		}

		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	return rows, nil
}
