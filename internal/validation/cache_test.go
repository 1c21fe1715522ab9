package validation

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shardErrors(shard, count int) []Error {
	errs := make([]Error, count)
	for i := range errs {
		errs[i] = Error{
			RuleName:       "ULN_03",
			LearnRefNumber: fmt.Sprintf("S%03dL%04d", shard, i),
			Severity:       SeverityError,
		}
	}

	return errs
}

func TestErrorCacheConcurrentAggregation(t *testing.T) {
	const (
		shards   = 32
		perShard = 250
		rounds   = 20
	)

	for round := 0; round < rounds; round++ {
		cache := NewErrorCache()

		var wg sync.WaitGroup

		for _, shard := range rand.Perm(shards) {
			wg.Add(1)

			go func() {
				defer wg.Done()

				errs := shardErrors(shard, perShard)
				if shard%2 == 0 {
					cache.AddAll(errs)
					return
				}

				for _, e := range errs {
					cache.Add(e)
				}
			}()
		}

		wg.Wait()

		snapshot := cache.Snapshot()
		require.Len(t, snapshot, shards*perShard, "round %d", round)

		seen := make(map[string]int, len(snapshot))
		for _, e := range snapshot {
			seen[e.LearnRefNumber]++
		}

		assert.Len(t, seen, shards*perShard, "no error may be lost or duplicated")
	}
}

func TestErrorCacheAddAllKeepsShardOrder(t *testing.T) {
	cache := NewErrorCache()

	var wg sync.WaitGroup

	for shard := 0; shard < 8; shard++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			cache.AddAll(shardErrors(shard, 100))
		}()
	}

	wg.Wait()

	snapshot := cache.Snapshot()
	for start := 0; start < len(snapshot); start += 100 {
		block := snapshot[start : start+100]
		prefix := block[0].LearnRefNumber[:4]

		for i, e := range block {
			assert.Equal(t, fmt.Sprintf("%sL%04d", prefix, i), e.LearnRefNumber)
		}
	}
}

func TestErrorCacheSnapshotIsACopy(t *testing.T) {
	cache := NewErrorCache()
	cache.Add(Error{RuleName: "A"})

	snapshot := cache.Snapshot()
	snapshot[0].RuleName = "mutated"

	assert.Equal(t, "A", cache.Snapshot()[0].RuleName)
}

func TestErrorCacheReset(t *testing.T) {
	cache := NewErrorCache()
	cache.AddAll(shardErrors(1, 5))
	require.Equal(t, 5, cache.Len())

	cache.Reset()

	assert.Zero(t, cache.Len())
	assert.NotNil(t, cache.Snapshot())
}

func TestErrorHelpers(t *testing.T) {
	e := Error{RuleName: "LearnAimRef_01", LearnRefNumber: "L1", AimSequenceNumber: AimSequence(2)}
	assert.True(t, e.RecordLevel())
	assert.Equal(t, 2, *e.AimSequenceNumber)

	assert.False(t, Error{RuleName: "Filename_01"}.RecordLevel())
	assert.Equal(t, ErrorParameter{Name: "ULN", Value: "1000000001"}, Param("ULN", int64(1000000001)))

	assert.True(t, SeverityWarning.Valid())
	assert.False(t, Severity("X").Valid())
}
