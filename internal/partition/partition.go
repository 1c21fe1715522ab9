// Package partition splits a submission into ordered, size-bounded shards that can be
// validated independently.
//
// Learners are split into contiguous runs in file order. Destination and progression
// records travel with the shard that owns the learner they reference; records that
// reference no learner are dropped and counted.
package partition

import (
	"errors"
	"fmt"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/ilr"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/keyset"
)

var (
	// ErrInvalidShardSize is returned when a policy yields a shard size below 1.
	ErrInvalidShardSize = errors.New("shard size must be positive")
	// ErrNilMessage is returned when there is no submission to partition.
	ErrNilMessage = errors.New("message is nil")
)

// Shard is one unit of parallel validation work. Message shares the submission's
// header and provider by value; its Learners and destination and progression
// records are the shard's subset.
type Shard struct {
	Index   int          `json:"index"`
	Message *ilr.Message `json:"message"`
}

// Result is the outcome of partitioning one submission.
type Result struct {
	Shards    []Shard
	ShardSize int
	// UnmatchedSecondary counts destination and progression records whose
	// LearnRefNumber matched no learner.
	UnmatchedSecondary int
}

// Partition splits msg using the shard size chosen by policy.
func Partition(msg *ilr.Message, policy SizePolicy) (*Result, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}

	return Split(msg, policy.ShardSize(len(msg.Learners)))
}

// Split splits msg into shards of at most size learners.
// A submission without learners yields no shards.
func Split(msg *ilr.Message, size int) (*Result, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}

	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidShardSize, size)
	}

	total := len(msg.Learners)
	count := (total + size - 1) / size

	result := &Result{
		Shards:    make([]Shard, 0, count),
		ShardSize: size,
	}

	if total == 0 {
		result.UnmatchedSecondary = len(msg.LearnerDestinationAndProgressions)
		return result, nil
	}

	// owner maps a folded LearnRefNumber to the shard holding the learner.
	// A duplicated LearnRefNumber belongs to the shard of its first occurrence.
	owner := make(map[string]int, total)
	secondaries := make([][]ilr.LearnerDestinationAndProgression, count)

	for i := range msg.Learners {
		key := keyset.Fold(msg.Learners[i].LearnRefNumber)
		if _, seen := owner[key]; !seen {
			owner[key] = i / size
		}
	}

	for _, dp := range msg.LearnerDestinationAndProgressions {
		shard, ok := owner[keyset.Fold(dp.LearnRefNumber)]
		if !ok {
			result.UnmatchedSecondary++
			continue
		}

		secondaries[shard] = append(secondaries[shard], dp)
	}

	for index := 0; index < count; index++ {
		start := index * size
		end := min(start+size, total)

		shardMsg := *msg
		shardMsg.Learners = msg.Learners[start:end:end]
		shardMsg.LearnerDestinationAndProgressions = secondaries[index]

		if shardMsg.LearnerDestinationAndProgressions == nil {
			shardMsg.LearnerDestinationAndProgressions = []ilr.LearnerDestinationAndProgression{}
		}

		result.Shards = append(result.Shards, Shard{Index: index, Message: &shardMsg})
	}

	return result, nil
}

// LearnerCount returns the total number of learners across shards.
func (r *Result) LearnerCount() int {
	n := 0
	for _, s := range r.Shards {
		n += len(s.Message.Learners)
	}

	return n
}
