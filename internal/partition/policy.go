package partition

// Default thresholds of ThresholdPolicy.
const (
	DefaultLowWaterMark   = 2000
	DefaultSmallShardSize = 1000
)

// SizePolicy chooses the shard size for a submission with total learners.
type SizePolicy interface {
	ShardSize(total int) int
}

// ThresholdPolicy keeps small submissions in one shard and splits larger ones into
// fixed-size shards.
// Below LowWaterMark learners the shard size is LowWaterMark, so the submission
// produces a single shard; otherwise it is SmallShardSize.
type ThresholdPolicy struct {
	LowWaterMark   int
	SmallShardSize int
}

// DefaultPolicy returns the ThresholdPolicy with the default thresholds.
func DefaultPolicy() ThresholdPolicy {
	return ThresholdPolicy{
		LowWaterMark:   DefaultLowWaterMark,
		SmallShardSize: DefaultSmallShardSize,
	}
}

// ShardSize implements SizePolicy.
func (p ThresholdPolicy) ShardSize(total int) int {
	if total < p.LowWaterMark {
		return p.LowWaterMark
	}

	return p.SmallShardSize
}

// FixedPolicy uses the same shard size for every submission.
type FixedPolicy struct {
	Size int
}

// ShardSize implements SizePolicy.
func (p FixedPolicy) ShardSize(int) int {
	return p.Size
}
