package pipeline

import (
	"errors"
	"fmt"
)

// Stage names the step of a run that failed.
type Stage string

// Run stages in execution order.
const (
	StageStructure Stage = "structure"
	StagePopulate  Stage = "populate"
	StagePartition Stage = "partition"
	StageDispatch  Stage = "dispatch"
	StagePersist   Stage = "persist"
)

var (
	// ErrRunFailed matches every *RunError with errors.Is.
	ErrRunFailed = errors.New("validation run failed")
	// ErrMissingDependency is returned when an orchestrator is created without a required collaborator.
	ErrMissingDependency = errors.New("missing pipeline dependency")
)

// RunError reports a run that could not produce a result. It is distinct from a
// successful run with validation errors: nothing of a failed run may be used.
type RunError struct {
	Stage Stage
	RunID string
	JobID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("validation run %s (job %s) failed at %s: %v", e.RunID, e.JobID, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Is reports ErrRunFailed as matching.
func (e *RunError) Is(target error) bool {
	return target == ErrRunFailed
}
