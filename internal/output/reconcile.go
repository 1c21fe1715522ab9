// Package output turns a completed run's error list into the persisted validation
// artifacts: the valid and invalid LearnRefNumber sets, the error rows joined with
// the error catalog, and the catalog lookups the rows refer to.
package output

import (
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/keyset"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/validation"
)

// Reconciliation splits the known learner keys of a run by whether any error names them.
type Reconciliation struct {
	ValidLearnRefNumbers   []string `json:"validLearnRefNumbers"`
	InvalidLearnRefNumbers []string `json:"invalidLearnRefNumbers"`
}

// Reconcile computes the valid and invalid subsets of keys.
//
// A key is invalid when at least one record-level error carries it, whatever the
// error's severity. File-level errors and errors naming a key outside keys are
// ignored, so the two results always partition the distinct keys. An error matches a
// key with keyset.Fold, the way destination and progression records are correlated
// to their learner, but results keep the spelling of keys. Both results follow the
// order of keys, are deduplicated and are never nil.
//
// Parameters:
//   - keys: LearnRefNumbers of the submission in record order
//   - errs: the run's aggregated errors
//
// Example:
//
//	r := Reconcile([]string{"A", "B", "C"}, []validation.Error{{LearnRefNumber: "B"}})
//	// r.ValidLearnRefNumbers == [A C], r.InvalidLearnRefNumbers == [B]
func Reconcile(keys []string, errs []validation.Error) Reconciliation {
	flagged := make(map[string]struct{}, len(errs))

	for _, e := range errs {
		if e.RecordLevel() {
			flagged[keyset.Fold(e.LearnRefNumber)] = struct{}{}
		}
	}

	result := Reconciliation{
		ValidLearnRefNumbers:   make([]string, 0, len(keys)),
		InvalidLearnRefNumbers: make([]string, 0, len(flagged)),
	}

	seen := make(map[string]struct{}, len(keys))

	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}

		if _, bad := flagged[keyset.Fold(key)]; bad {
			result.InvalidLearnRefNumbers = append(result.InvalidLearnRefNumbers, key)
		} else {
			result.ValidLearnRefNumbers = append(result.ValidLearnRefNumbers, key)
		}
	}

	return result
}
