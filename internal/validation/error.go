// Package validation defines the rule violation reports produced by rule execution and
// the concurrency-safe cache they are aggregated into during a run.
package validation

import "fmt"

// Severity classifies a rule violation.
type Severity string

// Severity values used by the error catalog.
const (
	SeverityError   Severity = "E"
	SeverityWarning Severity = "W"
	SeverityFail    Severity = "F"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityFail:
		return true
	}

	return false
}

// ErrorParameter is one named value reported with a violation.
type ErrorParameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Error is one rule violation. An empty LearnRefNumber marks a file-level violation.
type Error struct {
	RuleName          string           `json:"ruleName"`
	LearnRefNumber    string           `json:"learnRefNumber,omitempty"`
	AimSequenceNumber *int             `json:"aimSequenceNumber,omitempty"`
	Severity          Severity         `json:"severity,omitempty"`
	Parameters        []ErrorParameter `json:"parameters,omitempty"`
}

// RecordLevel reports whether the error is attached to a learner record.
func (e Error) RecordLevel() bool {
	return e.LearnRefNumber != ""
}

// Param builds an ErrorParameter, formatting the value with fmt.
func Param(name string, value any) ErrorParameter {
	return ErrorParameter{Name: name, Value: fmt.Sprint(value)}
}

// AimSequence returns a pointer to the aim sequence number for use in Error.
func AimSequence(n int) *int {
	return &n
}
