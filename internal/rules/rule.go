// Package rules executes validation rules over the learners of one shard.
//
// Rules are pure: they read the learner or record under test, the shard's
// reference data cache and the file data, and emit violations. They never fail;
// a missing reference entry is itself a violation.
package rules

import (
	"context"
	"time"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/ilr"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/referencedata"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/validation"
)

// FileData is the cache derived locally from the submission header. It travels with every shard.
type FileData struct {
	UKPRN               int       `json:"ukprn"`
	FileName            string    `json:"fileName"`
	FilePreparationDate time.Time `json:"filePreparationDate"`
}

// NewFileData derives FileData from a submission.
func NewFileData(msg *ilr.Message) FileData {
	if msg == nil {
		return FileData{}
	}

	return FileData{
		UKPRN:               msg.LearningProvider.UKPRN,
		FileName:            msg.FileName,
		FilePreparationDate: msg.Header.CollectionDetails.FilePreparationDate.Time,
	}
}

// Context is what a rule may read besides the record under test.
type Context struct {
	Reference *referencedata.Cache
	File      FileData
}

// Emit reports one violation.
type Emit func(validation.Error)

type (
	// LearnerRule validates one learner.
	LearnerRule interface {
		Name() string
		ValidateLearner(rc *Context, learner *ilr.Learner, emit Emit)
	}

	// DestinationRule validates one destination and progression record.
	DestinationRule interface {
		Name() string
		ValidateDestination(rc *Context, dp *ilr.LearnerDestinationAndProgression, emit Emit)
	}

	// MessageRule validates file-level properties. Message rules run once per run,
	// on the first shard, and emit errors without a LearnRefNumber.
	MessageRule interface {
		Name() string
		ValidateMessage(rc *Context, msg *ilr.Message, emit Emit)
	}
)

// Engine runs a fixed rule set.
type Engine struct {
	learnerRules     []LearnerRule
	destinationRules []DestinationRule
	messageRules     []MessageRule
}

// NewEngine creates an engine. Rules are sorted into learner, destination and message
// rules by the interfaces they implement; a value implementing none is ignored.
func NewEngine(rules ...any) *Engine {
	e := &Engine{}

	for _, r := range rules {
		if lr, ok := r.(LearnerRule); ok {
			e.learnerRules = append(e.learnerRules, lr)
		}

		if dr, ok := r.(DestinationRule); ok {
			e.destinationRules = append(e.destinationRules, dr)
		}

		if mr, ok := r.(MessageRule); ok {
			e.messageRules = append(e.messageRules, mr)
		}
	}

	return e
}

// NewDefaultEngine returns an engine with every rule in this package.
func NewDefaultEngine() *Engine {
	return NewEngine(DefaultRules()...)
}

// RuleCount returns the number of rules the engine runs.
func (e *Engine) RuleCount() int {
	return len(e.learnerRules) + len(e.destinationRules) + len(e.messageRules)
}

// Run validates one shard and returns its errors in record order: message rules first,
// then each learner in order, then each destination and progression record in order.
// The severity of each error is taken from the error catalog, defaulting to SeverityError.
// Run returns ctx.Err() if the context ends before the shard is complete.
func (e *Engine) Run(ctx context.Context, rc *Context, shard *ilr.Message, includeMessageRules bool) ([]validation.Error, error) {
	errs := make([]validation.Error, 0)
	if shard == nil {
		return errs, nil
	}

	if rc == nil {
		rc = &Context{}
	}

	if rc.Reference == nil {
		rc = &Context{Reference: referencedata.Empty(), File: rc.File}
	}

	emit := func(err validation.Error) {
		if err.Severity == "" {
			err.Severity = validation.SeverityError

			if def, ok := rc.Reference.ErrorDefinition(err.RuleName); ok && def.Severity.Valid() {
				err.Severity = def.Severity
			}
		}

		errs = append(errs, err)
	}

	if includeMessageRules {
		for _, rule := range e.messageRules {
			rule.ValidateMessage(rc, shard, emit)
		}
	}

	for i := range shard.Learners {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, rule := range e.learnerRules {
			rule.ValidateLearner(rc, &shard.Learners[i], emit)
		}
	}

	for i := range shard.LearnerDestinationAndProgressions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, rule := range e.destinationRules {
			rule.ValidateDestination(rc, &shard.LearnerDestinationAndProgressions[i], emit)
		}
	}

	return errs, nil
}
