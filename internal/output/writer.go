package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/referencedata"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/validation"
)

// Artifact names written under the job prefix.
const (
	ValidLearnRefNumbersArtifact   = "ValidLearnRefNumbers.json"
	InvalidLearnRefNumbersArtifact = "InvalidLearnRefNumbers.json"
	ValidationErrorsArtifact       = "ValidationErrors.json"
	ValidationErrorLookupsArtifact = "ValidationErrorLookups.json"
)

var (
	// ErrInvalidJobID is returned when a job ID is empty or escapes its prefix.
	ErrInvalidJobID = errors.New("invalid job id")
	// ErrSaveFailed wraps the first artifact that could not be stored.
	ErrSaveFailed = errors.New("failed to save artifact")
)

// ArtifactStore persists serialized artifacts by key.
type ArtifactStore interface {
	Save(ctx context.Context, key string, payload []byte) error
}

// ErrorRow is one persisted validation error, joined with the catalog message.
type ErrorRow struct {
	RuleName          string                      `json:"ruleName"`
	LearnRefNumber    string                      `json:"learnRefNumber,omitempty"`
	AimSequenceNumber *int                        `json:"aimSequenceNumber,omitempty"`
	Severity          validation.Severity         `json:"severity"`
	Message           string                      `json:"message,omitempty"`
	Parameters        []validation.ErrorParameter `json:"parameters,omitempty"`
}

// ErrorLookup is the catalog entry of one rule that fired during the run.
type ErrorLookup struct {
	RuleName string              `json:"ruleName"`
	Severity validation.Severity `json:"severity"`
	Message  string              `json:"message"`
}

// Artifacts lists the keys written for a job.
type Artifacts struct {
	ValidLearnRefNumbers   string `json:"validLearnRefNumbers"`
	InvalidLearnRefNumbers string `json:"invalidLearnRefNumbers"`
	ValidationErrors       string `json:"validationErrors"`
	ValidationErrorLookups string `json:"validationErrorLookups"`
}

// Writer serializes a run's outputs to an ArtifactStore.
type Writer struct {
	store  ArtifactStore
	logger *slog.Logger
}

// NewWriter creates a Writer. A nil logger selects slog.Default().
func NewWriter(store ArtifactStore, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{store: store, logger: logger}
}

// ArtifactKeys returns the keys for jobID.
func ArtifactKeys(jobID string) (Artifacts, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return Artifacts{}, fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}

	return Artifacts{
		ValidLearnRefNumbers:   path.Join(jobID, ValidLearnRefNumbersArtifact),
		InvalidLearnRefNumbers: path.Join(jobID, InvalidLearnRefNumbersArtifact),
		ValidationErrors:       path.Join(jobID, ValidationErrorsArtifact),
		ValidationErrorLookups: path.Join(jobID, ValidationErrorLookupsArtifact),
	}, nil
}

// Write stores the four artifacts of a job. catalog may be nil, in which case rows
// carry no message and the lookups are empty.
func (w *Writer) Write(
	ctx context.Context,
	jobID string,
	rec Reconciliation,
	errs []validation.Error,
	catalog *referencedata.Cache,
) (Artifacts, error) {
	keys, err := ArtifactKeys(jobID)
	if err != nil {
		return Artifacts{}, err
	}

	rows, lookups := JoinCatalog(errs, catalog)

	artifacts := []struct {
		key   string
		value any
	}{
		{keys.ValidLearnRefNumbers, nonNil(rec.ValidLearnRefNumbers)},
		{keys.InvalidLearnRefNumbers, nonNil(rec.InvalidLearnRefNumbers)},
		{keys.ValidationErrors, rows},
		{keys.ValidationErrorLookups, lookups},
	}

	for _, a := range artifacts {
		payload, err := json.Marshal(a.value)
		if err != nil {
			return Artifacts{}, fmt.Errorf("%w: %s: %w", ErrSaveFailed, a.key, err)
		}

		if err := w.store.Save(ctx, a.key, payload); err != nil {
			return Artifacts{}, fmt.Errorf("%w: %s: %w", ErrSaveFailed, a.key, err)
		}

		w.logger.Debug("Artifact saved",
			slog.String("key", a.key),
			slog.Int("bytes", len(payload)))
	}

	w.logger.Info("Validation output persisted",
		slog.String("job_id", jobID),
		slog.Int("valid", len(rec.ValidLearnRefNumbers)),
		slog.Int("invalid", len(rec.InvalidLearnRefNumbers)),
		slog.Int("errors", len(rows)))

	return keys, nil
}

// JoinCatalog attaches catalog messages to errors and collects the catalog entries
// of every rule that fired, ordered by rule name. Rules missing from the catalog get
// no lookup entry.
func JoinCatalog(errs []validation.Error, catalog *referencedata.Cache) ([]ErrorRow, []ErrorLookup) {
	rows := make([]ErrorRow, 0, len(errs))
	lookups := make([]ErrorLookup, 0)
	seen := make(map[string]struct{})

	for _, e := range errs {
		row := ErrorRow{
			RuleName:          e.RuleName,
			LearnRefNumber:    e.LearnRefNumber,
			AimSequenceNumber: e.AimSequenceNumber,
			Severity:          e.Severity,
			Parameters:        e.Parameters,
		}

		if catalog != nil {
			if def, ok := catalog.ErrorDefinition(e.RuleName); ok {
				row.Message = def.Message

				if _, dup := seen[def.RuleName]; !dup {
					seen[def.RuleName] = struct{}{}
					lookups = append(lookups, ErrorLookup{
						RuleName: def.RuleName,
						Severity: def.Severity,
						Message:  def.Message,
					})
				}
			}
		}

		rows = append(rows, row)
	}

	slices.SortFunc(lookups, func(a, b ErrorLookup) int {
		return strings.Compare(a.RuleName, b.RuleName)
	})

	return rows, lookups
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}
