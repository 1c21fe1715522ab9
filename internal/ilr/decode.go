package ilr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
)

// Maximum length of a LearnRefNumber in the ILR schema.
const maxLearnRefNumberLength = 12

var (
	// ErrDecode is returned when a submission cannot be decoded.
	ErrDecode = errors.New("failed to decode submission")
	// ErrStructureInvalid is returned when a submission fails the structural gate.
	ErrStructureInvalid = errors.New("submission structure is invalid")
)

// filenameRegex matches ILR-<UKPRN>-<year>-<yyyymmdd>-<hhmmss>-<serial>.
var filenameRegex = regexp.MustCompile(`^ILR-(\d{8})-(\d{4})-(\d{8})-(\d{6})-(\d{2})\.(json|xml)$`)

// Decode reads a JSON encoded submission.
func Decode(r io.Reader) (*Message, error) {
	var msg Message

	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return &msg, nil
}

// DecodeFile reads a JSON encoded submission from disk. FileName is set from the path
// when the document does not carry one.
func DecodeFile(path string) (*Message, error) {
	f, err := os.Open(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	defer func() {
		_ = f.Close()
	}()

	msg, err := Decode(f)
	if err != nil {
		return nil, err
	}

	if msg.FileName == "" {
		msg.FileName = filepath.Base(path)
	}

	return msg, nil
}

// FilenameUKPRN extracts the UKPRN encoded in an ILR filename.
// The second result is false when the name does not follow the ILR naming convention.
func FilenameUKPRN(fileName string) (int, bool) {
	matches := filenameRegex.FindStringSubmatch(filepath.Base(fileName))
	if matches == nil {
		return 0, false
	}

	var ukprn int
	if _, err := fmt.Sscanf(matches[1], "%d", &ukprn); err != nil {
		return 0, false
	}

	return ukprn, true
}

// CheckStructure is the structural gate that must pass before rule validation runs.
// It reports every problem found, joined, each wrapping ErrStructureInvalid.
func CheckStructure(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrStructureInvalid)
	}

	var errs []error

	if msg.LearningProvider.UKPRN <= 0 {
		errs = append(errs, fmt.Errorf("%w: LearningProvider UKPRN is required", ErrStructureInvalid))
	}

	for i := range msg.Learners {
		ref := msg.Learners[i].LearnRefNumber

		switch {
		case ref == "":
			errs = append(errs, fmt.Errorf("%w: learner %d: LearnRefNumber is required", ErrStructureInvalid, i))
		case len(ref) > maxLearnRefNumberLength:
			errs = append(errs, fmt.Errorf("%w: learner %d: LearnRefNumber %q exceeds %d characters",
				ErrStructureInvalid, i, ref, maxLearnRefNumberLength))
		}
	}

	for i := range msg.LearnerDestinationAndProgressions {
		if msg.LearnerDestinationAndProgressions[i].LearnRefNumber == "" {
			errs = append(errs, fmt.Errorf("%w: destination and progression %d: LearnRefNumber is required",
				ErrStructureInvalid, i))
		}
	}

	return errors.Join(errs...)
}
