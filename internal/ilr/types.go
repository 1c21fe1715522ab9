// Package ilr defines the Individualised Learner Record submission model consumed by
// the validation pipeline.
//
// A Message is the root aggregate of one submission. Learners are the primary
// records, keyed by LearnRefNumber. Destination and progression records are
// secondary records listed beside the learners and correlated to them by the same
// LearnRefNumber.
package ilr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// dateLayout is the ILR date format.
const dateLayout = "2006-01-02"

// ULNUnknown is the placeholder ULN a provider submits when the learner's ULN is not yet known.
const ULNUnknown int64 = 9999999999

type (
	// Message is one ILR submission.
	Message struct {
		FileName                          string                             `json:"fileName,omitempty"`
		Header                            Header                             `json:"header"`
		LearningProvider                  LearningProvider                   `json:"learningProvider"`
		Learners                          []Learner                          `json:"learners"`
		LearnerDestinationAndProgressions []LearnerDestinationAndProgression `json:"learnerDestinationAndProgressions"`
	}

	// Header carries the collection and source metadata shared by every shard of a submission.
	Header struct {
		CollectionDetails CollectionDetails `json:"collectionDetails"`
		Source            Source            `json:"source"`
	}

	// CollectionDetails identifies the collection the file was prepared for.
	CollectionDetails struct {
		Collection          string `json:"collection"`
		Year                string `json:"year"`
		FilePreparationDate Date   `json:"filePreparationDate"`
	}

	// Source describes the system that produced the file.
	Source struct {
		ProtectiveMarking string    `json:"protectiveMarking,omitempty"`
		UKPRN             int       `json:"ukprn"`
		SoftwareSupplier  string    `json:"softwareSupplier,omitempty"`
		SoftwarePackage   string    `json:"softwarePackage,omitempty"`
		Release           string    `json:"release,omitempty"`
		SerialNo          string    `json:"serialNo,omitempty"`
		DateTime          time.Time `json:"dateTime"`
	}

	// LearningProvider is the provider making the return.
	LearningProvider struct {
		UKPRN int `json:"ukprn"`
	}

	// Learner is the primary validated record.
	Learner struct {
		LearnRefNumber            string                    `json:"learnRefNumber"`
		PrevLearnRefNumber        string                    `json:"prevLearnRefNumber,omitempty"`
		PrevUKPRN                 *int                      `json:"prevUkprn,omitempty"`
		PMUKPRN                   *int                      `json:"pmUkprn,omitempty"`
		ULN                       int64                     `json:"uln"`
		FamilyName                string                    `json:"familyName,omitempty"`
		GivenNames                string                    `json:"givenNames,omitempty"`
		DateOfBirth               *Date                     `json:"dateOfBirth,omitempty"`
		Ethnicity                 int                       `json:"ethnicity,omitempty"`
		Sex                       string                    `json:"sex,omitempty"`
		Postcode                  string                    `json:"postcode,omitempty"`
		PostcodePrior             string                    `json:"postcodePrior,omitempty"`
		LearnerFAMs               []LearnerFAM              `json:"learnerFams,omitempty"`
		LearnerEmploymentStatuses []LearnerEmploymentStatus `json:"learnerEmploymentStatuses,omitempty"`
		LearningDeliveries        []LearningDelivery        `json:"learningDeliveries,omitempty"`
	}

	// LearnerFAM is a learner funding and monitoring entry.
	LearnerFAM struct {
		LearnFAMType string `json:"learnFamType"`
		LearnFAMCode int    `json:"learnFamCode"`
	}

	// LearnerEmploymentStatus is one entry of a learner's employment history.
	LearnerEmploymentStatus struct {
		EmpStat        int  `json:"empStat"`
		DateEmpStatApp Date `json:"dateEmpStatApp"`
		EmpID          *int `json:"empId,omitempty"`
	}

	// LearningDelivery is one learning aim of a learner.
	LearningDelivery struct {
		LearnAimRef          string                `json:"learnAimRef"`
		AimType              int                   `json:"aimType"`
		AimSeqNumber         int                   `json:"aimSeqNumber"`
		LearnStartDate       Date                  `json:"learnStartDate"`
		LearnPlanEndDate     Date                  `json:"learnPlanEndDate"`
		FundModel            int                   `json:"fundModel"`
		ProgType             *int                  `json:"progType,omitempty"`
		FworkCode            *int                  `json:"fworkCode,omitempty"`
		PwayCode             *int                  `json:"pwayCode,omitempty"`
		StdCode              *int                  `json:"stdCode,omitempty"`
		PartnerUKPRN         *int                  `json:"partnerUkprn,omitempty"`
		DelLocPostCode       string                `json:"delLocPostCode,omitempty"`
		ConRefNumber         string                `json:"conRefNumber,omitempty"`
		EPAOrgID             string                `json:"epaOrgId,omitempty"`
		LearningDeliveryFAMs []LearningDeliveryFAM `json:"learningDeliveryFams,omitempty"`
	}

	// LearningDeliveryFAM is a learning delivery funding and monitoring entry.
	LearningDeliveryFAM struct {
		LearnDelFAMType string `json:"learnDelFamType"`
		LearnDelFAMCode string `json:"learnDelFamCode"`
	}

	// LearnerDestinationAndProgression is the secondary record correlated to a Learner by LearnRefNumber.
	LearnerDestinationAndProgression struct {
		LearnRefNumber string      `json:"learnRefNumber"`
		ULN            int64       `json:"uln"`
		DPOutcomes     []DPOutcome `json:"dpOutcomes,omitempty"`
	}

	// DPOutcome is one destination or progression outcome.
	DPOutcome struct {
		OutType      string `json:"outType"`
		OutCode      int    `json:"outCode"`
		OutStartDate Date   `json:"outStartDate"`
	}
)

// LearnRefNumbers returns the learner reference numbers of the message in record order.
func (m *Message) LearnRefNumbers() []string {
	if m == nil {
		return []string{}
	}

	keys := make([]string, 0, len(m.Learners))
	for i := range m.Learners {
		keys = append(keys, m.Learners[i].LearnRefNumber)
	}

	return keys
}

// Date is a calendar date encoded as "2006-01-02".
type Date struct {
	time.Time
}

// NewDate returns the Date for the given calendar day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// MarshalJSON encodes the date as "2006-01-02", or null for the zero date.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}

	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

// UnmarshalJSON accepts "2006-01-02", RFC 3339 timestamps, an empty string or null.
func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("date: %w", err)
	}

	if raw == "" {
		*d = Date{}
		return nil
	}

	if t, err := time.Parse(dateLayout, raw); err == nil {
		*d = Date{Time: t}
		return nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("date %q: expected YYYY-MM-DD", raw)
	}

	*d = Date{Time: t.UTC()}

	return nil
}
