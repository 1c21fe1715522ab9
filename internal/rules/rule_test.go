package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/ilr"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/referencedata"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/validation"
)

func intPtr(v int) *int { return &v }

func reference() *referencedata.Cache {
	return referencedata.NewBuilder().
		LARSLearningDeliveries([]referencedata.LARSLearningDelivery{{LearnAimRef: "ZPROG001"}}).
		LARSStandards([]referencedata.LARSStandard{{StandardCode: 25}}).
		Organisations([]referencedata.Organisation{{UKPRN: 10000001}, {UKPRN: 10000002}}).
		EPAOrganisations([]referencedata.EPAOrganisationStandard{{EPAOrgID: "EPA0001", StandardCode: 25}}).
		Postcodes([]string{"B1 1AA"}).
		ULNs([]int64{1000000001}).
		Employers([]int{154549452}).
		ContractAllocations([]referencedata.ContractAllocation{
			{ContractAllocationNumber: "LEVY-1", UKPRN: 10000001},
			{ContractAllocationNumber: "LEVY-9", UKPRN: 10000099},
		}).
		ErrorDefinitions([]referencedata.ValidationErrorDefinition{
			{RuleName: RulePostcode14, Severity: validation.SeverityWarning},
		}).
		Build()
}

func cleanLearner(ref string) ilr.Learner {
	return ilr.Learner{
		LearnRefNumber: ref,
		ULN:            1000000001,
		Postcode:       "b1 1aa",
		PrevUKPRN:      intPtr(10000002),
		LearnerEmploymentStatuses: []ilr.LearnerEmploymentStatus{
			{EmpID: intPtr(154549452)},
		},
		LearningDeliveries: []ilr.LearningDelivery{
			{
				LearnAimRef:  "zprog001",
				AimSeqNumber: 1,
				StdCode:      intPtr(25),
				EPAOrgID:     "epa0001",
				PartnerUKPRN: intPtr(10000001),
				ConRefNumber: "levy-1",
			},
		},
	}
}

func run(t *testing.T, rc *Context, msg *ilr.Message, first bool) []validation.Error {
	t.Helper()

	errs, err := NewDefaultEngine().Run(context.Background(), rc, msg, first)
	require.NoError(t, err)

	return errs
}

func ruleNames(errs []validation.Error) []string {
	names := make([]string, 0, len(errs))
	for _, e := range errs {
		names = append(names, e.RuleName)
	}

	return names
}

func TestDefaultEngineRunsEveryRule(t *testing.T) {
	assert.Equal(t, 12, NewDefaultEngine().RuleCount())
}

func TestCleanLearnerHasNoErrors(t *testing.T) {
	msg := &ilr.Message{
		LearningProvider: ilr.LearningProvider{UKPRN: 10000001},
		Learners:         []ilr.Learner{cleanLearner("L001")},
		LearnerDestinationAndProgressions: []ilr.LearnerDestinationAndProgression{
			{LearnRefNumber: "L001", ULN: 1000000001},
		},
	}
	rc := &Context{Reference: reference(), File: FileData{UKPRN: 10000001}}

	assert.Empty(t, run(t, rc, msg, true))
}

func TestEachRuleReportsItsViolation(t *testing.T) {
	tests := []struct {
		rule   string
		mutate func(l *ilr.Learner)
		aimSeq bool
	}{
		{RuleLearnRefNumber01, func(l *ilr.Learner) { l.LearnRefNumber = "L_001" }, false},
		{RuleULN03, func(l *ilr.Learner) { l.ULN = 1000000002 }, false},
		{RulePostcode14, func(l *ilr.Learner) { l.Postcode = "CV1 2BB" }, false},
		{RulePrevUKPRN01, func(l *ilr.Learner) { l.PrevUKPRN = intPtr(10009999) }, false},
		{RuleEmpID01, func(l *ilr.Learner) { l.LearnerEmploymentStatuses[0].EmpID = intPtr(1) }, false},
		{RuleLearnAimRef01, func(l *ilr.Learner) { l.LearningDeliveries[0].LearnAimRef = "60000000" }, true},
		{RuleStdCode01, func(l *ilr.Learner) {
			l.LearningDeliveries[0].StdCode = intPtr(99)
			l.LearningDeliveries[0].EPAOrgID = ""
		}, true},
		{RulePartnerUKPRN01, func(l *ilr.Learner) { l.LearningDeliveries[0].PartnerUKPRN = intPtr(1) }, true},
		{RuleEPAOrgID01, func(l *ilr.Learner) { l.LearningDeliveries[0].EPAOrgID = "EPA0002" }, true},
		{RuleConRefNumber01, func(l *ilr.Learner) { l.LearningDeliveries[0].ConRefNumber = "LEVY-9" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			learner := cleanLearner("L001")
			tt.mutate(&learner)

			msg := &ilr.Message{
				LearningProvider: ilr.LearningProvider{UKPRN: 10000001},
				Learners:         []ilr.Learner{learner},
			}
			rc := &Context{Reference: reference(), File: FileData{UKPRN: 10000001}}

			errs := run(t, rc, msg, false)
			require.Equal(t, []string{tt.rule}, ruleNames(errs))
			assert.Equal(t, learner.LearnRefNumber, errs[0].LearnRefNumber)
			assert.NotEmpty(t, errs[0].Parameters)

			if tt.aimSeq {
				require.NotNil(t, errs[0].AimSequenceNumber)
				assert.Equal(t, 1, *errs[0].AimSequenceNumber)
			}
		})
	}
}

func TestSeverityFromCatalog(t *testing.T) {
	learner := cleanLearner("L001")
	learner.Postcode = "CV1 2BB"
	learner.ULN = 1000000002

	msg := &ilr.Message{Learners: []ilr.Learner{learner}}
	rc := &Context{Reference: reference(), File: FileData{UKPRN: 10000001}}

	errs := run(t, rc, msg, false)
	require.Len(t, errs, 2)

	bySeverity := map[string]validation.Severity{}
	for _, e := range errs {
		bySeverity[e.RuleName] = e.Severity
	}

	assert.Equal(t, validation.SeverityError, bySeverity[RuleULN03], "uncatalogued rules default to E")
	assert.Equal(t, validation.SeverityWarning, bySeverity[RulePostcode14])
}

func TestPlaceholderValuesAreAccepted(t *testing.T) {
	learner := cleanLearner("L001")
	learner.ULN = ilr.ULNUnknown
	learner.Postcode = "zz99 9zz"

	msg := &ilr.Message{
		Learners: []ilr.Learner{learner},
		LearnerDestinationAndProgressions: []ilr.LearnerDestinationAndProgression{
			{LearnRefNumber: "L001", ULN: ilr.ULNUnknown},
		},
	}
	rc := &Context{Reference: reference(), File: FileData{UKPRN: 10000001}}

	assert.Empty(t, run(t, rc, msg, false))
}

func TestDestinationRule(t *testing.T) {
	msg := &ilr.Message{
		LearnerDestinationAndProgressions: []ilr.LearnerDestinationAndProgression{
			{LearnRefNumber: "L001", ULN: 1000000001},
			{LearnRefNumber: "L002", ULN: 1000000003},
		},
	}

	errs := run(t, &Context{Reference: reference()}, msg, false)
	require.Len(t, errs, 1)
	assert.Equal(t, RuleDPULN01, errs[0].RuleName)
	assert.Equal(t, "L002", errs[0].LearnRefNumber)
}

func TestMessageRulesRunOnlyWhenRequested(t *testing.T) {
	msg := &ilr.Message{LearningProvider: ilr.LearningProvider{UKPRN: 10000001}}
	rc := &Context{
		Reference: reference(),
		File:      FileData{UKPRN: 10000001, FileName: "ILR-10000002-2425-20241001-093000-01.xml"},
	}

	errs := run(t, rc, msg, true)
	require.Equal(t, []string{RuleFilename01}, ruleNames(errs))
	assert.False(t, errs[0].RecordLevel())

	assert.Empty(t, run(t, rc, msg, false))
}

func TestRunPreservesRecordOrder(t *testing.T) {
	a, b := cleanLearner("A"), cleanLearner("B")
	a.ULN, b.ULN = 1, 2

	msg := &ilr.Message{Learners: []ilr.Learner{a, b}}

	errs := run(t, &Context{Reference: reference()}, msg, false)
	require.Len(t, errs, 4, "ULN_03 and ConRefNumber_01 per learner")
	assert.Equal(t, []string{"A", "A", "B", "B"}, []string{
		errs[0].LearnRefNumber, errs[1].LearnRefNumber, errs[2].LearnRefNumber, errs[3].LearnRefNumber,
	})
}

func TestRunObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := &ilr.Message{Learners: []ilr.Learner{cleanLearner("A")}}

	errs, err := NewDefaultEngine().Run(ctx, &Context{Reference: reference()}, msg, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, errs)
}

func TestRunWithoutReferenceData(t *testing.T) {
	msg := &ilr.Message{Learners: []ilr.Learner{{LearnRefNumber: "A", ULN: 1000000001}}}

	errs, err := NewDefaultEngine().Run(context.Background(), nil, msg, false)
	require.NoError(t, err)
	assert.Equal(t, []string{RuleULN03}, ruleNames(errs))
}

func TestNewFileData(t *testing.T) {
	msg := &ilr.Message{
		FileName:         "ILR-10000001-2425-20241001-093000-01.xml",
		LearningProvider: ilr.LearningProvider{UKPRN: 10000001},
	}

	fd := NewFileData(msg)
	assert.Equal(t, 10000001, fd.UKPRN)
	assert.Equal(t, msg.FileName, fd.FileName)
	assert.Equal(t, FileData{}, NewFileData(nil))
}
