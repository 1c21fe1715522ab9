package rules

import (
	"regexp"
	"strings"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/ilr"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/validation"
)

// Rule names.
const (
	RuleFilename01       = "Filename_01"
	RuleLearnRefNumber01 = "LearnRefNumber_01"
	RuleULN03            = "ULN_03"
	RulePostcode14       = "Postcode_14"
	RulePrevUKPRN01      = "PrevUKPRN_01"
	RuleLearnAimRef01    = "LearnAimRef_01"
	RuleStdCode01        = "StdCode_01"
	RulePartnerUKPRN01   = "PartnerUKPRN_01"
	RuleEPAOrgID01       = "EPAOrgID_01"
	RuleConRefNumber01   = "ConRefNumber_01"
	RuleEmpID01          = "EmpID_01"
	RuleDPULN01          = "DP_ULN_01"
)

// postcodeTemporary is the placeholder postcode for a learner whose postcode is not known.
const postcodeTemporary = "ZZ99 9ZZ"

var learnRefNumberRegex = regexp.MustCompile(`^[A-Za-z0-9 ]+$`)

// DefaultRules returns one instance of every rule in this package.
func DefaultRules() []any {
	return []any{
		filename01{},
		learnRefNumber01{},
		uln03{},
		postcode14{},
		prevUKPRN01{},
		learnAimRef01{},
		stdCode01{},
		partnerUKPRN01{},
		epaOrgID01{},
		conRefNumber01{},
		empID01{},
		dpULN01{},
	}
}

type filename01 struct{}

func (filename01) Name() string { return RuleFilename01 }

func (r filename01) ValidateMessage(rc *Context, msg *ilr.Message, emit Emit) {
	ukprn, ok := ilr.FilenameUKPRN(rc.File.FileName)
	if !ok || ukprn == msg.LearningProvider.UKPRN {
		return
	}

	emit(validation.Error{
		RuleName: r.Name(),
		Parameters: []validation.ErrorParameter{
			validation.Param("Filename", rc.File.FileName),
			validation.Param("UKPRN", msg.LearningProvider.UKPRN),
		},
	})
}

type learnRefNumber01 struct{}

func (learnRefNumber01) Name() string { return RuleLearnRefNumber01 }

func (r learnRefNumber01) ValidateLearner(_ *Context, l *ilr.Learner, emit Emit) {
	if learnRefNumberRegex.MatchString(l.LearnRefNumber) {
		return
	}

	emit(learnerError(r.Name(), l, validation.Param("LearnRefNumber", l.LearnRefNumber)))
}

type uln03 struct{}

func (uln03) Name() string { return RuleULN03 }

func (r uln03) ValidateLearner(rc *Context, l *ilr.Learner, emit Emit) {
	if l.ULN == 0 || l.ULN == ilr.ULNUnknown || rc.Reference.ULNExists(l.ULN) {
		return
	}

	emit(learnerError(r.Name(), l, validation.Param("ULN", l.ULN)))
}

type postcode14 struct{}

func (postcode14) Name() string { return RulePostcode14 }

func (r postcode14) ValidateLearner(rc *Context, l *ilr.Learner, emit Emit) {
	postcode := strings.TrimSpace(l.Postcode)
	if postcode == "" || strings.EqualFold(postcode, postcodeTemporary) || rc.Reference.PostcodeExists(postcode) {
		return
	}

	emit(learnerError(r.Name(), l, validation.Param("Postcode", l.Postcode)))
}

type prevUKPRN01 struct{}

func (prevUKPRN01) Name() string { return RulePrevUKPRN01 }

func (r prevUKPRN01) ValidateLearner(rc *Context, l *ilr.Learner, emit Emit) {
	if l.PrevUKPRN == nil {
		return
	}

	if _, ok := rc.Reference.Organisation(*l.PrevUKPRN); ok {
		return
	}

	emit(learnerError(r.Name(), l, validation.Param("PrevUKPRN", *l.PrevUKPRN)))
}

type learnAimRef01 struct{}

func (learnAimRef01) Name() string { return RuleLearnAimRef01 }

func (r learnAimRef01) ValidateLearner(rc *Context, l *ilr.Learner, emit Emit) {
	for i := range l.LearningDeliveries {
		d := &l.LearningDeliveries[i]

		if _, ok := rc.Reference.LARSLearningDelivery(d.LearnAimRef); ok {
			continue
		}

		emit(deliveryError(r.Name(), l, d, validation.Param("LearnAimRef", d.LearnAimRef)))
	}
}

type stdCode01 struct{}

func (stdCode01) Name() string { return RuleStdCode01 }

func (r stdCode01) ValidateLearner(rc *Context, l *ilr.Learner, emit Emit) {
	for i := range l.LearningDeliveries {
		d := &l.LearningDeliveries[i]
		if d.StdCode == nil {
			continue
		}

		if _, ok := rc.Reference.LARSStandard(*d.StdCode); ok {
			continue
		}

		emit(deliveryError(r.Name(), l, d, validation.Param("StdCode", *d.StdCode)))
	}
}

type partnerUKPRN01 struct{}

func (partnerUKPRN01) Name() string { return RulePartnerUKPRN01 }

func (r partnerUKPRN01) ValidateLearner(rc *Context, l *ilr.Learner, emit Emit) {
	for i := range l.LearningDeliveries {
		d := &l.LearningDeliveries[i]
		if d.PartnerUKPRN == nil {
			continue
		}

		if _, ok := rc.Reference.Organisation(*d.PartnerUKPRN); ok {
			continue
		}

		emit(deliveryError(r.Name(), l, d, validation.Param("PartnerUKPRN", *d.PartnerUKPRN)))
	}
}

type epaOrgID01 struct{}

func (epaOrgID01) Name() string { return RuleEPAOrgID01 }

func (r epaOrgID01) ValidateLearner(rc *Context, l *ilr.Learner, emit Emit) {
	for i := range l.LearningDeliveries {
		d := &l.LearningDeliveries[i]
		if d.EPAOrgID == "" || d.StdCode == nil {
			continue
		}

		if org, ok := rc.Reference.EPAOrganisation(d.EPAOrgID); ok && org.AssessesStandard(*d.StdCode) {
			continue
		}

		emit(deliveryError(r.Name(), l, d,
			validation.Param("EPAOrgID", d.EPAOrgID),
			validation.Param("StdCode", *d.StdCode),
		))
	}
}

type conRefNumber01 struct{}

func (conRefNumber01) Name() string { return RuleConRefNumber01 }

func (r conRefNumber01) ValidateLearner(rc *Context, l *ilr.Learner, emit Emit) {
	for i := range l.LearningDeliveries {
		d := &l.LearningDeliveries[i]
		if d.ConRefNumber == "" {
			continue
		}

		if c, ok := rc.Reference.ContractAllocation(d.ConRefNumber); ok && c.UKPRN == rc.File.UKPRN {
			continue
		}

		emit(deliveryError(r.Name(), l, d, validation.Param("ConRefNumber", d.ConRefNumber)))
	}
}

type empID01 struct{}

func (empID01) Name() string { return RuleEmpID01 }

func (r empID01) ValidateLearner(rc *Context, l *ilr.Learner, emit Emit) {
	for _, status := range l.LearnerEmploymentStatuses {
		if status.EmpID == nil || rc.Reference.EmployerExists(*status.EmpID) {
			continue
		}

		emit(learnerError(r.Name(), l,
			validation.Param("EmpID", *status.EmpID),
			validation.Param("DateEmpStatApp", status.DateEmpStatApp.Format("2006-01-02")),
		))
	}
}

type dpULN01 struct{}

func (dpULN01) Name() string { return RuleDPULN01 }

func (r dpULN01) ValidateDestination(rc *Context, dp *ilr.LearnerDestinationAndProgression, emit Emit) {
	if dp.ULN == 0 || dp.ULN == ilr.ULNUnknown || rc.Reference.ULNExists(dp.ULN) {
		return
	}

	emit(validation.Error{
		RuleName:       r.Name(),
		LearnRefNumber: dp.LearnRefNumber,
		Parameters:     []validation.ErrorParameter{validation.Param("ULN", dp.ULN)},
	})
}

func learnerError(rule string, l *ilr.Learner, params ...validation.ErrorParameter) validation.Error {
	return validation.Error{
		RuleName:       rule,
		LearnRefNumber: l.LearnRefNumber,
		Parameters:     params,
	}
}

func deliveryError(rule string, l *ilr.Learner, d *ilr.LearningDelivery, params ...validation.ErrorParameter) validation.Error {
	return validation.Error{
		RuleName:          rule,
		LearnRefNumber:    l.LearnRefNumber,
		AimSequenceNumber: validation.AimSequence(d.AimSeqNumber),
		Parameters:        params,
	}
}
