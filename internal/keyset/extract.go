package keyset

import "github.com/SkillsFundingAgency/ilr-validation-service/internal/ilr"

// Every extractor treats a nil message and nil nested collections as empty.

// LearnAimRefs returns the distinct learning aim references, case-insensitive.
func LearnAimRefs(msg *ilr.Message) []string {
	return DistinctFold(deliveryStrings(msg, func(d *ilr.LearningDelivery) string {
		return d.LearnAimRef
	}))
}

// StandardCodes returns the distinct apprenticeship standard codes.
func StandardCodes(msg *ilr.Message) []int {
	return Distinct(deliveryInts(msg, func(d *ilr.LearningDelivery) *int {
		return d.StdCode
	}))
}

// EPAOrgIDs returns the distinct end point assessment organisation ids, case-insensitive.
func EPAOrgIDs(msg *ilr.Message) []string {
	return DistinctFold(deliveryStrings(msg, func(d *ilr.LearningDelivery) string {
		return d.EPAOrgID
	}))
}

// UKPRNs returns every distinct UKPRN the submission refers to: the header and
// provider UKPRNs, learner previous and prime UKPRNs, and delivery partner UKPRNs.
func UKPRNs(msg *ilr.Message) []int {
	if msg == nil {
		return []int{}
	}

	direct := []int{msg.Header.Source.UKPRN, msg.LearningProvider.UKPRN}
	learner := make([]int, 0, len(msg.Learners))

	for i := range msg.Learners {
		l := &msg.Learners[i]

		if l.PrevUKPRN != nil {
			learner = append(learner, *l.PrevUKPRN)
		}

		if l.PMUKPRN != nil {
			learner = append(learner, *l.PMUKPRN)
		}
	}

	partners := deliveryInts(msg, func(d *ilr.LearningDelivery) *int {
		return d.PartnerUKPRN
	})

	return Distinct(direct, learner, partners)
}

// Postcodes returns the distinct learner, prior and delivery location postcodes, case-insensitive.
func Postcodes(msg *ilr.Message) []string {
	if msg == nil {
		return []string{}
	}

	learner := make([]string, 0, 2*len(msg.Learners))
	for i := range msg.Learners {
		learner = append(learner, msg.Learners[i].Postcode, msg.Learners[i].PostcodePrior)
	}

	delivery := deliveryStrings(msg, func(d *ilr.LearningDelivery) string {
		return d.DelLocPostCode
	})

	return DistinctFold(learner, delivery)
}

// ULNs returns the distinct ULNs of learners and destination and progression records.
func ULNs(msg *ilr.Message) []int64 {
	if msg == nil {
		return []int64{}
	}

	learners := make([]int64, 0, len(msg.Learners))
	for i := range msg.Learners {
		learners = append(learners, msg.Learners[i].ULN)
	}

	dps := make([]int64, 0, len(msg.LearnerDestinationAndProgressions))
	for i := range msg.LearnerDestinationAndProgressions {
		dps = append(dps, msg.LearnerDestinationAndProgressions[i].ULN)
	}

	return Distinct(learners, dps)
}

// EmployerIDs returns the distinct employer ids of learner employment statuses.
func EmployerIDs(msg *ilr.Message) []int {
	if msg == nil {
		return []int{}
	}

	ids := make([]int, 0)

	for i := range msg.Learners {
		for _, status := range msg.Learners[i].LearnerEmploymentStatuses {
			if status.EmpID != nil {
				ids = append(ids, *status.EmpID)
			}
		}
	}

	return Distinct(ids)
}

func deliveryStrings(msg *ilr.Message, field func(*ilr.LearningDelivery) string) []string {
	if msg == nil {
		return []string{}
	}

	values := make([]string, 0)

	for i := range msg.Learners {
		deliveries := msg.Learners[i].LearningDeliveries
		for j := range deliveries {
			values = append(values, field(&deliveries[j]))
		}
	}

	return values
}

func deliveryInts(msg *ilr.Message, field func(*ilr.LearningDelivery) *int) []int {
	if msg == nil {
		return []int{}
	}

	values := make([]int, 0)

	for i := range msg.Learners {
		deliveries := msg.Learners[i].LearningDeliveries
		for j := range deliveries {
			if v := field(&deliveries[j]); v != nil {
				values = append(values, *v)
			}
		}
	}

	return values
}
