// Package referencedata builds the read-only reference data cache that validation rules
// consult, from the minimal key sets a submission references.
package referencedata

import (
	"context"
	"time"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/validation"
)

// Domain names identify each reference data domain in logs and metrics.
const (
	DomainLARSLearningDeliveries = "lars_learning_deliveries"
	DomainLARSStandards          = "lars_standards"
	DomainOrganisations          = "organisations"
	DomainEPAOrganisations       = "epa_organisations"
	DomainPostcodes              = "postcodes"
	DomainULNs                   = "ulns"
	DomainEmployers              = "employers"
	DomainContractAllocations    = "fcs_contract_allocations"
	DomainErrorDefinitions       = "validation_error_definitions"
)

// Domains lists every reference data domain.
var Domains = []string{
	DomainLARSLearningDeliveries,
	DomainLARSStandards,
	DomainOrganisations,
	DomainEPAOrganisations,
	DomainPostcodes,
	DomainULNs,
	DomainEmployers,
	DomainContractAllocations,
	DomainErrorDefinitions,
}

type (
	// LARSLearningDelivery is a learning aim from the Learning Aim Reference Service.
	LARSLearningDelivery struct {
		LearnAimRef      string     `json:"learnAimRef"`
		LearnAimRefTitle string     `json:"learnAimRefTitle,omitempty"`
		NotionalNVQLevel string     `json:"notionalNvqLevel,omitempty"`
		EffectiveFrom    time.Time  `json:"effectiveFrom"`
		EffectiveTo      *time.Time `json:"effectiveTo,omitempty"`
	}

	// LARSStandard is an apprenticeship standard.
	LARSStandard struct {
		StandardCode   int        `json:"standardCode"`
		StandardName   string     `json:"standardName,omitempty"`
		EffectiveFrom  time.Time  `json:"effectiveFrom"`
		LastDateStarts *time.Time `json:"lastDateStarts,omitempty"`
	}

	// Organisation is a registered learning provider.
	Organisation struct {
		UKPRN        int    `json:"ukprn"`
		Name         string `json:"name,omitempty"`
		LegalOrgType string `json:"legalOrgType,omitempty"`
		PartnerUKPRN bool   `json:"partnerUkprn"`
	}

	// EPAOrganisationStandard is one row of the EPA register: an organisation approved for one standard.
	EPAOrganisationStandard struct {
		EPAOrgID     string `json:"epaOrgId"`
		Name         string `json:"name,omitempty"`
		StandardCode int    `json:"standardCode"`
	}

	// EPAOrganisation is an end point assessment organisation with the standards it may assess.
	EPAOrganisation struct {
		ID        string `json:"id"`
		Name      string `json:"name,omitempty"`
		Standards []int  `json:"standards"`
	}

	// ContractAllocation is a funding contract allocated to a provider.
	ContractAllocation struct {
		ContractAllocationNumber string     `json:"contractAllocationNumber"`
		UKPRN                    int        `json:"ukprn"`
		FundingStreamPeriodCode  string     `json:"fundingStreamPeriodCode,omitempty"`
		StartDate                time.Time  `json:"startDate"`
		EndDate                  *time.Time `json:"endDate,omitempty"`
	}

	// ValidationErrorDefinition is one entry of the error-message catalog.
	ValidationErrorDefinition struct {
		RuleName string              `json:"ruleName"`
		Severity validation.Severity `json:"severity"`
		Message  string              `json:"message"`
	}
)

// AssessesStandard reports whether the organisation is approved for the standard.
func (o EPAOrganisation) AssessesStandard(code int) bool {
	for _, s := range o.Standards {
		if s == code {
			return true
		}
	}

	return false
}

// Each store answers one query per call for a bounded batch of keys. Unknown keys are
// simply absent from the result.
type (
	// LARSStore queries the Learning Aim Reference Service.
	LARSStore interface {
		LARSLearningDeliveries(ctx context.Context, learnAimRefs []string) ([]LARSLearningDelivery, error)
		LARSStandards(ctx context.Context, standardCodes []int) ([]LARSStandard, error)
	}

	// OrganisationStore queries the provider register and the EPA register.
	OrganisationStore interface {
		Organisations(ctx context.Context, ukprns []int) ([]Organisation, error)
		EPAOrganisations(ctx context.Context, epaOrgIDs []string) ([]EPAOrganisationStandard, error)
	}

	// PostcodeStore checks postcodes against the postcode register.
	PostcodeStore interface {
		Postcodes(ctx context.Context, postcodes []string) ([]string, error)
	}

	// ULNStore checks unique learner numbers against the learner register.
	ULNStore interface {
		ULNs(ctx context.Context, ulns []int64) ([]int64, error)
	}

	// EmployerStore checks employer ids against the employer register.
	EmployerStore interface {
		Employers(ctx context.Context, empIDs []int) ([]int, error)
	}

	// FCSStore returns the funding contracts of one provider.
	FCSStore interface {
		ContractAllocations(ctx context.Context, ukprn int) ([]ContractAllocation, error)
	}

	// ErrorCatalogStore returns the whole validation error catalog.
	ErrorCatalogStore interface {
		ValidationErrorDefinitions(ctx context.Context) ([]ValidationErrorDefinition, error)
	}

	// Store is implemented by backends that serve every domain.
	Store interface {
		LARSStore
		OrganisationStore
		PostcodeStore
		ULNStore
		EmployerStore
		FCSStore
		ErrorCatalogStore
	}
)

// Stores holds one store per domain group, so domains may be served by different backends.
type Stores struct {
	LARS          LARSStore
	Organisations OrganisationStore
	Postcodes     PostcodeStore
	ULNs          ULNStore
	Employers     EmployerStore
	FCS           FCSStore
	ErrorCatalog  ErrorCatalogStore
}

// NewStores returns Stores served entirely by one backend.
func NewStores(s Store) Stores {
	return Stores{
		LARS:          s,
		Organisations: s,
		Postcodes:     s,
		ULNs:          s,
		Employers:     s,
		FCS:           s,
		ErrorCatalog:  s,
	}
}

// Validate reports ErrStoreMissing when any domain group has no store.
func (s Stores) Validate() error {
	switch {
	case s.LARS == nil:
		return storeMissing("LARS")
	case s.Organisations == nil:
		return storeMissing("organisations")
	case s.Postcodes == nil:
		return storeMissing("postcodes")
	case s.ULNs == nil:
		return storeMissing("ULNs")
	case s.Employers == nil:
		return storeMissing("employers")
	case s.FCS == nil:
		return storeMissing("FCS")
	case s.ErrorCatalog == nil:
		return storeMissing("error catalog")
	}

	return nil
}
