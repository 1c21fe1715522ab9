package referencedata

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/keyset"
)

var (
	// ErrStoreMissing is returned when a reference domain has no store configured.
	ErrStoreMissing = errors.New("reference store not configured")
	// ErrPopulate is wrapped by every error returned from Populator.Populate.
	ErrPopulate = errors.New("failed to populate reference data")
)

func storeMissing(domain string) error {
	return fmt.Errorf("%w: %s", ErrStoreMissing, domain)
}

// Cache is the reference data of one run. It is immutable once built; every
// collection is non-nil even when the submission referenced no keys for it, so
// lookups never need a presence check. Safe for concurrent reads.
type Cache struct {
	larsDeliveries      keyset.FoldMap[LARSLearningDelivery]
	larsStandards       map[int]LARSStandard
	organisations       map[int]Organisation
	epaOrganisations    keyset.FoldMap[EPAOrganisation]
	postcodes           keyset.FoldSet
	ulns                keyset.Set[int64]
	employers           keyset.Set[int]
	contractAllocations keyset.FoldMap[ContractAllocation]
	errorDefinitions    keyset.FoldMap[ValidationErrorDefinition]
}

// LARSLearningDelivery looks up a learning aim, ignoring case.
func (c *Cache) LARSLearningDelivery(learnAimRef string) (LARSLearningDelivery, bool) {
	return c.larsDeliveries.Get(learnAimRef)
}

// LARSStandard looks up an apprenticeship standard.
func (c *Cache) LARSStandard(code int) (LARSStandard, bool) {
	v, ok := c.larsStandards[code]
	return v, ok
}

// Organisation looks up a provider by UKPRN.
func (c *Cache) Organisation(ukprn int) (Organisation, bool) {
	v, ok := c.organisations[ukprn]
	return v, ok
}

// EPAOrganisation looks up an end point assessment organisation, ignoring case.
func (c *Cache) EPAOrganisation(id string) (EPAOrganisation, bool) {
	return c.epaOrganisations.Get(id)
}

// PostcodeExists reports whether the postcode is registered, ignoring case.
func (c *Cache) PostcodeExists(postcode string) bool {
	return c.postcodes.Contains(postcode)
}

// ULNExists reports whether the ULN is registered.
func (c *Cache) ULNExists(uln int64) bool {
	return c.ulns.Contains(uln)
}

// EmployerExists reports whether the employer id is registered.
func (c *Cache) EmployerExists(empID int) bool {
	return c.employers.Contains(empID)
}

// ContractAllocation looks up a contract of the filing provider by number, ignoring case.
func (c *Cache) ContractAllocation(number string) (ContractAllocation, bool) {
	return c.contractAllocations.Get(number)
}

// ErrorDefinition looks up the catalog entry of a rule, ignoring case.
func (c *Cache) ErrorDefinition(ruleName string) (ValidationErrorDefinition, bool) {
	return c.errorDefinitions.Get(ruleName)
}

// Sizes returns the number of entries held per domain.
func (c *Cache) Sizes() map[string]int {
	return map[string]int{
		DomainLARSLearningDeliveries: c.larsDeliveries.Len(),
		DomainLARSStandards:          len(c.larsStandards),
		DomainOrganisations:          len(c.organisations),
		DomainEPAOrganisations:       c.epaOrganisations.Len(),
		DomainPostcodes:              c.postcodes.Len(),
		DomainULNs:                   c.ulns.Len(),
		DomainEmployers:              c.employers.Len(),
		DomainContractAllocations:    c.contractAllocations.Len(),
		DomainErrorDefinitions:       c.errorDefinitions.Len(),
	}
}

// snapshot is the serialized form of a Cache shipped to out-of-process workers.
type snapshot struct {
	LARSLearningDeliveries []LARSLearningDelivery      `json:"larsLearningDeliveries"`
	LARSStandards          []LARSStandard              `json:"larsStandards"`
	Organisations          []Organisation              `json:"organisations"`
	EPAOrganisations       []EPAOrganisation           `json:"epaOrganisations"`
	Postcodes              keyset.FoldSet              `json:"postcodes"`
	ULNs                   keyset.Set[int64]           `json:"ulns"`
	Employers              keyset.Set[int]             `json:"employers"`
	ContractAllocations    []ContractAllocation        `json:"contractAllocations"`
	ErrorDefinitions       []ValidationErrorDefinition `json:"errorDefinitions"`
}

// MarshalJSON encodes the cache as a deterministic snapshot.
func (c *Cache) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshot{
		LARSLearningDeliveries: c.larsDeliveries.Values(),
		LARSStandards:          sortedValues(c.larsStandards),
		Organisations:          sortedValues(c.organisations),
		EPAOrganisations:       c.epaOrganisations.Values(),
		Postcodes:              c.postcodes,
		ULNs:                   c.ulns,
		Employers:              c.employers,
		ContractAllocations:    c.contractAllocations.Values(),
		ErrorDefinitions:       c.errorDefinitions.Values(),
	})
}

// UnmarshalJSON rebuilds a cache from a snapshot.
func (c *Cache) UnmarshalJSON(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("reference data snapshot: %w", err)
	}

	b := NewBuilder().
		LARSLearningDeliveries(s.LARSLearningDeliveries).
		LARSStandards(s.LARSStandards).
		Organisations(s.Organisations).
		Postcodes(s.Postcodes.Values()).
		ULNs(s.ULNs.Values()).
		Employers(s.Employers.Values()).
		ContractAllocations(s.ContractAllocations).
		ErrorDefinitions(s.ErrorDefinitions)

	b.cache.epaOrganisations = keyset.NewFoldMap(s.EPAOrganisations, func(o EPAOrganisation) string { return o.ID })

	*c = *b.Build()

	return nil
}

func sortedValues[V any](m map[int]V) []V {
	keys := slices.Sorted(maps.Keys(m))
	values := make([]V, 0, len(keys))

	for _, k := range keys {
		values = append(values, m[k])
	}

	return values
}

// Builder assembles a Cache. Each domain setter replaces that domain's content.
// A Builder must not be used after Build.
type Builder struct {
	cache *Cache
}

// NewBuilder returns a builder whose domains are all empty.
func NewBuilder() *Builder {
	return &Builder{cache: &Cache{
		larsDeliveries:      keyset.FoldMap[LARSLearningDelivery]{},
		larsStandards:       map[int]LARSStandard{},
		organisations:       map[int]Organisation{},
		epaOrganisations:    keyset.FoldMap[EPAOrganisation]{},
		postcodes:           keyset.FoldSet{},
		ulns:                keyset.Set[int64]{},
		employers:           keyset.Set[int]{},
		contractAllocations: keyset.FoldMap[ContractAllocation]{},
		errorDefinitions:    keyset.FoldMap[ValidationErrorDefinition]{},
	}}
}

// LARSLearningDeliveries sets the learning aims domain.
func (b *Builder) LARSLearningDeliveries(rows []LARSLearningDelivery) *Builder {
	b.cache.larsDeliveries = keyset.NewFoldMap(rows, func(r LARSLearningDelivery) string { return r.LearnAimRef })
	return b
}

// LARSStandards sets the apprenticeship standards domain.
func (b *Builder) LARSStandards(rows []LARSStandard) *Builder {
	m := make(map[int]LARSStandard, len(rows))
	for _, r := range rows {
		m[r.StandardCode] = r
	}

	b.cache.larsStandards = m

	return b
}

// Organisations sets the provider register domain.
func (b *Builder) Organisations(rows []Organisation) *Builder {
	m := make(map[int]Organisation, len(rows))
	for _, r := range rows {
		m[r.UKPRN] = r
	}

	b.cache.organisations = m

	return b
}

// EPAOrganisations sets the EPA register domain, grouping per-standard rows by
// organisation id, ignoring case.
func (b *Builder) EPAOrganisations(rows []EPAOrganisationStandard) *Builder {
	m := make(keyset.FoldMap[EPAOrganisation], len(rows))

	for _, r := range rows {
		key := keyset.Fold(r.EPAOrgID)

		org, ok := m[key]
		if !ok {
			org = EPAOrganisation{ID: r.EPAOrgID, Name: r.Name, Standards: []int{}}
		}

		if !org.AssessesStandard(r.StandardCode) {
			org.Standards = append(org.Standards, r.StandardCode)
		}

		m[key] = org
	}

	for key, org := range m {
		slices.Sort(org.Standards)
		m[key] = org
	}

	b.cache.epaOrganisations = m

	return b
}

// Postcodes sets the registered postcode domain.
func (b *Builder) Postcodes(postcodes []string) *Builder {
	b.cache.postcodes = keyset.NewFoldSet(postcodes...)
	return b
}

// ULNs sets the registered ULN domain.
func (b *Builder) ULNs(ulns []int64) *Builder {
	b.cache.ulns = keyset.NewSet(ulns...)
	return b
}

// Employers sets the registered employer domain.
func (b *Builder) Employers(empIDs []int) *Builder {
	b.cache.employers = keyset.NewSet(empIDs...)
	return b
}

// ContractAllocations sets the provider contract domain.
func (b *Builder) ContractAllocations(rows []ContractAllocation) *Builder {
	b.cache.contractAllocations = keyset.NewFoldMap(rows, func(r ContractAllocation) string {
		return r.ContractAllocationNumber
	})

	return b
}

// ErrorDefinitions sets the error catalog domain.
func (b *Builder) ErrorDefinitions(rows []ValidationErrorDefinition) *Builder {
	b.cache.errorDefinitions = keyset.NewFoldMap(rows, func(r ValidationErrorDefinition) string { return r.RuleName })
	return b
}

// Build returns the assembled cache.
func (b *Builder) Build() *Cache {
	c := b.cache
	b.cache = nil

	return c
}

// Empty returns a cache with every domain empty.
func Empty() *Cache {
	return NewBuilder().Build()
}
