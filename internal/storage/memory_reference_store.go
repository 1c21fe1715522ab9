package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/keyset"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/referencedata"
)

// ErrFixtureInvalid is returned when a reference data fixture file cannot be loaded.
var ErrFixtureInvalid = errors.New("invalid reference data fixture")

var _ referencedata.Store = (*MemoryReferenceStore)(nil)

// Fixture is the content of a MemoryReferenceStore, as read from a JSON file.
type Fixture struct {
	LARSLearningDeliveries []referencedata.LARSLearningDelivery      `json:"larsLearningDeliveries"`
	LARSStandards          []referencedata.LARSStandard              `json:"larsStandards"`
	Organisations          []referencedata.Organisation              `json:"organisations"`
	EPAOrganisations       []referencedata.EPAOrganisationStandard   `json:"epaOrganisations"`
	Postcodes              []string                                  `json:"postcodes"`
	ULNs                   []int64                                   `json:"ulns"`
	Employers              []int                                     `json:"employers"`
	ContractAllocations    []referencedata.ContractAllocation        `json:"contractAllocations"`
	ErrorDefinitions       []referencedata.ValidationErrorDefinition `json:"errorDefinitions"`
}

// MemoryReferenceStore serves reference data from memory with the same matching rules
// as ReferenceStore. It backs the CLI's fixture mode and tests.
type MemoryReferenceStore struct {
	mu sync.RWMutex

	lars          keyset.FoldMap[referencedata.LARSLearningDelivery]
	standards     map[int]referencedata.LARSStandard
	organisations map[int]referencedata.Organisation
	epa           map[string][]referencedata.EPAOrganisationStandard
	postcodes     keyset.FoldMap[string]
	ulns          keyset.Set[int64]
	employers     keyset.Set[int]
	allocations   []referencedata.ContractAllocation
	catalog       []referencedata.ValidationErrorDefinition
}

// NewMemoryReferenceStore creates a store holding f.
func NewMemoryReferenceStore(f Fixture) *MemoryReferenceStore {
	s := &MemoryReferenceStore{}
	s.Replace(f)

	return s
}

// LoadMemoryReferenceStore reads a JSON fixture file.
func LoadMemoryReferenceStore(path string) (*MemoryReferenceStore, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFixtureInvalid, err)
	}

	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFixtureInvalid, path, err)
	}

	return NewMemoryReferenceStore(f), nil
}

// Replace swaps the whole content of the store.
func (s *MemoryReferenceStore) Replace(f Fixture) {
	standards := make(map[int]referencedata.LARSStandard, len(f.LARSStandards))
	for _, r := range f.LARSStandards {
		standards[r.StandardCode] = r
	}

	organisations := make(map[int]referencedata.Organisation, len(f.Organisations))
	for _, r := range f.Organisations {
		organisations[r.UKPRN] = r
	}

	epa := make(map[string][]referencedata.EPAOrganisationStandard)
	for _, r := range f.EPAOrganisations {
		id := keyset.Fold(r.EPAOrgID)
		epa[id] = append(epa[id], r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lars = keyset.NewFoldMap(f.LARSLearningDeliveries, func(r referencedata.LARSLearningDelivery) string {
		return r.LearnAimRef
	})
	s.standards = standards
	s.organisations = organisations
	s.epa = epa
	s.postcodes = keyset.NewFoldMap(f.Postcodes, func(p string) string { return p })
	s.ulns = keyset.NewSet(f.ULNs...)
	s.employers = keyset.NewSet(f.Employers...)
	s.allocations = append([]referencedata.ContractAllocation(nil), f.ContractAllocations...)
	s.catalog = append([]referencedata.ValidationErrorDefinition(nil), f.ErrorDefinitions...)
}

// LARSLearningDeliveries implements referencedata.LARSStore.
func (s *MemoryReferenceStore) LARSLearningDeliveries(
	_ context.Context,
	learnAimRefs []string,
) ([]referencedata.LARSLearningDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return collect(learnAimRefs, s.lars.Get), nil
}

// LARSStandards implements referencedata.LARSStore.
func (s *MemoryReferenceStore) LARSStandards(_ context.Context, codes []int) ([]referencedata.LARSStandard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return collect(codes, lookupIn(s.standards)), nil
}

// Organisations implements referencedata.OrganisationStore.
func (s *MemoryReferenceStore) Organisations(_ context.Context, ukprns []int) ([]referencedata.Organisation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return collect(ukprns, lookupIn(s.organisations)), nil
}

// EPAOrganisations implements referencedata.OrganisationStore.
func (s *MemoryReferenceStore) EPAOrganisations(
	_ context.Context,
	ids []string,
) ([]referencedata.EPAOrganisationStandard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]referencedata.EPAOrganisationStandard, 0)
	for _, id := range keyset.DistinctFold(ids) {
		result = append(result, s.epa[keyset.Fold(id)]...)
	}

	return result, nil
}

// Postcodes implements referencedata.PostcodeStore.
func (s *MemoryReferenceStore) Postcodes(_ context.Context, postcodes []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return collect(postcodes, s.postcodes.Get), nil
}

// ULNs implements referencedata.ULNStore.
func (s *MemoryReferenceStore) ULNs(_ context.Context, ulns []int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return collect(ulns, func(u int64) (int64, bool) { return u, s.ulns.Contains(u) }), nil
}

// Employers implements referencedata.EmployerStore.
func (s *MemoryReferenceStore) Employers(_ context.Context, empIDs []int) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return collect(empIDs, func(id int) (int, bool) { return id, s.employers.Contains(id) }), nil
}

// ContractAllocations implements referencedata.FCSStore.
func (s *MemoryReferenceStore) ContractAllocations(
	_ context.Context,
	ukprn int,
) ([]referencedata.ContractAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]referencedata.ContractAllocation, 0)

	for _, a := range s.allocations {
		if a.UKPRN == ukprn {
			result = append(result, a)
		}
	}

	return result, nil
}

// ValidationErrorDefinitions implements referencedata.ErrorCatalogStore.
func (s *MemoryReferenceStore) ValidationErrorDefinitions(
	_ context.Context,
) ([]referencedata.ValidationErrorDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]referencedata.ValidationErrorDefinition{}, s.catalog...), nil
}

// collect looks every distinct key up with get and returns the hits.
func collect[K comparable, V any](keys []K, get func(K) (V, bool)) []V {
	result := make([]V, 0, len(keys))
	seen := make(map[K]struct{}, len(keys))

	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}

		seen[k] = struct{}{}

		if v, ok := get(k); ok {
			result = append(result, v)
		}
	}

	return result
}

func lookupIn[K comparable, V any](m map[K]V) func(K) (V, bool) {
	return func(k K) (V, bool) {
		v, ok := m[k]
		return v, ok
	}
}
