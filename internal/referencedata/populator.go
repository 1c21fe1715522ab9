package referencedata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/ilr"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/keyset"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/lookup"
)

const tracerName = "github.com/SkillsFundingAgency/ilr-validation-service/internal/referencedata"

type (
	// Populator builds the reference data cache of a submission. Every domain is
	// extracted, fetched and indexed independently and concurrently; the first
	// failing domain cancels the rest and fails the populate.
	Populator struct {
		stores    Stores
		batchSize int
		retries   uint64
		onBatch   func(domain string, keys int)
		logger    *slog.Logger
	}

	// PopulatorOption configures a Populator.
	PopulatorOption func(*Populator)
)

// WithBatchSize sets the lookup batch size used for every batched domain.
func WithBatchSize(size int) PopulatorOption {
	return func(p *Populator) {
		p.batchSize = size
	}
}

// WithRetries retries each failed lookup batch up to n times.
func WithRetries(n uint64) PopulatorOption {
	return func(p *Populator) {
		p.retries = n
	}
}

// WithBatchObserver registers a callback invoked for every lookup batch issued.
func WithBatchObserver(fn func(domain string, keys int)) PopulatorOption {
	return func(p *Populator) {
		p.onBatch = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PopulatorOption {
	return func(p *Populator) {
		p.logger = logger
	}
}

// NewPopulator creates a Populator over the given stores.
func NewPopulator(stores Stores, opts ...PopulatorOption) *Populator {
	p := &Populator{
		stores:    stores,
		batchSize: lookup.DefaultBatchSize,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Populate builds the cache for msg. It is called once per run before dispatch.
func (p *Populator) Populate(ctx context.Context, msg *ilr.Message) (*Cache, error) {
	if err := p.stores.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPopulate, err)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "referencedata.populate")
	defer span.End()

	start := time.Now()

	var (
		larsDeliveries []LARSLearningDelivery
		larsStandards  []LARSStandard
		organisations  []Organisation
		epaRows        []EPAOrganisationStandard
		postcodes      []string
		ulns           []int64
		employers      []int
		contracts      []ContractAllocation
		definitions    []ValidationErrorDefinition
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		larsDeliveries, err = lookup.Fetch(gctx, keyset.LearnAimRefs(msg), p.stores.LARS.LARSLearningDeliveries,
			p.fetchOptions(DomainLARSLearningDeliveries)...)
		return domainError(DomainLARSLearningDeliveries, err)
	})

	g.Go(func() (err error) {
		larsStandards, err = lookup.Fetch(gctx, keyset.StandardCodes(msg), p.stores.LARS.LARSStandards,
			p.fetchOptions(DomainLARSStandards)...)
		return domainError(DomainLARSStandards, err)
	})

	g.Go(func() (err error) {
		organisations, err = lookup.Fetch(gctx, keyset.UKPRNs(msg), p.stores.Organisations.Organisations,
			p.fetchOptions(DomainOrganisations)...)
		return domainError(DomainOrganisations, err)
	})

	g.Go(func() (err error) {
		epaRows, err = lookup.Fetch(gctx, keyset.EPAOrgIDs(msg), p.stores.Organisations.EPAOrganisations,
			p.fetchOptions(DomainEPAOrganisations)...)
		return domainError(DomainEPAOrganisations, err)
	})

	g.Go(func() (err error) {
		postcodes, err = lookup.Fetch(gctx, keyset.Postcodes(msg), p.stores.Postcodes.Postcodes,
			p.fetchOptions(DomainPostcodes)...)
		return domainError(DomainPostcodes, err)
	})

	g.Go(func() (err error) {
		ulns, err = lookup.Fetch(gctx, keyset.ULNs(msg), p.stores.ULNs.ULNs, p.fetchOptions(DomainULNs)...)
		return domainError(DomainULNs, err)
	})

	g.Go(func() (err error) {
		employers, err = lookup.Fetch(gctx, keyset.EmployerIDs(msg), p.stores.Employers.Employers,
			p.fetchOptions(DomainEmployers)...)
		return domainError(DomainEmployers, err)
	})

	// The filing provider is a single key: no batching.
	g.Go(func() (err error) {
		if msg == nil || msg.LearningProvider.UKPRN <= 0 {
			return nil
		}

		contracts, err = p.stores.FCS.ContractAllocations(gctx, msg.LearningProvider.UKPRN)
		return domainError(DomainContractAllocations, err)
	})

	g.Go(func() (err error) {
		definitions, err = p.stores.ErrorCatalog.ValidationErrorDefinitions(gctx)
		return domainError(DomainErrorDefinitions, err)
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, fmt.Errorf("%w: %w", ErrPopulate, err)
	}

	cache := NewBuilder().
		LARSLearningDeliveries(larsDeliveries).
		LARSStandards(larsStandards).
		Organisations(organisations).
		EPAOrganisations(epaRows).
		Postcodes(postcodes).
		ULNs(ulns).
		Employers(employers).
		ContractAllocations(contracts).
		ErrorDefinitions(definitions).
		Build()

	sizes := cache.Sizes()
	attrs := make([]any, 0, len(sizes)+1)
	attrs = append(attrs, slog.Duration("duration", time.Since(start)))

	for _, domain := range Domains {
		attrs = append(attrs, slog.Int(domain, sizes[domain]))
		span.SetAttributes(attribute.Int("referencedata."+domain, sizes[domain]))
	}

	p.logger.Info("Reference data populated", attrs...)

	return cache, nil
}

func (p *Populator) fetchOptions(domain string) []lookup.Option {
	opts := []lookup.Option{lookup.WithBatchSize(p.batchSize)}

	if p.retries > 0 {
		opts = append(opts, lookup.WithRetry(p.retries))
	}

	if p.onBatch != nil {
		opts = append(opts, lookup.WithBatchHook(func(keys int) {
			p.onBatch(domain, keys)
		}))
	}

	return opts
}

func domainError(domain string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", domain, err)
}
