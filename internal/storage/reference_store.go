package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/keyset"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/referencedata"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/validation"
)

var (
	// ErrReferenceQuery is returned when a reference data query fails.
	ErrReferenceQuery = errors.New("reference data query failed")
	// ErrDatabaseUnavailable is additionally wrapped when the query failed because the database is unreachable.
	ErrDatabaseUnavailable = errors.New("database unavailable")

	_ referencedata.Store = (*ReferenceStore)(nil)
)

const (
	queryLARSLearningDeliveries = `
		SELECT learn_aim_ref, learn_aim_ref_title, notional_nvq_level, effective_from, effective_to
		FROM lars_learning_deliveries
		WHERE upper(learn_aim_ref) = ANY($1)`

	queryLARSStandards = `
		SELECT standard_code, standard_name, effective_from, last_date_starts
		FROM lars_standards
		WHERE standard_code = ANY($1)`

	queryOrganisations = `
		SELECT ukprn, name, legal_org_type, partner_ukprn
		FROM organisations
		WHERE ukprn = ANY($1)`

	queryEPAOrganisations = `
		SELECT epa_org_id, name, standard_code
		FROM epa_organisations
		WHERE upper(epa_org_id) = ANY($1)
		ORDER BY epa_org_id, standard_code`

	queryPostcodes = `SELECT postcode FROM postcodes WHERE upper(postcode) = ANY($1)`

	queryULNs = `SELECT uln FROM ulns WHERE uln = ANY($1)`

	queryEmployers = `SELECT emp_id FROM employers WHERE emp_id = ANY($1)`

	queryContractAllocations = `
		SELECT contract_allocation_number, ukprn, funding_stream_period_code, start_date, end_date
		FROM fcs_contract_allocations
		WHERE ukprn = $1`

	queryErrorDefinitions = `SELECT rule_name, severity, message FROM validation_error_definitions`
)

// ReferenceStore serves every reference data domain from PostgreSQL.
//
// Each call issues exactly one query; batching is the caller's concern. Keys matched
// case-insensitively are compared upper-cased against indexed upper() expressions.
type ReferenceStore struct {
	conn *Connection
}

// NewReferenceStore creates a ReferenceStore. Returns ErrNoDatabaseConnection if conn is nil.
func NewReferenceStore(conn *Connection) (*ReferenceStore, error) {
	if conn == nil || conn.DB == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ReferenceStore{conn: conn}, nil
}

// HealthCheck verifies the database is reachable.
func (s *ReferenceStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// LARSLearningDeliveries implements referencedata.LARSStore.
func (s *ReferenceStore) LARSLearningDeliveries(
	ctx context.Context,
	learnAimRefs []string,
) ([]referencedata.LARSLearningDelivery, error) {
	return queryRows(ctx, s.conn, referencedata.DomainLARSLearningDeliveries, queryLARSLearningDeliveries,
		func(rows *sql.Rows) (referencedata.LARSLearningDelivery, error) {
			var (
				r  referencedata.LARSLearningDelivery
				to sql.NullTime
			)

			err := rows.Scan(&r.LearnAimRef, &r.LearnAimRefTitle, &r.NotionalNVQLevel, &r.EffectiveFrom, &to)
			r.EffectiveTo = nullTime(to)

			return r, err
		}, pq.Array(foldAll(learnAimRefs)))
}

// LARSStandards implements referencedata.LARSStore.
func (s *ReferenceStore) LARSStandards(ctx context.Context, standardCodes []int) ([]referencedata.LARSStandard, error) {
	return queryRows(ctx, s.conn, referencedata.DomainLARSStandards, queryLARSStandards,
		func(rows *sql.Rows) (referencedata.LARSStandard, error) {
			var (
				r    referencedata.LARSStandard
				last sql.NullTime
			)

			err := rows.Scan(&r.StandardCode, &r.StandardName, &r.EffectiveFrom, &last)
			r.LastDateStarts = nullTime(last)

			return r, err
		}, pq.Array(toInt64s(standardCodes)))
}

// Organisations implements referencedata.OrganisationStore.
func (s *ReferenceStore) Organisations(ctx context.Context, ukprns []int) ([]referencedata.Organisation, error) {
	return queryRows(ctx, s.conn, referencedata.DomainOrganisations, queryOrganisations,
		func(rows *sql.Rows) (referencedata.Organisation, error) {
			var r referencedata.Organisation

			err := rows.Scan(&r.UKPRN, &r.Name, &r.LegalOrgType, &r.PartnerUKPRN)

			return r, err
		}, pq.Array(toInt64s(ukprns)))
}

// EPAOrganisations implements referencedata.OrganisationStore.
func (s *ReferenceStore) EPAOrganisations(
	ctx context.Context,
	epaOrgIDs []string,
) ([]referencedata.EPAOrganisationStandard, error) {
	return queryRows(ctx, s.conn, referencedata.DomainEPAOrganisations, queryEPAOrganisations,
		func(rows *sql.Rows) (referencedata.EPAOrganisationStandard, error) {
			var r referencedata.EPAOrganisationStandard

			err := rows.Scan(&r.EPAOrgID, &r.Name, &r.StandardCode)

			return r, err
		}, pq.Array(foldAll(epaOrgIDs)))
}

// Postcodes implements referencedata.PostcodeStore.
func (s *ReferenceStore) Postcodes(ctx context.Context, postcodes []string) ([]string, error) {
	return queryRows(ctx, s.conn, referencedata.DomainPostcodes, queryPostcodes, scanOne[string],
		pq.Array(foldAll(postcodes)))
}

// ULNs implements referencedata.ULNStore.
func (s *ReferenceStore) ULNs(ctx context.Context, ulns []int64) ([]int64, error) {
	return queryRows(ctx, s.conn, referencedata.DomainULNs, queryULNs, scanOne[int64], pq.Array(ulns))
}

// Employers implements referencedata.EmployerStore.
func (s *ReferenceStore) Employers(ctx context.Context, empIDs []int) ([]int, error) {
	return queryRows(ctx, s.conn, referencedata.DomainEmployers, queryEmployers, scanOne[int],
		pq.Array(toInt64s(empIDs)))
}

// ContractAllocations implements referencedata.FCSStore.
func (s *ReferenceStore) ContractAllocations(ctx context.Context, ukprn int) ([]referencedata.ContractAllocation, error) {
	return queryRows(ctx, s.conn, referencedata.DomainContractAllocations, queryContractAllocations,
		func(rows *sql.Rows) (referencedata.ContractAllocation, error) {
			var (
				r   referencedata.ContractAllocation
				end sql.NullTime
			)

			err := rows.Scan(&r.ContractAllocationNumber, &r.UKPRN, &r.FundingStreamPeriodCode, &r.StartDate, &end)
			r.EndDate = nullTime(end)

			return r, err
		}, ukprn)
}

// ValidationErrorDefinitions implements referencedata.ErrorCatalogStore.
func (s *ReferenceStore) ValidationErrorDefinitions(ctx context.Context) ([]referencedata.ValidationErrorDefinition, error) {
	return queryRows(ctx, s.conn, referencedata.DomainErrorDefinitions, queryErrorDefinitions,
		func(rows *sql.Rows) (referencedata.ValidationErrorDefinition, error) {
			var (
				r        referencedata.ValidationErrorDefinition
				severity string
			)

			err := rows.Scan(&r.RuleName, &severity, &r.Message)
			r.Severity = validation.Severity(severity)

			return r, err
		})
}

// queryRows runs one query and scans every row with scan.
func queryRows[T any](
	ctx context.Context,
	conn *Connection,
	domain, query string,
	scan func(*sql.Rows) (T, error),
	args ...any,
) ([]T, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryError(domain, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	result := make([]T, 0)

	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, queryError(domain, err)
		}

		result = append(result, v)
	}

	if err := rows.Err(); err != nil {
		return nil, queryError(domain, err)
	}

	return result, nil
}

func scanOne[T any](rows *sql.Rows) (T, error) {
	var v T

	err := rows.Scan(&v)

	return v, err
}

func queryError(domain string, err error) error {
	if isDatabaseConnectionError(err) {
		return fmt.Errorf("%w: %s: %w: %w", ErrReferenceQuery, domain, ErrDatabaseUnavailable, err)
	}

	return fmt.Errorf("%w: %s: %w", ErrReferenceQuery, domain, err)
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	v := t.Time

	return &v
}

func foldAll(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = keyset.Fold(k)
	}

	return out
}

func toInt64s(values []int) []int64 {
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}

	return out
}
