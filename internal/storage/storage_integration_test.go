package storage

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/config"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/ilr"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/lookup"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/referencedata"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/validation"
)

const seedReferenceData = `
INSERT INTO lars_learning_deliveries (learn_aim_ref, effective_from) VALUES ('ZPROG001', '2020-01-01'), ('60146634', '2021-08-01');
INSERT INTO lars_standards (standard_code, standard_name, effective_from) VALUES (274, 'Software developer', '2018-01-01');
INSERT INTO organisations (ukprn, name) VALUES (10000001, 'Provider'), (10000002, 'Partner');
INSERT INTO epa_organisations (epa_org_id, standard_code) VALUES ('EPA0001', 274), ('EPA0001', 100);
INSERT INTO postcodes (postcode) VALUES ('B1 1AA');
INSERT INTO ulns (uln) VALUES (1000000001);
INSERT INTO employers (emp_id) VALUES (154549452);
INSERT INTO fcs_contract_allocations (contract_allocation_number, ukprn, start_date) VALUES ('LEVY-1', 10000001, '2024-08-01');
`

func setupConnection(ctx context.Context, t *testing.T) *Connection {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn, err := NewConnection(ctx, NewConfig(testDB.URL))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
	})

	return conn
}

func TestReferenceStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupConnection(ctx, t)

	_, err := conn.ExecContext(ctx, seedReferenceData)
	require.NoError(t, err)

	store, err := NewReferenceStore(conn)
	require.NoError(t, err)
	require.NoError(t, store.HealthCheck(ctx))

	t.Run("case-insensitive keys", func(t *testing.T) {
		lars, err := store.LARSLearningDeliveries(ctx, []string{"zprog001", "missing"})
		require.NoError(t, err)
		require.Len(t, lars, 1)
		assert.Equal(t, "ZPROG001", lars[0].LearnAimRef)
		assert.Nil(t, lars[0].EffectiveTo)

		postcodes, err := store.Postcodes(ctx, []string{"b1 1aa"})
		require.NoError(t, err)
		assert.Equal(t, []string{"B1 1AA"}, postcodes)

		epa, err := store.EPAOrganisations(ctx, []string{"epa0001"})
		require.NoError(t, err)
		assert.Len(t, epa, 2)
	})

	t.Run("integer keys", func(t *testing.T) {
		orgs, err := store.Organisations(ctx, []int{10000001, 10000002, 99999999})
		require.NoError(t, err)
		assert.Len(t, orgs, 2)

		ulns, err := store.ULNs(ctx, []int64{1000000001, 1000000002})
		require.NoError(t, err)
		assert.Equal(t, []int64{1000000001}, ulns)

		emps, err := store.Employers(ctx, []int{154549452})
		require.NoError(t, err)
		assert.Equal(t, []int{154549452}, emps)
	})

	t.Run("empty key batch", func(t *testing.T) {
		ulns, err := store.ULNs(ctx, []int64{})
		require.NoError(t, err)
		assert.NotNil(t, ulns)
		assert.Empty(t, ulns)
	})

	t.Run("seeded error catalog", func(t *testing.T) {
		defs, err := store.ValidationErrorDefinitions(ctx)
		require.NoError(t, err)
		assert.Len(t, defs, 12)

		for _, d := range defs {
			assert.True(t, d.Severity.Valid(), d.RuleName)
		}
	})

	t.Run("batched fetch matches one query", func(t *testing.T) {
		values := make([]string, 0, 1200)
		keys := make([]int64, 0, 1200)

		for i := int64(0); i < 1200; i++ {
			keys = append(keys, 2000000000+i)
			if i%3 == 0 {
				values = append(values, "("+strconv.FormatInt(2000000000+i, 10)+")")
			}
		}

		_, err := conn.ExecContext(ctx, "INSERT INTO ulns (uln) VALUES "+strings.Join(values, ","))
		require.NoError(t, err)

		batches := 0
		got, err := lookup.Fetch(ctx, keys, store.ULNs,
			lookup.WithBatchSize(500),
			lookup.WithBatchHook(func(int) { batches++ }))
		require.NoError(t, err)

		assert.Equal(t, 3, batches)
		assert.Len(t, got, 400)
	})

	t.Run("populate from postgres", func(t *testing.T) {
		msg := &ilr.Message{
			LearningProvider: ilr.LearningProvider{UKPRN: 10000001},
			Learners: []ilr.Learner{{
				LearnRefNumber: "A",
				ULN:            1000000001,
				LearningDeliveries: []ilr.LearningDelivery{
					{LearnAimRef: "zprog001", StdCode: intPtr(274), EPAOrgID: "epa0001", ConRefNumber: "levy-1"},
				},
			}},
		}

		cache, err := referencedata.NewPopulator(referencedata.NewStores(store)).Populate(ctx, msg)
		require.NoError(t, err)

		_, ok := cache.LARSStandard(274)
		assert.True(t, ok)

		org, ok := cache.EPAOrganisation("EPA0001")
		require.True(t, ok)
		assert.True(t, org.AssessesStandard(274))

		def, ok := cache.ErrorDefinition("postcode_14")
		require.True(t, ok)
		assert.Equal(t, validation.SeverityWarning, def.Severity)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := store.ULNs(cctx, []int64{1})
		assert.ErrorIs(t, err, ErrReferenceQuery)
	})
}

func TestPostgresArtifactStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	store, err := NewPostgresArtifactStore(setupConnection(ctx, t))
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "job/ValidationErrors.json", []byte(`[]`)))
	require.NoError(t, store.Save(ctx, "job/ValidationErrors.json", []byte(`[{"ruleName":"ULN_03"}]`)))

	got, err := store.Load(ctx, "job/ValidationErrors.json")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"ruleName":"ULN_03"}]`, string(got))

	_, err = store.Load(ctx, "job/missing.json")
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	_, err = NewPostgresArtifactStore(nil)
	assert.ErrorIs(t, err, ErrNoDatabaseConnection)
}

func TestRedisArtifactStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	url := config.SetupTestRedis(ctx, t)

	store, err := NewRedisArtifactStore(ctx, url, time.Hour)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	require.NoError(t, store.Save(ctx, "job/InvalidLearnRefNumbers.json", []byte(`["B"]`)))

	got, err := store.Load(ctx, "job/InvalidLearnRefNumbers.json")
	require.NoError(t, err)
	assert.Equal(t, `["B"]`, string(got))

	ttl, err := store.TTL(ctx, "job/InvalidLearnRefNumbers.json")
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	_, err = store.Load(ctx, "job/none.json")
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	_, err = NewRedisArtifactStore(ctx, "not a url", 0)
	assert.ErrorIs(t, err, ErrArtifactStore)
}

func intPtr(v int) *int {
	return &v
}
