package resolver

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/juniper/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := New(testLogger(), DefaultConfig())
	require.NoError(t, err)
	return r
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

// fullRecord carries every tracked field, so it fingerprints at tier 1
func fullRecord(id string) *models.PersonRecord {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &models.PersonRecord{
		RecordID:     id,
		FullName:     strPtr("Rajesh Kumar"),
		RelativeName: strPtr("Suresh"),
		RelationType: strPtr("father"),
		Gender:       strPtr("M"),
		Age:          intPtr(28),
		PhoneNumber:  strPtr("9000000001"),
		Locality:     strPtr("Malakpet"),
		CreatedAt:    &created,
	}
}

// memberships reduces a result to its partition of record ids, ignoring
// cluster ids and ordering
func memberships(result *Result) [][]string {
	out := make([][]string, 0, len(result.Clusters))
	for _, c := range result.Clusters {
		members := append([]string(nil), c.MemberRecordIDs...)
		sort.Strings(members)
		out = append(out, members)
	}
	// every cluster has at least one member
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func TestNew_ConfigValidation(t *testing.T) {
	t.Run("default config is valid", func(t *testing.T) {
		_, err := New(testLogger(), DefaultConfig())
		assert.NoError(t, err)
	})

	t.Run("threshold outside range", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MatchThreshold = 1.5
		_, err := New(testLogger(), cfg)

		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "match_threshold", cfgErr.Field)
	})

	t.Run("weights must sum to one", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.FieldWeights["full_name"] = 0.2

		var cfgErr *ConfigError
		_, err := New(testLogger(), cfg)
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "field_weights", cfgErr.Field)
	})

	t.Run("tier weights must be in range", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TierBaseWeights[2] = 0

		_, err := New(testLogger(), cfg)
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "tier_base_weights", cfgErr.Field)
	})

	t.Run("worker count", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.FuzzyWorkers = 0
		_, err := New(testLogger(), cfg)
		assert.Error(t, err)
	})
}

func TestResolver_ExactDuplicates(t *testing.T) {
	r := newTestResolver(t)

	result, err := r.Resolve(context.Background(), []*models.PersonRecord{
		fullRecord("r1"),
		fullRecord("r2"),
	})
	require.NoError(t, err)

	require.Len(t, result.Clusters, 1)
	c := result.Clusters[0]
	assert.Equal(t, models.TierMethod(1), c.MatchingMethod)
	assert.Equal(t, 1, c.Tier)
	assert.ElementsMatch(t, []string{"r1", "r2"}, c.MemberRecordIDs)
	// complete canonical record keeps the full tier-1 base weight
	assert.Equal(t, 0.95, c.ConfidenceScore)
	assert.Equal(t, 100.0, c.QualityFlags.CompletenessPercent)
}

func TestResolver_TierPriority(t *testing.T) {
	r := newTestResolver(t)

	// carries every field, so tiers 1 through 5 all qualify
	result, err := r.Resolve(context.Background(), []*models.PersonRecord{
		func() *models.PersonRecord {
			rec := fullRecord("r1")
			rec.District = strPtr("Hyderabad")
			return rec
		}(),
	})
	require.NoError(t, err)

	require.Len(t, result.Clusters, 1)
	assert.Equal(t, 1, result.Clusters[0].Tier)
	assert.Equal(t, models.TierMethod(1), result.Clusters[0].MatchingMethod)
}

func TestResolver_FingerprintDeterminism(t *testing.T) {
	r := newTestResolver(t)
	records := []*models.PersonRecord{fullRecord("r1"), fullRecord("r2")}

	first, err := r.Resolve(context.Background(), records)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), []*models.PersonRecord{records[1], records[0]})
	require.NoError(t, err)

	// fingerprint cluster ids are derived from the key, not the run
	assert.Equal(t, first.Clusters[0].ClusterID, second.Clusters[0].ClusterID)
}

func TestResolver_FuzzyMergeWithoutFingerprints(t *testing.T) {
	r := newTestResolver(t)

	// neither record has enough fields for any tier, so both take the fuzzy
	// path and find each other during the commit pass
	result, err := r.Resolve(context.Background(), []*models.PersonRecord{
		{RecordID: "r1", FullName: strPtr("Abdul Rehman")},
		{RecordID: "r2", FullName: strPtr("Abdul Rahman")},
	})
	require.NoError(t, err)

	require.Len(t, result.Clusters, 1)
	c := result.Clusters[0]
	assert.Equal(t, models.MatchingMethodEnsembleFuzzy, c.MatchingMethod)
	assert.ElementsMatch(t, []string{"r1", "r2"}, c.MemberRecordIDs)
	assert.Len(t, c.MatchScores, 1)
	assert.ElementsMatch(t, []string{"Abdul Rehman", "Abdul Rahman"}, c.NameVariations)
}

func TestResolver_GenderConflictDoesNotBlockStrongNames(t *testing.T) {
	r := newTestResolver(t)

	result, err := r.Resolve(context.Background(), []*models.PersonRecord{
		{RecordID: "r1", FullName: strPtr("Ramesh"), RelativeName: strPtr("Venkatesh"), Gender: strPtr("Male"), Age: intPtr(35)},
		{RecordID: "r2", FullName: strPtr("Ramesh"), RelativeName: strPtr("Venkatesh"), Gender: strPtr("Female"), Age: intPtr(35)},
	})
	require.NoError(t, err)

	require.Len(t, result.Clusters, 1)
	assert.ElementsMatch(t, []string{"r1", "r2"}, result.Clusters[0].MemberRecordIDs)
}

func TestResolver_FuzzyJoinIntoFingerprintCluster(t *testing.T) {
	r := newTestResolver(t)

	// r3 has no phone or locality, so no tier fires, but it scores high
	// against the tier-1 cluster's canonical
	r3 := &models.PersonRecord{
		RecordID:     "r3",
		FullName:     strPtr("Rajesh Kumarr"),
		RelativeName: strPtr("Suresh"),
		RelationType: strPtr("father"),
		Gender:       strPtr("M"),
		Age:          intPtr(28),
	}

	result, err := r.Resolve(context.Background(), []*models.PersonRecord{
		fullRecord("r1"),
		fullRecord("r2"),
		r3,
	})
	require.NoError(t, err)

	require.Len(t, result.Clusters, 1)
	c := result.Clusters[0]
	// the cluster keeps its fingerprint formation method
	assert.Equal(t, models.TierMethod(1), c.MatchingMethod)
	assert.ElementsMatch(t, []string{"r1", "r2", "r3"}, c.MemberRecordIDs)
	assert.Contains(t, c.MatchScores, "r3")
	assert.GreaterOrEqual(t, c.MatchScores["r3"], 0.65)
	assert.Contains(t, c.NameVariations, "Rajesh Kumarr")
	assert.Positive(t, result.FuzzyComparisons)
}

func TestResolver_SingletonForUnmatchable(t *testing.T) {
	r := newTestResolver(t)

	result, err := r.Resolve(context.Background(), []*models.PersonRecord{
		{RecordID: "r1"},
	})
	require.NoError(t, err)

	require.Len(t, result.Clusters, 1)
	c := result.Clusters[0]
	assert.Equal(t, models.MatchingMethodSingletonUnmatched, c.MatchingMethod)
	assert.Equal(t, "r1", c.CanonicalRecordID)
	assert.Equal(t, 0.0, c.ConfidenceScore)
	assert.Equal(t, 0.0, c.QualityFlags.CompletenessPercent)
}

func TestResolver_InvalidRecordsSkipped(t *testing.T) {
	r := newTestResolver(t)

	result, err := r.Resolve(context.Background(), []*models.PersonRecord{
		fullRecord("r1"),
		{RecordID: "", FullName: strPtr("No Id")},
		{RecordID: "   ", FullName: strPtr("Whitespace Id")},
		nil,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.InvalidRecords)
	assert.Equal(t, 4, result.TotalRecords)
	require.Len(t, result.Clusters, 1)
	assert.ElementsMatch(t, []string{"r1"}, result.Clusters[0].MemberRecordIDs)
}

func TestResolver_PartitionInvariant(t *testing.T) {
	r := newTestResolver(t)

	records := []*models.PersonRecord{
		fullRecord("r1"),
		fullRecord("r2"),
		{RecordID: "r3", FullName: strPtr("Abdul Rehman")},
		{RecordID: "r4", FullName: strPtr("Abdul Rahman")},
		{RecordID: "r5", FullName: strPtr("Venkata Lakshmi")},
		{RecordID: "r6"},
	}

	result, err := r.Resolve(context.Background(), records)
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, c := range result.Clusters {
		for _, id := range c.MemberRecordIDs {
			seen[id]++
		}
	}
	assert.Len(t, seen, 6)
	for id, count := range seen {
		assert.Equal(t, 1, count, "record %s", id)
	}
}

func TestResolver_LinkedIDUnion(t *testing.T) {
	r := newTestResolver(t)

	a := fullRecord("r1")
	a.LinkedCaseIDs = []string{"case-1", "case-2"}
	a.LinkedRoleIDs = []string{"role-1"}
	b := fullRecord("r2")
	b.LinkedCaseIDs = []string{"case-2", "case-3"}
	c := fullRecord("r3")

	result, err := r.Resolve(context.Background(), []*models.PersonRecord{a, b, c})
	require.NoError(t, err)

	require.Len(t, result.Clusters, 1)
	assert.Equal(t, []string{"case-1", "case-2", "case-3"}, result.Clusters[0].AllLinkedCaseIDs)
	assert.Equal(t, []string{"role-1"}, result.Clusters[0].AllLinkedRoleIDs)
}

func TestResolver_CanonicalSelection(t *testing.T) {
	r := newTestResolver(t)

	early := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("earliest created record wins", func(t *testing.T) {
		a := fullRecord("r1")
		a.CreatedAt = &late
		b := fullRecord("r2")
		b.CreatedAt = &early
		c := fullRecord("r3")
		c.CreatedAt = nil // no timestamp sorts last

		result, err := r.Resolve(context.Background(), []*models.PersonRecord{a, b, c})
		require.NoError(t, err)
		require.Len(t, result.Clusters, 1)
		assert.Equal(t, "r2", result.Clusters[0].CanonicalRecordID)
	})

	t.Run("timestamp tie goes to the smaller record id", func(t *testing.T) {
		a := fullRecord("r9")
		a.CreatedAt = &early
		b := fullRecord("r2")
		b.CreatedAt = &early

		result, err := r.Resolve(context.Background(), []*models.PersonRecord{a, b})
		require.NoError(t, err)
		require.Len(t, result.Clusters, 1)
		assert.Equal(t, "r2", result.Clusters[0].CanonicalRecordID)
	})
}

func TestResolver_ThresholdMonotonicity(t *testing.T) {
	records := []*models.PersonRecord{
		{RecordID: "r1", FullName: strPtr("Abdul Rehman")},
		{RecordID: "r2", FullName: strPtr("Abdul Rahman")},
		{RecordID: "r3", FullName: strPtr("Venkata Lakshmi")},
	}

	loose, err := New(testLogger(), DefaultConfig())
	require.NoError(t, err)

	strictCfg := DefaultConfig()
	strictCfg.MatchThreshold = 0.95
	strict, err := New(testLogger(), strictCfg)
	require.NoError(t, err)

	looseResult, err := loose.Resolve(context.Background(), records)
	require.NoError(t, err)
	strictResult, err := strict.Resolve(context.Background(), records)
	require.NoError(t, err)

	// raising the threshold never increases the number of merges
	assert.GreaterOrEqual(t, len(strictResult.Clusters), len(looseResult.Clusters))
	assert.Len(t, looseResult.Clusters, 2)
	assert.Len(t, strictResult.Clusters, 3)
}

func TestResolver_IdempotentAcrossOrderings(t *testing.T) {
	r := newTestResolver(t)

	records := []*models.PersonRecord{
		fullRecord("r1"),
		fullRecord("r2"),
		{RecordID: "r3", FullName: strPtr("Abdul Rehman")},
		{RecordID: "r4", FullName: strPtr("Abdul Rahman")},
		{RecordID: "r5", FullName: strPtr("Venkata Lakshmi"), Age: intPtr(23)},
		{RecordID: "r6"},
	}
	reversed := make([]*models.PersonRecord, len(records))
	for i, rec := range records {
		reversed[len(records)-1-i] = rec
	}

	forward, err := r.Resolve(context.Background(), records)
	require.NoError(t, err)
	backward, err := r.Resolve(context.Background(), reversed)
	require.NoError(t, err)

	assert.Equal(t, memberships(forward), memberships(backward))
}

func TestResolver_MethodCounts(t *testing.T) {
	r := newTestResolver(t)

	result, err := r.Resolve(context.Background(), []*models.PersonRecord{
		fullRecord("r1"),
		{RecordID: "r2", FullName: strPtr("Abdul Rehman")},
		{RecordID: "r3", FullName: strPtr("Abdul Rahman")},
		{RecordID: "r4"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.MethodCounts[models.TierMethod(1)])
	assert.Equal(t, 1, result.MethodCounts[models.MatchingMethodEnsembleFuzzy])
	assert.Equal(t, 1, result.MethodCounts[models.MatchingMethodSingletonUnmatched])
}

func TestConfigError_Message(t *testing.T) {
	err := &ConfigError{Field: "match_threshold", Reason: "must be within [0, 1], got 2"}
	assert.Contains(t, err.Error(), "match_threshold")

	var target *ConfigError
	assert.True(t, errors.As(err, &target))
}
