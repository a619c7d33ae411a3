package integration

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/juniper/pkg/lookup"
	"github.com/Ramsey-B/juniper/pkg/models"
	"github.com/Ramsey-B/juniper/pkg/resolver"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newResolver(t *testing.T) *resolver.Resolver {
	t.Helper()
	r, err := resolver.New(testLogger(), resolver.DefaultConfig())
	require.NoError(t, err)
	return r
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func timePtr(t time.Time) *time.Time {
	return &t
}

// multiSourceDataset covers three identities as they arrive from three
// capture systems: one person fully fingerprintable across all sources, one
// known only by a name spelled two ways, and one with nothing to match on.
func multiSourceDataset() []*models.PersonRecord {
	return []*models.PersonRecord{
		// Ramesh Kumar, captured three times with formatting differences that
		// normalization must erase.
		{
			RecordID:      "court-1001",
			FullName:      strPtr("Ramesh Kumar"),
			RelativeName:  strPtr("Suresh Kumar"),
			RelationType:  strPtr("S/O"),
			Gender:        strPtr("M"),
			Age:           intPtr(34),
			PhoneNumber:   strPtr("98765 43210"),
			District:      strPtr("Hyderabad"),
			Locality:      strPtr("Malakpet"),
			CreatedAt:     timePtr(time.Date(2023, 1, 10, 9, 0, 0, 0, time.UTC)),
			LinkedCaseIDs: []string{"c-101"},
			LinkedRoleIDs: []string{"r-201"},
		},
		{
			RecordID:      "cctns-2001",
			FullName:      strPtr("RAMESH KUMAR"),
			RelativeName:  strPtr("SURESH KUMAR"),
			Age:           intPtr(34),
			PhoneNumber:   strPtr("9876543210"),
			Locality:      strPtr("MALAKPET"),
			CreatedAt:     timePtr(time.Date(2023, 6, 2, 14, 30, 0, 0, time.UTC)),
			LinkedCaseIDs: []string{"c-102"},
		},
		{
			RecordID:      "prison-3001",
			FullName:      strPtr("Mr. Ramesh Kumar"),
			RelativeName:  strPtr("Suresh Kumar"),
			Age:           intPtr(34),
			PhoneNumber:   strPtr("9876-543-210"),
			Locality:      strPtr("Malakpet"),
			LinkedCaseIDs: []string{"c-103"},
			LinkedRoleIDs: []string{"r-202"},
		},

		// Abdul Rahman/Rehman, too sparse for any fingerprint tier; only the
		// ensemble can connect the spellings.
		{
			RecordID:      "court-1002",
			FullName:      strPtr("Abdul Rahman"),
			District:      strPtr("Hyderabad"),
			LinkedCaseIDs: []string{"c-104"},
		},
		{
			RecordID:      "cctns-2002",
			FullName:      strPtr("Abdul Rehman"),
			LinkedCaseIDs: []string{"c-105"},
		},

		// Victoria Fernandes shares no name material with anyone else.
		{
			RecordID:      "prison-3002",
			FullName:      strPtr("Victoria Fernandes"),
			Gender:        strPtr("F"),
			LinkedCaseIDs: []string{"c-106"},
		},
	}
}

func clusterByMember(t *testing.T, result *resolver.Result, recordID string) *models.PersonCluster {
	t.Helper()
	for _, c := range result.Clusters {
		for _, id := range c.MemberRecordIDs {
			if id == recordID {
				return c
			}
		}
	}
	t.Fatalf("no cluster contains record %s", recordID)
	return nil
}

func TestMultiSourceResolution(t *testing.T) {
	r := newResolver(t)

	result, err := r.Resolve(context.Background(), multiSourceDataset())
	require.NoError(t, err)

	assert.Equal(t, 6, result.TotalRecords)
	assert.Equal(t, 0, result.InvalidRecords)
	require.Len(t, result.Clusters, 3)

	assert.Equal(t, map[string]int{
		"tier-1":              1,
		"ensemble-fuzzy":      1,
		"singleton-unmatched": 1,
	}, result.MethodCounts)
	assert.Greater(t, result.FuzzyComparisons, 0)

	t.Run("FingerprintClusterAcrossSources", func(t *testing.T) {
		c := clusterByMember(t, result, "court-1001")
		assert.Equal(t, "tier-1", c.MatchingMethod)
		assert.Equal(t, 1, c.Tier)
		assert.Equal(t, []string{"cctns-2001", "court-1001", "prison-3001"}, c.MemberRecordIDs)

		// The earliest captured record is canonical and carries every tracked
		// field, so confidence is the undiluted tier-1 base.
		assert.Equal(t, "court-1001", c.CanonicalRecordID)
		assert.Equal(t, 0.95, c.ConfidenceScore)
		assert.Equal(t, 100.0, c.QualityFlags.CompletenessPercent)
		assert.True(t, c.QualityFlags.HasPhone)
		assert.True(t, c.QualityFlags.HasRelativeName)

		assert.Equal(t, []string{"c-101", "c-102", "c-103"}, c.AllLinkedCaseIDs)
		assert.Equal(t, []string{"r-201", "r-202"}, c.AllLinkedRoleIDs)

		// Raw spellings are preserved as variations even though they merged.
		assert.Contains(t, c.NameVariations, "Ramesh Kumar")
		assert.Contains(t, c.NameVariations, "RAMESH KUMAR")
		assert.Contains(t, c.NameVariations, "Mr. Ramesh Kumar")

		// Pure fingerprint cluster: nothing joined through scoring.
		assert.Empty(t, c.MatchScores)
	})

	t.Run("FuzzyClusterConnectsSpellings", func(t *testing.T) {
		c := clusterByMember(t, result, "court-1002")
		assert.Equal(t, "ensemble-fuzzy", c.MatchingMethod)
		assert.Equal(t, 0, c.Tier)
		assert.Equal(t, []string{"cctns-2002", "court-1002"}, c.MemberRecordIDs)
		assert.Equal(t, []string{"c-104", "c-105"}, c.AllLinkedCaseIDs)

		require.Contains(t, c.MatchScores, "cctns-2002")
		assert.GreaterOrEqual(t, c.MatchScores["cctns-2002"], 0.65)

		// Sparse canonical keeps the confidence low despite the strong name
		// score.
		assert.Less(t, c.ConfidenceScore, 0.5)
	})

	t.Run("UnmatchableBecomesSingleton", func(t *testing.T) {
		c := clusterByMember(t, result, "prison-3002")
		assert.Equal(t, "singleton-unmatched", c.MatchingMethod)
		assert.Equal(t, []string{"prison-3002"}, c.MemberRecordIDs)
		assert.Equal(t, "prison-3002", c.CanonicalRecordID)
		assert.True(t, c.QualityFlags.HasGender)
		assert.False(t, c.QualityFlags.HasPhone)
		assert.Less(t, c.ConfidenceScore, 0.3)
	})
}

func TestSparseRecordJoinsFingerprintCluster(t *testing.T) {
	r := newResolver(t)

	records := []*models.PersonRecord{
		{
			RecordID:      "icjs-9001",
			FullName:      strPtr("Mohammad Ali Khan"),
			District:      strPtr("Cuttack"),
			Age:           intPtr(41),
			LinkedCaseIDs: []string{"c-301"},
		},
		{
			RecordID:      "court-9002",
			FullName:      strPtr("Mohammed Ali Khan"),
			LinkedCaseIDs: []string{"c-302"},
		},
	}

	result, err := r.Resolve(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, result.Clusters, 1)

	c := result.Clusters[0]
	// The joiner does not change how the cluster was formed.
	assert.Equal(t, "tier-5", c.MatchingMethod)
	assert.Equal(t, 5, c.Tier)
	assert.Equal(t, []string{"court-9002", "icjs-9001"}, c.MemberRecordIDs)
	assert.Equal(t, []string{"c-301", "c-302"}, c.AllLinkedCaseIDs)

	require.Contains(t, c.MatchScores, "court-9002")
	assert.GreaterOrEqual(t, c.MatchScores["court-9002"], 0.65)
	assert.NotContains(t, c.MatchScores, "icjs-9001")
}

func TestExactTiersRequireExactAgreement(t *testing.T) {
	r := newResolver(t)

	base := func(id string, age int) *models.PersonRecord {
		return &models.PersonRecord{
			RecordID: id,
			FullName: strPtr("Sunil Pradhan"),
			District: strPtr("Puri"),
			Age:      intPtr(age),
		}
	}

	t.Run("NearMissAgeStaysSeparate", func(t *testing.T) {
		result, err := r.Resolve(context.Background(), []*models.PersonRecord{
			base("a-1", 52),
			base("a-2", 53),
		})
		require.NoError(t, err)

		// Both fingerprint on tier 5 with different keys; fingerprinted
		// records never enter the fuzzy phase, so a one-year discrepancy
		// keeps them apart.
		require.Len(t, result.Clusters, 2)
		for _, c := range result.Clusters {
			assert.Equal(t, "tier-5", c.MatchingMethod)
			assert.Len(t, c.MemberRecordIDs, 1)
		}
	})

	t.Run("ExactAgreementMerges", func(t *testing.T) {
		result, err := r.Resolve(context.Background(), []*models.PersonRecord{
			base("b-1", 52),
			base("b-2", 52),
		})
		require.NoError(t, err)

		require.Len(t, result.Clusters, 1)
		assert.Equal(t, []string{"b-1", "b-2"}, result.Clusters[0].MemberRecordIDs)
	})
}

func TestResolutionDeterminism(t *testing.T) {
	records := multiSourceDataset()

	reversed := make([]*models.PersonRecord, len(records))
	for i, rec := range records {
		reversed[len(records)-1-i] = rec
	}

	r := newResolver(t)
	first, err := r.Resolve(context.Background(), records)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), reversed)
	require.NoError(t, err)

	assert.Equal(t, partition(first), partition(second))
	assert.Equal(t, first.MethodCounts, second.MethodCounts)

	// Fingerprint cluster ids derive from the tier key, so they survive
	// reordering and reruns byte for byte.
	assert.Equal(t, fingerprintClusterIDs(first), fingerprintClusterIDs(second))

	// Confidence is a function of the cluster, not the input order.
	for _, fc := range first.Clusters {
		for _, sc := range second.Clusters {
			if equalMembers(fc.MemberRecordIDs, sc.MemberRecordIDs) {
				assert.Equal(t, fc.ConfidenceScore, sc.ConfidenceScore)
				assert.Equal(t, fc.CanonicalRecordID, sc.CanonicalRecordID)
			}
		}
	}
}

func TestLookupServesResolvedClusters(t *testing.T) {
	r := newResolver(t)

	result, err := r.Resolve(context.Background(), multiSourceDataset())
	require.NoError(t, err)

	svc := lookup.NewService()
	svc.Load(result.Clusters)
	assert.Equal(t, len(result.Clusters), svc.Size())

	t.Run("EveryLinkedIDResolves", func(t *testing.T) {
		for _, c := range result.Clusters {
			for _, id := range c.AllLinkedCaseIDs {
				got, ok := svc.ByLinkedID(id)
				require.True(t, ok, "case %s should resolve", id)
				assert.Equal(t, c.ClusterID, got.ClusterID)
			}
			for _, id := range c.AllLinkedRoleIDs {
				got, ok := svc.ByLinkedID(id)
				require.True(t, ok, "role %s should resolve", id)
				assert.Equal(t, c.ClusterID, got.ClusterID)
			}
		}
	})

	t.Run("UnknownIDMisses", func(t *testing.T) {
		_, ok := svc.ByLinkedID("c-999")
		assert.False(t, ok)
	})

	t.Run("NameSearchFindsMergedIdentity", func(t *testing.T) {
		matches := svc.SearchByName("ramesh")
		require.Len(t, matches, 1)
		assert.Equal(t, []string{"c-101", "c-102", "c-103"}, matches[0].AllLinkedCaseIDs)
	})
}

// partition reduces a result to its sorted membership sets.
func partition(result *resolver.Result) [][]string {
	out := make([][]string, 0, len(result.Clusters))
	for _, c := range result.Clusters {
		members := append([]string(nil), c.MemberRecordIDs...)
		sort.Strings(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func fingerprintClusterIDs(result *resolver.Result) []string {
	ids := make([]string, 0)
	for _, c := range result.Clusters {
		if c.Tier > 0 {
			ids = append(ids, c.ClusterID)
		}
	}
	sort.Strings(ids)
	return ids
}

func equalMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
