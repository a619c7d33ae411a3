package resolver

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/juniper/pkg/fingerprint"
	"github.com/Ramsey-B/juniper/pkg/models"
)

// cluster is the resolver's working representation of one identity, mutated
// freely during a run and converted to a models.PersonCluster at the end
type cluster struct {
	id          string
	tier        int    // 1-5 for fingerprint clusters, 0 otherwise
	key         string // raw fingerprint tier key, empty for fuzzy clusters
	method      string
	members     []*models.PersonRecord
	canonical   *models.PersonRecord
	matchScores map[string]float64
}

func newFingerprintCluster(fp fingerprint.Fingerprint, rec *models.PersonRecord) *cluster {
	c := &cluster{
		id:     fp.ClusterID(),
		tier:   fp.Tier,
		key:    fp.Key,
		method: fp.Method(),
	}
	c.add(rec)
	return c
}

func newSingletonCluster(rec *models.PersonRecord) *cluster {
	c := &cluster{
		id:     uuid.NewString(),
		method: models.MatchingMethodSingletonUnmatched,
	}
	c.add(rec)
	return c
}

// add appends a member and re-evaluates the canonical record
func (c *cluster) add(rec *models.PersonRecord) {
	c.members = append(c.members, rec)
	if precedes(rec, c.canonical) {
		c.canonical = rec
	}
}

// addFuzzy appends a member that joined through the ensemble scorer. The
// first fuzzy join upgrades a singleton into an ensemble-fuzzy cluster
func (c *cluster) addFuzzy(rec *models.PersonRecord, score float64) {
	c.add(rec)
	if c.matchScores == nil {
		c.matchScores = make(map[string]float64)
	}
	c.matchScores[rec.RecordID] = score
	if c.method == models.MatchingMethodSingletonUnmatched {
		c.method = models.MatchingMethodEnsembleFuzzy
	}
}

// precedes reports whether a should be canonical over b: earliest created_at
// wins, a missing timestamp sorts last, ties go to the smaller record id.
// The rule depends only on the records themselves, never on insertion order,
// which keeps canonical selection deterministic across input orderings
func precedes(a, b *models.PersonRecord) bool {
	if b == nil {
		return true
	}
	if a == nil {
		return false
	}

	switch {
	case a.CreatedAt != nil && b.CreatedAt == nil:
		return true
	case a.CreatedAt == nil && b.CreatedAt != nil:
		return false
	case a.CreatedAt != nil && b.CreatedAt != nil && !a.CreatedAt.Equal(*b.CreatedAt):
		return a.CreatedAt.Before(*b.CreatedAt)
	default:
		return a.RecordID < b.RecordID
	}
}

// finalize converts the working cluster into its output form. Confidence and
// quality flags are filled in by the assessor afterwards
func (c *cluster) finalize(now time.Time) *models.PersonCluster {
	out := &models.PersonCluster{
		ClusterID:         c.id,
		Tier:              c.tier,
		MatchingMethod:    c.method,
		CanonicalRecordID: c.canonical.RecordID,
		CanonicalName:     c.canonical.FullName,
		CreatedAt:         now,
	}
	if c.key != "" {
		key := c.key
		out.FingerprintKey = &key
	}

	memberIDs := make([]string, 0, len(c.members))
	caseIDs := make(stringSet)
	roleIDs := make(stringSet)
	variations := make(stringSet)
	for _, rec := range c.members {
		memberIDs = append(memberIDs, rec.RecordID)
		caseIDs.addAll(rec.LinkedCaseIDs)
		roleIDs.addAll(rec.LinkedRoleIDs)
		if rec.FullName != nil {
			if name := strings.TrimSpace(*rec.FullName); name != "" {
				variations.add(name)
			}
		}
	}
	sort.Strings(memberIDs)

	out.MemberRecordIDs = memberIDs
	out.AllLinkedCaseIDs = caseIDs.sorted()
	out.AllLinkedRoleIDs = roleIDs.sorted()
	out.NameVariations = variations.sorted()
	if len(c.matchScores) > 0 {
		out.MatchScores = c.matchScores
	}
	return out
}

type stringSet map[string]struct{}

func (s stringSet) add(v string) {
	s[v] = struct{}{}
}

func (s stringSet) addAll(vs []string) {
	for _, v := range vs {
		s[v] = struct{}{}
	}
}

func (s stringSet) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
