// Package quality assigns confidence scores and completeness flags to
// finished clusters.
package quality

import (
	"math"
	"strings"

	"github.com/Ramsey-B/juniper/pkg/models"
)

// trackedFields is the number of canonical-record fields counted toward
// completeness: full name, relative name, relation type, gender, age, phone,
// and locality-or-district
const trackedFields = 7

// DefaultSingletonConfidence is the base weight for clusters that matched
// nothing at all
const DefaultSingletonConfidence = 0.30

// DefaultTierBaseWeights returns the base confidence per fingerprint tier.
// Tier 1 requires the most corroborating fields to fire, so clusters formed
// from it are trusted the most
func DefaultTierBaseWeights() [5]float64 {
	return [5]float64{0.95, 0.90, 0.85, 0.75, 0.65}
}

// Assessor computes the final confidence score and quality flags for a
// cluster. Confidence is the product of how the cluster was formed (exact
// fingerprint tiers are trusted more than fuzzy merges) and how complete its
// canonical record is
type Assessor struct {
	tierBaseWeights [5]float64
	singletonFloor  float64
}

// NewAssessor creates an Assessor with the given tier base weights and
// singleton confidence floor
func NewAssessor(tierBaseWeights [5]float64, singletonFloor float64) *Assessor {
	return &Assessor{
		tierBaseWeights: tierBaseWeights,
		singletonFloor:  singletonFloor,
	}
}

// Finalize computes the confidence score and quality flags for a cluster from
// its canonical record
func (a *Assessor) Finalize(c *models.PersonCluster, canonical *models.PersonRecord) (float64, models.QualityFlags) {
	completeness := Completeness(canonical)
	confidence := round2(a.baseWeight(c) * completeness)
	return confidence, Flags(canonical, completeness)
}

// baseWeight returns the formation-method component of confidence
func (a *Assessor) baseWeight(c *models.PersonCluster) float64 {
	switch c.MatchingMethod {
	case models.MatchingMethodSingletonUnmatched:
		return a.singletonFloor
	case models.MatchingMethodEnsembleFuzzy:
		// A fuzzy cluster is only as trustworthy as the scores that built it
		if len(c.MatchScores) == 0 {
			return a.singletonFloor
		}
		var sum float64
		for _, score := range c.MatchScores {
			sum += score
		}
		return sum / float64(len(c.MatchScores))
	default:
		if c.Tier >= 1 && c.Tier <= len(a.tierBaseWeights) {
			return a.tierBaseWeights[c.Tier-1]
		}
		return a.singletonFloor
	}
}

// Completeness returns the fraction of the seven tracked fields present on a
// record. Locality and district count as a single location field
func Completeness(rec *models.PersonRecord) float64 {
	if rec == nil {
		return 0.0
	}

	present := 0
	if hasValue(rec.FullName) {
		present++
	}
	if hasValue(rec.RelativeName) {
		present++
	}
	if hasValue(rec.RelationType) {
		present++
	}
	if hasValue(rec.Gender) {
		present++
	}
	if rec.Age != nil {
		present++
	}
	if hasValue(rec.PhoneNumber) {
		present++
	}
	if hasValue(rec.Locality) || hasValue(rec.District) {
		present++
	}

	return float64(present) / float64(trackedFields)
}

// Flags builds the per-field presence flags for a canonical record
func Flags(rec *models.PersonRecord, completeness float64) models.QualityFlags {
	flags := models.QualityFlags{
		CompletenessPercent: round1(completeness * 100),
	}
	if rec == nil {
		return flags
	}

	flags.HasPhone = hasValue(rec.PhoneNumber)
	flags.HasRelativeName = hasValue(rec.RelativeName)
	flags.HasLocality = hasValue(rec.Locality)
	flags.HasAge = rec.Age != nil
	flags.HasGender = hasValue(rec.Gender)
	return flags
}

func hasValue(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
