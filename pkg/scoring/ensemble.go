package scoring

import (
	"github.com/Ramsey-B/juniper/pkg/models"
	"github.com/Ramsey-B/juniper/pkg/normalizers"
)

// Scores for fields absent on one or both records. Two records both missing a
// field say nothing either way; a field present on only one side is weak
// evidence against a match.
const (
	ScoreMissingBoth = 0.5
	ScoreMissingOne  = 0.3
)

// Field names used in score breakdowns and weight maps
const (
	FieldFullName     = "full_name"
	FieldRelativeName = "relative_name"
	FieldRelationType = "relation_type"
	FieldGender       = "gender"
	FieldAge          = "age"
	FieldLocation     = "location"
	FieldPhone        = "phone"
)

// SimilarityAlgorithm scores the similarity of two strings in [0, 1]
type SimilarityAlgorithm interface {
	Name() string
	Score(a, b string) float64
}

type algorithm struct {
	name string
	fn   func(a, b string) float64
}

func (a algorithm) Name() string              { return a.name }
func (a algorithm) Score(x, y string) float64 { return a.fn(x, y) }

// BuiltinAlgorithms returns the fixed set of similarity measures the ensemble
// combines
func BuiltinAlgorithms() []SimilarityAlgorithm {
	s := NewScorer()
	return []SimilarityAlgorithm{
		algorithm{name: "levenshtein", fn: s.Levenshtein},
		algorithm{name: "jaro_winkler", fn: s.JaroWinkler},
		algorithm{name: "token_overlap", fn: s.TokenOverlap},
		algorithm{name: "jaccard", fn: s.Jaccard},
		algorithm{name: "dice", fn: s.Dice},
	}
}

// DefaultWeights returns the default per-field record weights. The heavy skew
// toward names is deliberate: full_name and relative_name are the fields most
// likely to distinguish two people, and also the ones most prone to
// transcription noise, so they carry the score while age, location and phone
// only corroborate
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		FieldFullName:     0.40,
		FieldRelativeName: 0.30,
		FieldRelationType: 0.15,
		FieldGender:       0.10,
		FieldAge:          0.03,
		FieldLocation:     0.015,
		FieldPhone:        0.005,
	}
}

// Ensemble combines the builtin similarity measures into per-field and
// whole-record scores
type Ensemble struct {
	scorer     *Scorer
	algorithms []SimilarityAlgorithm
	weights    map[string]float64
}

// NewEnsemble creates an Ensemble using the given field weights. A nil map
// uses DefaultWeights
func NewEnsemble(weights map[string]float64) *Ensemble {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &Ensemble{
		scorer:     NewScorer(),
		algorithms: BuiltinAlgorithms(),
		weights:    weights,
	}
}

// ScoreField returns the blended similarity of two field values: the average
// of every builtin measure
func (e *Ensemble) ScoreField(a, b string) float64 {
	if len(e.algorithms) == 0 {
		return 0.0
	}
	var sum float64
	for _, alg := range e.algorithms {
		sum += alg.Score(a, b)
	}
	return sum / float64(len(e.algorithms))
}

// ScoreName returns the single strongest measure for a pair of person names.
// Name variations tend to defeat most measures while leaving one intact
// (reordered tokens keep set overlap at 1.0, a one-letter spelling change
// keeps edit similarity high), so the best signal is taken as the score
func (e *Ensemble) ScoreName(a, b string) float64 {
	return e.bestOf(a, b)
}

func (e *Ensemble) bestOf(a, b string) float64 {
	var best float64
	for _, alg := range e.algorithms {
		if score := alg.Score(a, b); score > best {
			best = score
		}
	}
	return best
}

// ScoreRecord scores two person records field by field and combines the
// breakdown into a single weighted score
func (e *Ensemble) ScoreRecord(a, b *models.PersonRecord) (float64, map[string]float64) {
	breakdown := map[string]float64{
		FieldFullName:     e.scorePair(normalizers.NormalizeName(deref(a.FullName)), normalizers.NormalizeName(deref(b.FullName)), e.ScoreName),
		FieldRelativeName: e.scorePair(normalizers.NormalizeName(deref(a.RelativeName)), normalizers.NormalizeName(deref(b.RelativeName)), e.ScoreName),
		FieldRelationType: e.scorePair(normalizers.NormalizeToken(deref(a.RelationType)), normalizers.NormalizeToken(deref(b.RelationType)), e.relationScore),
		FieldGender:       e.scorePair(normalizers.NormalizeToken(deref(a.Gender)), normalizers.NormalizeToken(deref(b.Gender)), e.genderScore),
		FieldAge:          e.ageScore(a.Age, b.Age),
		FieldLocation:     e.locationScore(a, b),
		FieldPhone:        e.scorePair(normalizers.NormalizePhone(deref(a.PhoneNumber)), normalizers.NormalizePhone(deref(b.PhoneNumber)), e.phoneScore),
	}

	return e.scorer.WeightedScore(breakdown, e.weights), breakdown
}

// scorePair applies the missing-field policy before delegating to the field's
// comparison function. Inputs arrive already normalized
func (e *Ensemble) scorePair(a, b string, compare func(a, b string) float64) float64 {
	if a == "" && b == "" {
		return ScoreMissingBoth
	}
	if a == "" || b == "" {
		return ScoreMissingOne
	}
	return compare(a, b)
}

// relationScore consults the relation equivalence table before falling back
// to string similarity. The fallback is best-of: single-token descriptors
// zero out the token measures, which would drag a blended score down on any
// spelling slip
func (e *Ensemble) relationScore(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if groupA, ok := relationGroup(a); ok {
		if groupB, ok := relationGroup(b); ok {
			if groupA == groupB {
				return relationGroupScore
			}
			return 0.0
		}
	}
	return e.bestOf(a, b)
}

// genderScore maps single-letter gender codes onto their full form before
// comparing
func (e *Ensemble) genderScore(a, b string) float64 {
	canonA, okA := genderCanonical(a)
	canonB, okB := genderCanonical(b)
	if okA && okB {
		if canonA == canonB {
			return 1.0
		}
		return 0.0
	}
	return e.bestOf(a, b)
}

// ageScore compares ages in bands rather than linearly; collected ages are
// frequently estimated or a year or two stale
func (e *Ensemble) ageScore(a, b *int) float64 {
	if a == nil && b == nil {
		return ScoreMissingBoth
	}
	if a == nil || b == nil {
		return ScoreMissingOne
	}

	diff := *a - *b
	if diff < 0 {
		diff = -diff
	}

	switch {
	case diff == 0:
		return 1.0
	case diff <= 2:
		return 0.8
	case diff <= 5:
		return 0.5
	default:
		return 0.0
	}
}

// locationScore takes the better of the locality and district comparisons so
// records carrying only one granularity still get location credit
func (e *Ensemble) locationScore(a, b *models.PersonRecord) float64 {
	locality := e.scorePair(normalizers.NormalizePlace(deref(a.Locality)), normalizers.NormalizePlace(deref(b.Locality)), e.ScoreField)
	district := e.scorePair(normalizers.NormalizePlace(deref(a.District)), normalizers.NormalizePlace(deref(b.District)), e.ScoreField)
	return max(locality, district)
}

// phoneScore treats two numbers as the same when their digits match exactly
// or share the same 10-digit subscriber suffix (country codes and leading
// zeros vary between captures of the same number)
func (e *Ensemble) phoneScore(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if sa, sb := normalizers.PhoneSuffix(a), normalizers.PhoneSuffix(b); sa != "" && sa == sb {
		return 1.0
	}
	return 0.0
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
