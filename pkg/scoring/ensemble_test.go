package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/juniper/pkg/models"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestEnsemble_ScoreName(t *testing.T) {
	e := NewEnsemble(nil)

	t.Run("reordered tokens score full", func(t *testing.T) {
		assert.Equal(t, 1.0, e.ScoreName("rajesh kumar", "kumar rajesh"))
	})

	t.Run("single letter variation stays high", func(t *testing.T) {
		assert.GreaterOrEqual(t, e.ScoreName("abdul rehman", "abdul rahman"), 0.85)
	})

	t.Run("unrelated names stay low", func(t *testing.T) {
		assert.Less(t, e.ScoreName("abdul rehman", "venkat rao"), 0.65)
	})
}

func TestEnsemble_ScoreField(t *testing.T) {
	e := NewEnsemble(nil)

	t.Run("identical", func(t *testing.T) {
		assert.Equal(t, 1.0, e.ScoreField("malakpet", "malakpet"))
	})

	t.Run("blend sits between the best and worst measure", func(t *testing.T) {
		blend := e.ScoreField("rajesh", "rajesh kumar")
		best := e.ScoreName("rajesh", "rajesh kumar")
		assert.Less(t, blend, best)
		assert.Greater(t, blend, 0.0)
	})
}

func TestEnsemble_FieldPolicies(t *testing.T) {
	e := NewEnsemble(nil)

	t.Run("age bands", func(t *testing.T) {
		assert.Equal(t, 1.0, e.ageScore(intPtr(28), intPtr(28)))
		assert.Equal(t, 0.8, e.ageScore(intPtr(28), intPtr(30)))
		assert.Equal(t, 0.5, e.ageScore(intPtr(28), intPtr(33)))
		assert.Equal(t, 0.0, e.ageScore(intPtr(28), intPtr(40)))
		assert.Equal(t, ScoreMissingBoth, e.ageScore(nil, nil))
		assert.Equal(t, ScoreMissingOne, e.ageScore(intPtr(28), nil))
	})

	t.Run("phone suffix equivalence", func(t *testing.T) {
		assert.Equal(t, 1.0, e.phoneScore("919000000001", "9000000001"))
		assert.Equal(t, 1.0, e.phoneScore("9000000001", "9000000001"))
		assert.Equal(t, 0.0, e.phoneScore("9000000001", "9000000002"))
	})

	t.Run("relation equivalence", func(t *testing.T) {
		assert.Equal(t, 1.0, e.relationScore("father", "father"))
		assert.Equal(t, 0.9, e.relationScore("husband", "wife"))
		assert.Equal(t, 0.9, e.relationScore("wife", "spouse"))
		// near-identical strings naming different relations compare low
		assert.Equal(t, 0.0, e.relationScore("father", "mother"))
	})

	t.Run("relation falls back to string similarity", func(t *testing.T) {
		assert.Greater(t, e.relationScore("father", "fathr"), 0.5)
	})

	t.Run("gender codes", func(t *testing.T) {
		assert.Equal(t, 1.0, e.genderScore("m", "male"))
		assert.Equal(t, 1.0, e.genderScore("f", "female"))
		assert.Equal(t, 0.0, e.genderScore("male", "female"))
		assert.Equal(t, 0.0, e.genderScore("m", "f"))
	})
}

func TestEnsemble_ScoreRecord(t *testing.T) {
	e := NewEnsemble(nil)

	t.Run("exact duplicate scores one", func(t *testing.T) {
		a := &models.PersonRecord{
			RecordID:     "r1",
			FullName:     strPtr("Rajesh Kumar"),
			RelativeName: strPtr("Suresh"),
			RelationType: strPtr("father"),
			Gender:       strPtr("M"),
			Age:          intPtr(28),
			Locality:     strPtr("Malakpet"),
			PhoneNumber:  strPtr("9000000001"),
		}
		b := &models.PersonRecord{
			RecordID:     "r2",
			FullName:     strPtr("Rajesh Kumar"),
			RelativeName: strPtr("Suresh"),
			RelationType: strPtr("father"),
			Gender:       strPtr("M"),
			Age:          intPtr(28),
			Locality:     strPtr("Malakpet"),
			PhoneNumber:  strPtr("9000000001"),
		}

		overall, breakdown := e.ScoreRecord(a, b)
		assert.InDelta(t, 1.0, overall, 1e-9)
		for field, score := range breakdown {
			assert.Equal(t, 1.0, score, "field %s", field)
		}
	})

	t.Run("name-only variation clears the default threshold", func(t *testing.T) {
		a := &models.PersonRecord{RecordID: "r1", FullName: strPtr("Abdul Rehman")}
		b := &models.PersonRecord{RecordID: "r2", FullName: strPtr("Abdul Rahman")}

		overall, breakdown := e.ScoreRecord(a, b)
		assert.GreaterOrEqual(t, breakdown[FieldFullName], 0.85)
		// every other field is missing on both sides and scores neutral
		assert.Equal(t, ScoreMissingBoth, breakdown[FieldRelativeName])
		assert.GreaterOrEqual(t, overall, 0.65)
	})

	t.Run("gender mismatch alone does not sink strong names", func(t *testing.T) {
		a := &models.PersonRecord{
			RecordID:     "r1",
			FullName:     strPtr("Ramesh"),
			RelativeName: strPtr("Venkatesh"),
			RelationType: strPtr("father"),
			Gender:       strPtr("Male"),
			Age:          intPtr(35),
			Locality:     strPtr("Malakpet"),
			PhoneNumber:  strPtr("9000000001"),
		}
		b := &models.PersonRecord{
			RecordID:     "r2",
			FullName:     strPtr("Ramesh"),
			RelativeName: strPtr("Venkatesh"),
			RelationType: strPtr("father"),
			Gender:       strPtr("Female"),
			Age:          intPtr(35),
			Locality:     strPtr("Malakpet"),
			PhoneNumber:  strPtr("9000000001"),
		}

		overall, breakdown := e.ScoreRecord(a, b)
		assert.Equal(t, 0.0, breakdown[FieldGender])
		assert.GreaterOrEqual(t, overall, 0.65)
	})

	t.Run("unrelated records stay below threshold", func(t *testing.T) {
		a := &models.PersonRecord{
			RecordID:     "r1",
			FullName:     strPtr("Abdul Rehman"),
			RelativeName: strPtr("Karim"),
			Gender:       strPtr("M"),
			Age:          intPtr(40),
		}
		b := &models.PersonRecord{
			RecordID:     "r2",
			FullName:     strPtr("Venkata Lakshmi"),
			RelativeName: strPtr("Srinivas Rao"),
			Gender:       strPtr("F"),
			Age:          intPtr(23),
		}

		overall, _ := e.ScoreRecord(a, b)
		assert.Less(t, overall, 0.65)
	})

	t.Run("one-sided fields score low not neutral", func(t *testing.T) {
		a := &models.PersonRecord{RecordID: "r1", FullName: strPtr("Ramesh"), PhoneNumber: strPtr("9000000001")}
		b := &models.PersonRecord{RecordID: "r2", FullName: strPtr("Ramesh")}

		_, breakdown := e.ScoreRecord(a, b)
		assert.Equal(t, ScoreMissingOne, breakdown[FieldPhone])
	})

	t.Run("locality against district takes the better side", func(t *testing.T) {
		a := &models.PersonRecord{RecordID: "r1", FullName: strPtr("Ramesh"), Locality: strPtr("Malakpet"), District: strPtr("Hyderabad")}
		b := &models.PersonRecord{RecordID: "r2", FullName: strPtr("Ramesh"), District: strPtr("Hyderabad")}

		_, breakdown := e.ScoreRecord(a, b)
		assert.Equal(t, 1.0, breakdown[FieldLocation])
	})
}
