package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/juniper/pkg/models"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func tier1Record() *models.PersonRecord {
	return &models.PersonRecord{
		RecordID:     "r1",
		FullName:     strPtr("Rajesh Kumar"),
		RelativeName: strPtr("Suresh"),
		Locality:     strPtr("Malakpet"),
		Age:          intPtr(28),
		PhoneNumber:  strPtr("9000000001"),
	}
}

func TestGenerate_TierSelection(t *testing.T) {
	t.Run("all tier one fields present", func(t *testing.T) {
		fp, ok := Generate(tier1Record())
		require.True(t, ok)
		assert.Equal(t, 1, fp.Tier)
		assert.Equal(t, "rajesh kumar|suresh|malakpet|28|9000000001", fp.Key)
		assert.Equal(t, "tier-1", fp.Method())
	})

	t.Run("missing age falls to tier two", func(t *testing.T) {
		rec := tier1Record()
		rec.Age = nil
		fp, ok := Generate(rec)
		require.True(t, ok)
		assert.Equal(t, 2, fp.Tier)
		assert.Equal(t, "rajesh kumar|suresh|malakpet|9000000001", fp.Key)
	})

	t.Run("district replaces locality at tier three", func(t *testing.T) {
		rec := &models.PersonRecord{
			RecordID:     "r1",
			FullName:     strPtr("Rajesh Kumar"),
			RelativeName: strPtr("Suresh"),
			District:     strPtr("Hyderabad"),
			Age:          intPtr(28),
		}
		fp, ok := Generate(rec)
		require.True(t, ok)
		assert.Equal(t, 3, fp.Tier)
	})

	t.Run("name phone age is tier four", func(t *testing.T) {
		rec := &models.PersonRecord{
			RecordID:    "r1",
			FullName:    strPtr("Rajesh Kumar"),
			PhoneNumber: strPtr("9000000001"),
			Age:         intPtr(28),
		}
		fp, ok := Generate(rec)
		require.True(t, ok)
		assert.Equal(t, 4, fp.Tier)
	})

	t.Run("name district age is tier five", func(t *testing.T) {
		rec := &models.PersonRecord{
			RecordID: "r1",
			FullName: strPtr("Rajesh Kumar"),
			District: strPtr("Hyderabad"),
			Age:      intPtr(28),
		}
		fp, ok := Generate(rec)
		require.True(t, ok)
		assert.Equal(t, 5, fp.Tier)
	})

	t.Run("record satisfying several tiers takes the lowest number", func(t *testing.T) {
		rec := tier1Record()
		rec.District = strPtr("Hyderabad") // tiers 3 and 5 would also qualify
		fp, ok := Generate(rec)
		require.True(t, ok)
		assert.Equal(t, 1, fp.Tier)
	})

	t.Run("too sparse for any tier", func(t *testing.T) {
		_, ok := Generate(&models.PersonRecord{RecordID: "r1", FullName: strPtr("Rajesh Kumar")})
		assert.False(t, ok)

		_, ok = Generate(&models.PersonRecord{RecordID: "r1"})
		assert.False(t, ok)
	})

	t.Run("a field normalizing to empty disqualifies the tier", func(t *testing.T) {
		rec := tier1Record()
		rec.PhoneNumber = strPtr("n/a") // no digits survive normalization
		fp, ok := Generate(rec)
		require.True(t, ok)
		assert.Equal(t, 3, fp.Tier) // tiers 1 and 2 need the phone
	})
}

func TestGenerate_Determinism(t *testing.T) {
	t.Run("raw formatting differences collapse to one key", func(t *testing.T) {
		a, ok := Generate(tier1Record())
		require.True(t, ok)

		rec := &models.PersonRecord{
			RecordID:     "r2",
			FullName:     strPtr("  Mr. RAJESH kumar "),
			RelativeName: strPtr("S/o Suresh"),
			Locality:     strPtr("MALAKPET"),
			Age:          intPtr(28),
			PhoneNumber:  strPtr("+91 90000-00001"),
		}
		b, ok := Generate(rec)
		require.True(t, ok)

		assert.NotEqual(t, a.Key, b.Key) // country code keeps full digits
		assert.Equal(t, a.Tier, b.Tier)
	})

	t.Run("identical fields always give identical keys and cluster ids", func(t *testing.T) {
		a, _ := Generate(tier1Record())
		b, _ := Generate(tier1Record())
		assert.Equal(t, a, b)
		assert.Equal(t, a.ClusterID(), b.ClusterID())
		assert.Len(t, a.ClusterID(), 64)
	})

	t.Run("different tiers never share a cluster id", func(t *testing.T) {
		a := Fingerprint{Tier: 1, Key: "k"}
		b := Fingerprint{Tier: 2, Key: "k"}
		assert.NotEqual(t, a.ClusterID(), b.ClusterID())
	})
}
