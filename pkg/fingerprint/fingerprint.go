// Package fingerprint builds tiered deterministic identity keys for person records.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Ramsey-B/juniper/pkg/models"
	"github.com/Ramsey-B/juniper/pkg/normalizers"
)

// Field names a record field together with the registered normalizer applied
// to it before the field joins a key.
type Field struct {
	Name       string
	Normalizer string
}

// Tier is one ordered fingerprint strategy. A tier only produces a key when
// every one of its fields is non-empty after normalization.
type Tier struct {
	Number int
	Fields []Field
}

// Tiers are evaluated most-specific first; richer combinations carry near-zero
// false-merge risk, later tiers trade precision for coverage on sparse data.
var Tiers = []Tier{
	{Number: 1, Fields: []Field{
		{Name: "full_name", Normalizer: "nname"},
		{Name: "relative_name", Normalizer: "nname"},
		{Name: "locality", Normalizer: "nplace"},
		{Name: "age", Normalizer: ""},
		{Name: "phone_number", Normalizer: "nphone"},
	}},
	{Number: 2, Fields: []Field{
		{Name: "full_name", Normalizer: "nname"},
		{Name: "relative_name", Normalizer: "nname"},
		{Name: "locality", Normalizer: "nplace"},
		{Name: "phone_number", Normalizer: "nphone"},
	}},
	{Number: 3, Fields: []Field{
		{Name: "full_name", Normalizer: "nname"},
		{Name: "relative_name", Normalizer: "nname"},
		{Name: "district", Normalizer: "nplace"},
		{Name: "age", Normalizer: ""},
	}},
	{Number: 4, Fields: []Field{
		{Name: "full_name", Normalizer: "nname"},
		{Name: "phone_number", Normalizer: "nphone"},
		{Name: "age", Normalizer: ""},
	}},
	{Number: 5, Fields: []Field{
		{Name: "full_name", Normalizer: "nname"},
		{Name: "district", Normalizer: "nplace"},
		{Name: "age", Normalizer: ""},
	}},
}

// Fingerprint is a deterministic identity key. Two records with the same
// fingerprint from the same tier are the same person; no scoring is applied.
type Fingerprint struct {
	Tier int
	Key  string
}

// Method returns the matching method string recorded on clusters formed from
// this fingerprint.
func (f Fingerprint) Method() string {
	return models.TierMethod(f.Tier)
}

// ClusterID returns the stable cluster id derived from the fingerprint, so
// re-running resolution over the same input yields the same exact-cluster ids.
func (f Fingerprint) ClusterID() string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("tier-%d|%s", f.Tier, f.Key)))
	return hex.EncodeToString(hash[:])
}

// Generate evaluates the tiers in order and returns the first fingerprint
// whose field set is fully present, or false when the record is too sparse
// for any tier and must go through the fuzzy path.
func Generate(rec *models.PersonRecord) (Fingerprint, bool) {
	for _, tier := range Tiers {
		key, ok := tierKey(rec, tier)
		if !ok {
			continue
		}
		return Fingerprint{Tier: tier.Number, Key: key}, true
	}
	return Fingerprint{}, false
}

// tierKey joins the tier's normalized field values with pipes. Any empty
// normalized value disqualifies the tier.
func tierKey(rec *models.PersonRecord, tier Tier) (string, bool) {
	parts := make([]string, 0, len(tier.Fields))
	for _, field := range tier.Fields {
		value := normalizedValue(rec, field)
		if value == "" {
			return "", false
		}
		parts = append(parts, value)
	}
	return strings.Join(parts, "|"), true
}

func normalizedValue(rec *models.PersonRecord, field Field) string {
	if field.Name == "age" {
		return normalizers.NormalizeAge(rec.Age)
	}

	var raw *string
	switch field.Name {
	case "full_name":
		raw = rec.FullName
	case "relative_name":
		raw = rec.RelativeName
	case "relation_type":
		raw = rec.RelationType
	case "gender":
		raw = rec.Gender
	case "phone_number":
		raw = rec.PhoneNumber
	case "district":
		raw = rec.District
	case "locality":
		raw = rec.Locality
	}
	if raw == nil {
		return ""
	}
	return normalizers.Apply(*raw, field.Normalizer)
}
