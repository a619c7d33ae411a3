// Package normalizers provides field normalization functions for identity matching
package normalizers

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	// Register built-in normalizers
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("nname", NormalizeName)
	Register("nphone", NormalizePhone)
	Register("nplace", NormalizePlace)
	Register("ntoken", NormalizeToken)
	Register("digits_only", DigitsOnly)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// markerRe strips honorifics and relation markers wherever they appear as
// whole tokens ("Mr. Rajesh", "Suresh S/O Mahesh"). Matched before
// punctuation removal so the slash forms are still intact.
var markerRe = regexp.MustCompile(`\b(mr|mrs|ms|dr|md|shri|smt|s/o|d/o|w/o|h/o)\b\.?`)

// Built-in normalizers

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeName normalizes a person or relative name for matching:
// lowercase, honorific/relation-marker tokens removed, punctuation stripped,
// whitespace collapsed. Never fails; unusable input degrades to "".
func NormalizeName(s string) string {
	s = strings.ToLower(s)
	s = markerRe.ReplaceAllString(s, " ")
	return collapseAlnum(s)
}

// NormalizePlace normalizes a locality or district name the same way as a
// person name, minus the marker stripping.
func NormalizePlace(s string) string {
	return collapseAlnum(strings.ToLower(s))
}

// NormalizeToken lowercases and trims a short categorical value
// (relation type, gender).
func NormalizeToken(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

// NormalizePhone removes all non-digit characters from a phone number
func NormalizePhone(s string) string {
	return DigitsOnly(s)
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizeAge renders an age as its decimal string, or "" when absent.
// Fingerprint keys need a stable textual form for numeric fields.
func NormalizeAge(age *int) string {
	if age == nil {
		return ""
	}
	return strconv.Itoa(*age)
}

// PhoneSuffix returns the last 10 digits of a normalized phone number, or the
// whole number when shorter. Captured numbers differ in country-code prefixes
// more often than in subscriber digits.
func PhoneSuffix(s string) string {
	digits := DigitsOnly(s)
	if len(digits) > 10 {
		return digits[len(digits)-10:]
	}
	return digits
}

// collapseAlnum deletes punctuation ("o'brien" -> "obrien"), folds whitespace
// runs to single spaces and trims.
func collapseAlnum(s string) string {
	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			result.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace && result.Len() > 0 {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(result.String())
}
