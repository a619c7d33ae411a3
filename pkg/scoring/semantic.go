package scoring

// relationGroupScore is the score for two different descriptors of one
// relationship, e.g. "husband" against "wife"
const relationGroupScore = 0.9

// relationGroups folds relation descriptors onto a shared group so that
// complementary descriptors compare high while near-identical strings naming
// different relations ("father" vs "mother") compare low
var relationGroups = map[string]string{
	"father":  "father",
	"dad":     "father",
	"papa":    "father",
	"mother":  "mother",
	"mom":     "mother",
	"maa":     "mother",
	"amma":    "mother",
	"spouse":  "spouse",
	"husband": "spouse",
	"wife":    "spouse",
}

func relationGroup(s string) (string, bool) {
	group, ok := relationGroups[s]
	return group, ok
}

// genderCanonicals folds the single-letter codes common in collected data
// onto the full form
var genderCanonicals = map[string]string{
	"m":      "male",
	"male":   "male",
	"f":      "female",
	"female": "female",
	"o":      "other",
	"other":  "other",
}

func genderCanonical(s string) (string, bool) {
	canon, ok := genderCanonicals[s]
	return canon, ok
}
