package civic

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// prepositions stay lower-cased when normalizing organization names, so
// that "Committee On Finance" and "Committee on Finance" compare equal.
var prepositions = map[string]bool{
	"and": true,
	"at":  true,
	"by":  true,
	"for": true,
	"in":  true,
	"of":  true,
	"on":  true,
	"the": true,
	"to":  true,
}

var titleCaser = cases.Title(language.English)

// NormalizeOrgName canonicalizes an organization name for fuzzy natural-key
// matching: title casing with common prepositions lower-cased, and "&"
// normalized to "and". The first word keeps its title casing regardless.
func NormalizeOrgName(name string) string {
	name = strings.ReplaceAll(name, "&", " and ")
	words := strings.Fields(name)
	for i, w := range words {
		lower := strings.ToLower(w)
		if i > 0 && prepositions[lower] {
			words[i] = lower
		} else {
			words[i] = titleCaser.String(lower)
		}
	}
	return strings.Join(words, " ")
}

// OrgNamesEqual reports whether two organization names match after
// normalization.
func OrgNamesEqual(a, b string) bool {
	return NormalizeOrgName(a) == NormalizeOrgName(b)
}
