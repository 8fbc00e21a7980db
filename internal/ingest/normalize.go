package ingest

import (
	"regexp"
	"strings"
)

// canonicalCommittees maps lowercased feed spellings to the canonical
// committee names used for faceting. The feed is inconsistent about
// casing and occasionally prefixes the meeting context.
var canonicalCommittees = map[string]string{
	"byrådet":                           "Byrådet",
	"byraadet":                          "Byrådet",
	"magistraten":                       "Magistraten",
	"teknisk udvalg":                    "Teknisk Udvalg",
	"teknik og miljø":                   "Teknisk Udvalg",
	"social- og beskæftigelsesudvalget": "Social- og Beskæftigelsesudvalget",
	"sundheds- og omsorgsudvalget":      "Sundheds- og Omsorgsudvalget",
	"børn og unge-udvalget":             "Børn og Unge-udvalget",
	"børn og unge":                      "Børn og Unge-udvalget",
	"kulturudvalget":                    "Kulturudvalget",
	"økonomiudvalget":                   "Økonomiudvalget",
	"udvalget for mangfoldighed og ligestilling": "Udvalget for Mangfoldighed og Ligestilling",
}

var committeePrefix = regexp.MustCompile(`(?i)^(mødet i|møde i|dagsorden for|referat af)\s+`)

// NormalizeCommittee reduces a feed committee spelling to its
// canonical facet value. Unknown committees keep their cleaned
// spelling rather than being dropped, so new committees still facet.
func NormalizeCommittee(raw string) string {
	name := strings.Join(strings.Fields(raw), " ")
	name = committeePrefix.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)
	if canonical, ok := canonicalCommittees[strings.ToLower(name)]; ok {
		return canonical
	}
	return name
}

// Case numbers come in two shapes: the short journal form "23/012345"
// and the prefixed form "SAG-2024-12345".
var caseNumberPattern = regexp.MustCompile(`^(\d{2}/\d{4,6}|[A-ZÆØÅ]{2,5}-\d{4}-\d{1,6})$`)

// ValidCaseNumber reports whether s matches a known case-number shape.
// Invalid numbers are stored as-is but logged, never rejected: the
// document is still real even when the journal reference is mangled.
func ValidCaseNumber(s string) bool {
	return caseNumberPattern.MatchString(strings.TrimSpace(s))
}
