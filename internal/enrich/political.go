package enrich

import (
	"context"
	"regexp"
	"strings"

	"github.com/byraadsarkiv/agendex/internal/docstore"
)

// Facet names produced by the political tagger. Enrichment facets are
// namespaced to keep them apart from authoritative metadata.
const (
	FacetParty     = "enrich.party"
	FacetDecision  = "enrich.decision"
	FacetUnanimous = "enrich.unanimous"
)

// PoliticalTagger extracts party mentions and decision outcomes from Danish
// meeting minutes.
type PoliticalTagger struct {
	parties   map[string]*regexp.Regexp
	decisions []decisionPattern
}

type decisionPattern struct {
	value   string
	pattern *regexp.Regexp
}

// NewPoliticalTagger builds the tagger with the national party vocabulary.
func NewPoliticalTagger() *PoliticalTagger {
	parties := map[string]string{
		"socialdemokratiet":    `(?i)\bsocialdemokrati\w*`,
		"venstre":              `(?i)\bvenstre\b`,
		"konservative":         `(?i)\b(det )?konservative( folkeparti)?\b`,
		"enhedslisten":         `(?i)\benhedslisten\b`,
		"sf":                   `(?i)\b(sf|socialistisk folkeparti)\b`,
		"dansk folkeparti":     `(?i)\bdansk folkeparti\b`,
		"radikale":             `(?i)\b(det )?radikale( venstre)?\b`,
		"alternativet":         `(?i)\balternativet\b`,
		"liberal alliance":     `(?i)\bliberal alliance\b`,
		"danmarksdemokraterne": `(?i)\bdanmarksdemokraterne\b`,
	}
	compiled := make(map[string]*regexp.Regexp, len(parties))
	for name, expr := range parties {
		compiled[name] = regexp.MustCompile(expr)
	}

	// Outcome phrases as written in referater, most specific first.
	decisions := []decisionPattern{
		{"approved", regexp.MustCompile(`(?i)\b(godkendt|tiltrådt|vedtaget|indstillingen følges)\b`)},
		{"rejected", regexp.MustCompile(`(?i)\b(afvist|forkastet|ikke godkendt|indstillingen følges ikke)\b`)},
		{"postponed", regexp.MustCompile(`(?i)\b(udsat|udsættes|tilbagesendt|sendes tilbage)\b`)},
		{"noted", regexp.MustCompile(`(?i)\b(taget til efterretning|til orientering)\b`)},
	}

	return &PoliticalTagger{parties: compiled, decisions: decisions}
}

// Name identifies the tagger.
func (t *PoliticalTagger) Name() string { return "political" }

// decisionContext matches the section headers that introduce outcomes in
// minutes; a match near one of these carries more weight than a stray verb.
var decisionContext = regexp.MustCompile(`(?i)\b(beslutning|afgørelse|udvalget besluttede|byrådet besluttede)\b`)

var unanimousPattern = regexp.MustCompile(`(?i)\benstemmigt?\b`)

// Enrich derives party, decision, and unanimity facets from the chunk text.
func (t *PoliticalTagger) Enrich(ctx context.Context, chunk *docstore.Chunk) ([]docstore.Facet, error) {
	text := chunk.Text
	var facets []docstore.Facet

	for party, pattern := range t.parties {
		mentions := len(pattern.FindAllStringIndex(text, -1))
		if mentions == 0 {
			continue
		}
		// Repeated mentions raise confidence; a single one can be a
		// street name or a person.
		confidence := 0.6 + 0.15*float64(mentions-1)
		if confidence > 0.95 {
			confidence = 0.95
		}
		facets = append(facets, docstore.Facet{
			Name:       FacetParty,
			Value:      party,
			Confidence: confidence,
		})
	}

	inDecisionSection := decisionContext.MatchString(text)
	for _, d := range t.decisions {
		if !d.pattern.MatchString(text) {
			continue
		}
		confidence := 0.65
		if inDecisionSection {
			confidence = 0.9
		}
		facets = append(facets, docstore.Facet{
			Name:       FacetDecision,
			Value:      d.value,
			Confidence: confidence,
		})
		break // first matching outcome wins; minutes state one per item
	}

	if unanimousPattern.MatchString(text) {
		confidence := 0.7
		if inDecisionSection {
			confidence = 0.9
		}
		facets = append(facets, docstore.Facet{
			Name:       FacetUnanimous,
			Value:      "true",
			Confidence: confidence,
		})
	}

	// Guard against text where every token matched (OCR noise).
	if len(facets) > 0 && len(strings.Fields(text)) < 3 {
		for i := range facets {
			facets[i].Confidence *= 0.5
		}
	}
	return facets, nil
}
