package lexical

import (
	"strings"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// Analyzer turns Danish meeting text into index terms: unicode word
// segmentation, lowercasing, then stop word removal.
type Analyzer struct {
	tokenizer analysis.Tokenizer
	filters   []analysis.TokenFilter
}

// NewAnalyzer builds the default analyzer used for both indexing and queries.
// Indexing and querying must share one analyzer or term lookups silently miss.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		tokenizer: unicode.NewUnicodeTokenizer(),
		filters: []analysis.TokenFilter{
			lowercase.NewLowerCaseFilter(),
			newStopFilter(danishStopWords),
		},
	}
}

// Tokens returns the analyzed terms of text, in order.
func (a *Analyzer) Tokens(text string) []string {
	stream := a.tokenizer.Tokenize([]byte(text))
	for _, f := range a.filters {
		stream = f.Filter(stream)
	}
	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		terms = append(terms, string(tok.Term))
	}
	return terms
}

// stopFilter drops high-frequency function words that carry no retrieval
// signal in council documents.
type stopFilter struct {
	stopWords map[string]struct{}
}

func newStopFilter(words []string) *stopFilter {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return &stopFilter{stopWords: m}
}

// Filter implements analysis.TokenFilter.
func (f *stopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[string(token.Term)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// danishStopWords is the Snowball Danish stop list. Committee and case
// vocabulary ("udvalg", "sag") stays indexable on purpose.
var danishStopWords = []string{
	"og", "i", "jeg", "det", "at", "en", "den", "til", "er", "som", "på",
	"de", "med", "han", "af", "for", "ikke", "der", "var", "mig", "sig",
	"men", "et", "har", "om", "vi", "min", "havde", "ham", "hun", "nu",
	"over", "da", "fra", "du", "ud", "sin", "dem", "os", "op", "man",
	"hans", "hvor", "eller", "hvad", "skal", "selv", "her", "alle", "vil",
	"blev", "kunne", "ind", "når", "være", "dog", "noget", "ville", "jo",
	"deres", "efter", "ned", "skulle", "denne", "end", "dette", "mit",
	"også", "under", "have", "dig", "anden", "hende", "mine", "alt",
	"meget", "sit", "sine", "vor", "mod", "disse", "hvis", "din", "nogle",
	"hos", "blive", "mange", "ad", "bliver", "hendes", "været", "thi",
	"jer", "sådan",
}
