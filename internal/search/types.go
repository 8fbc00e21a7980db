// Package search implements hybrid retrieval over the lexical and
// vector indexes. A query runs both paths in parallel against the
// same eligible chunk set, fuses their scores, and decorates the
// winners with document provenance and a snippet.
package search

import (
	"time"

	"github.com/byraadsarkiv/agendex/internal/docstore"
)

// Fusion strategies.
const (
	StrategyWeighted = "weighted"
	StrategyRRF      = "rrf"
)

// Score normalization schemes for the weighted strategy.
const (
	NormMinMax = "minmax"
	NormZScore = "zscore"
)

// Config controls fusion and per-path behavior. Zero values are
// replaced by defaults in NewEngine.
type Config struct {
	// Alpha weights the lexical path in [0,1]. 1 is pure BM25,
	// 0 is pure vector similarity. Nil means the 0.5 default; the
	// pointer keeps a configured zero distinct from unset.
	Alpha *float64

	// Strategy selects weighted fusion or reciprocal rank fusion.
	Strategy string

	// Normalization applies to the weighted strategy only.
	Normalization string

	// RRFConstant is the k in 1/(k+rank).
	RRFConstant int

	// Oversample multiplies the requested limit to size the
	// per-path candidate pools before fusion.
	Oversample int

	// PathTimeout bounds each retrieval path independently.
	PathTimeout time.Duration

	// Effort tunes vector search recall. Higher is slower and
	// more accurate.
	Effort int
}

func (c Config) withDefaults() Config {
	if c.Alpha == nil {
		alpha := 0.5
		c.Alpha = &alpha
	}
	if c.Strategy == "" {
		c.Strategy = StrategyWeighted
	}
	if c.Normalization == "" {
		c.Normalization = NormMinMax
	}
	if c.RRFConstant <= 0 {
		c.RRFConstant = 60
	}
	if c.Oversample <= 0 {
		c.Oversample = 3
	}
	if c.PathTimeout <= 0 {
		c.PathTimeout = 2 * time.Second
	}
	return c
}

// Options refine a single query.
type Options struct {
	// Limit caps the number of returned results. Defaults to 10.
	Limit int

	// Offset skips fused results for pagination.
	Offset int

	// Filter restricts candidates before either path runs.
	Filter docstore.Filter

	// Alpha overrides the engine default when non-nil.
	Alpha *float64

	// Strategy overrides the engine default when non-empty.
	Strategy string

	// Effort overrides the engine default when positive.
	Effort int
}

// Result is one scored chunk with its document provenance.
type Result struct {
	ChunkID      string    `json:"chunkId"`
	DocumentID   string    `json:"documentId"`
	Version      int64     `json:"version"`
	Score        float64   `json:"score"`
	LexicalScore float64   `json:"lexicalScore,omitempty"`
	VectorScore  float64   `json:"vectorScore,omitempty"`
	Title        string    `json:"title,omitempty"`
	Committee    string    `json:"committee,omitempty"`
	CaseNumber   string    `json:"caseNumber,omitempty"`
	SourceType   string    `json:"sourceType,omitempty"`
	PublishedAt  time.Time `json:"publishedAt"`
	Snippet      string    `json:"snippet,omitempty"`
	MatchedTerms []string  `json:"matchedTerms,omitempty"`
}

// Response is a full query answer.
type Response struct {
	Results []Result `json:"results"`
	// Total counts fused candidates before pagination.
	Total int `json:"total"`
	// Partial is true when one retrieval path failed and the
	// results come from the surviving path alone.
	Partial bool `json:"partial,omitempty"`
	// Degraded names the failed path when Partial is set.
	Degraded string `json:"degraded,omitempty"`
	// Took is the wall time of the whole query.
	Took time.Duration `json:"took"`
}
