// Package enrich derives best-effort facets from chunk text. Enrichment is
// advisory: authoritative facets come from document metadata, enrichment
// facets carry a confidence and only participate in hard filtering above
// the configured threshold.
package enrich

import (
	"context"
	"log/slog"

	"github.com/byraadsarkiv/agendex/internal/docstore"
	agerr "github.com/byraadsarkiv/agendex/internal/errors"
)

// Enricher derives facets from one chunk.
type Enricher interface {
	// Name identifies the enricher in logs and failure records.
	Name() string

	// Enrich returns derived facets with confidences in [0, 1].
	Enrich(ctx context.Context, chunk *docstore.Chunk) ([]docstore.Facet, error)
}

// Engine runs a set of enrichers over chunks and applies the confidence
// threshold. One enricher failing does not abort the others.
type Engine struct {
	enrichers []Enricher
	threshold float64
	logger    *slog.Logger
}

// NewEngine creates an enrichment engine. With no explicit enrichers the
// built-in political tagger is used.
func NewEngine(threshold float64, enrichers ...Enricher) *Engine {
	if len(enrichers) == 0 {
		enrichers = []Enricher{NewPoliticalTagger()}
	}
	return &Engine{
		enrichers: enrichers,
		threshold: threshold,
		logger:    slog.Default().With(slog.String("component", "enrich")),
	}
}

// EnrichChunk derives facets for a chunk. Facets below the threshold are
// returned flagged so they persist for inspection but never hard-filter.
// The returned error, if any, wraps the first enricher failure; facets from
// the enrichers that succeeded are still returned.
func (e *Engine) EnrichChunk(ctx context.Context, chunk *docstore.Chunk) ([]docstore.Facet, error) {
	var facets []docstore.Facet
	var firstErr error

	for _, enricher := range e.enrichers {
		if err := ctx.Err(); err != nil {
			return facets, err
		}
		derived, err := enricher.Enrich(ctx, chunk)
		if err != nil {
			e.logger.Warn("enricher_failed",
				slog.String("enricher", enricher.Name()),
				slog.String("chunk_id", chunk.ID),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = agerr.Enrichment(chunk.ID, err)
			}
			continue
		}
		for _, f := range derived {
			f.Source = docstore.FacetSourceEnrichment
			f.Flagged = f.Confidence < e.threshold
			facets = append(facets, f)
		}
	}
	return facets, firstErr
}
