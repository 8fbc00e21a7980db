package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/byraadsarkiv/agendex/internal/docstore"
	"github.com/byraadsarkiv/agendex/internal/lexical"
	"github.com/byraadsarkiv/agendex/internal/vector"
)

// RebuildStats summarizes one rebuild run.
type RebuildStats struct {
	Chunks     int
	Embedded   int
	Unembedded int
	Took       time.Duration
}

// Rebuilder reconstructs both indexes from the document store and
// swaps them into the engine. The store is the source of truth; the
// indexes are derived state, so a rebuild from scratch always
// converges to a consistent pair.
type Rebuilder struct {
	store      *docstore.Store
	engine     *Engine
	newLexical func() *lexical.Index
	newVector  func() (*vector.Index, error)
	log        *slog.Logger
}

// NewRebuilder wires a rebuilder. The factories produce empty index
// generations with the engine's configured parameters.
func NewRebuilder(store *docstore.Store, engine *Engine, newLexical func() *lexical.Index, newVector func() (*vector.Index, error), logger *slog.Logger) *Rebuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rebuilder{
		store:      store,
		engine:     engine,
		newLexical: newLexical,
		newVector:  newVector,
		log:        logger.With("component", "rebuild"),
	}
}

// Rebuild loads every chunk of every live document version, indexes
// the fresh generations offline, and atomically swaps them in.
// Queries running during the rebuild keep using the old generation
// until the swap.
func (r *Rebuilder) Rebuild(ctx context.Context) (*RebuildStats, error) {
	start := time.Now()
	chunks, published, err := r.store.AllChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	lex := r.newLexical()
	vec, err := r.newVector()
	if err != nil {
		return nil, fmt.Errorf("create vector index: %w", err)
	}

	stats := &RebuildStats{Chunks: len(chunks)}
	docs := make([]*lexical.Doc, 0, len(chunks))
	var ids []string
	var vectors [][]float32
	for _, c := range chunks {
		var pubAt int64
		if t, ok := published[c.ID]; ok {
			pubAt = t.Unix()
		}
		docs = append(docs, &lexical.Doc{
			ChunkID:     c.ID,
			Text:        c.Text,
			PublishedAt: pubAt,
		})
		if c.Embedding != nil {
			ids = append(ids, c.ID)
			vectors = append(vectors, c.Embedding)
			stats.Embedded++
		} else {
			stats.Unembedded++
		}
	}

	if err := lex.Index(ctx, docs); err != nil {
		return nil, fmt.Errorf("index lexical: %w", err)
	}
	if err := vec.Add(ctx, ids, vectors); err != nil {
		return nil, fmt.Errorf("index vectors: %w", err)
	}

	// Old generations are not closed here: in-flight queries may
	// still hold them. They are garbage collected once released.
	r.engine.Swap(lex, vec)

	stats.Took = time.Since(start)
	r.log.Info("indexes rebuilt",
		"chunks", stats.Chunks,
		"embedded", stats.Embedded,
		"unembedded", stats.Unembedded,
		"took_ms", stats.Took.Milliseconds())
	return stats, nil
}
