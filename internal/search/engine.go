package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/byraadsarkiv/agendex/internal/docstore"
	agerr "github.com/byraadsarkiv/agendex/internal/errors"
	"github.com/byraadsarkiv/agendex/internal/lexical"
	"github.com/byraadsarkiv/agendex/internal/vector"
)

// Embedder is the slice of the embedding client the engine needs to
// turn a query string into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Engine answers hybrid queries. The index generations are held
// behind atomic pointers so a rebuild can swap in fresh indexes
// while queries keep running against the old ones.
type Engine struct {
	store    *docstore.Store
	embedder Embedder
	cfg      Config
	analyzer *lexical.Analyzer
	log      *slog.Logger

	lex atomic.Pointer[lexical.Index]
	vec atomic.Pointer[vector.Index]
}

// NewEngine wires the engine over live index generations.
func NewEngine(store *docstore.Store, lex *lexical.Index, vec *vector.Index, embedder Embedder, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:    store,
		embedder: embedder,
		cfg:      cfg.withDefaults(),
		analyzer: lexical.NewAnalyzer(),
		log:      logger.With("component", "search"),
	}
	e.lex.Store(lex)
	e.vec.Store(vec)
	return e
}

// Lexical returns the current lexical index generation.
func (e *Engine) Lexical() *lexical.Index { return e.lex.Load() }

// Vector returns the current vector index generation.
func (e *Engine) Vector() *vector.Index { return e.vec.Load() }

// Swap atomically replaces both index generations. In-flight
// queries finish against the generation they started with.
func (e *Engine) Swap(lex *lexical.Index, vec *vector.Index) (*lexical.Index, *vector.Index) {
	oldLex := e.lex.Swap(lex)
	oldVec := e.vec.Swap(vec)
	return oldLex, oldVec
}

// Search runs the query through both retrieval paths, fuses the
// candidates, and returns the winners with provenance and snippets.
// When one path fails the other still answers, with Partial set.
// When both fail the error wraps ErrRetrievalUnavailable.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	start := time.Now()
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	eligible, err := e.store.ResolveFilter(ctx, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("resolve filter: %w", err)
	}
	if len(eligible) == 0 {
		return &Response{Results: []Result{}, Took: time.Since(start)}, nil
	}

	pool := e.cfg.Oversample * (opts.Limit + opts.Offset)
	lexHits, vecHits, degraded, err := e.retrieve(ctx, query, pool, eligible, opts)
	if err != nil {
		return nil, err
	}

	alpha := *e.cfg.Alpha
	if opts.Alpha != nil {
		alpha = *opts.Alpha
	}
	strategy := e.cfg.Strategy
	if opts.Strategy != "" {
		strategy = opts.Strategy
	}

	lexScored := make([]scored, len(lexHits))
	matched := make(map[string][]string, len(lexHits))
	for i, r := range lexHits {
		lexScored[i] = scored{ID: r.ChunkID, Score: r.Score}
		matched[r.ChunkID] = r.MatchedTerms
	}
	vecScored := make([]scored, len(vecHits))
	for i, r := range vecHits {
		vecScored[i] = scored{ID: r.ChunkID, Score: r.Score}
	}

	var candidates []fused
	if strategy == StrategyRRF {
		candidates = fuseRRF(lexScored, vecScored, e.cfg.RRFConstant)
	} else {
		candidates = fuseWeighted(lexScored, vecScored, alpha, e.cfg.Normalization)
	}

	results, err := e.decorate(ctx, candidates, matched, query)
	if err != nil {
		return nil, err
	}

	total := len(results)
	if opts.Offset >= total {
		results = []Result{}
	} else {
		end := opts.Offset + opts.Limit
		if end > total {
			end = total
		}
		results = results[opts.Offset:end]
	}

	resp := &Response{
		Results:  results,
		Total:    total,
		Partial:  degraded != "",
		Degraded: degraded,
		Took:     time.Since(start),
	}
	e.log.Debug("query answered",
		"total", total,
		"returned", len(results),
		"partial", resp.Partial,
		"took_ms", resp.Took.Milliseconds())
	return resp, nil
}

// retrieve runs the lexical and vector paths concurrently, each
// under its own deadline. A single-path failure degrades rather
// than fails the query.
func (e *Engine) retrieve(ctx context.Context, query string, pool int, eligible map[string]struct{}, opts Options) ([]*lexical.Result, []*vector.Result, string, error) {
	var (
		lexHits []*lexical.Result
		vecHits []*vector.Result
		lexErr  error
		vecErr  error
	)

	g := new(errgroup.Group)
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(ctx, e.cfg.PathTimeout)
		defer cancel()
		lexHits, lexErr = e.lex.Load().Search(pctx, query, pool, eligible)
		return nil
	})
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(ctx, e.cfg.PathTimeout)
		defer cancel()
		qv, err := e.embedder.Embed(pctx, query)
		if err != nil {
			vecErr = fmt.Errorf("embed query: %w", err)
			return nil
		}
		effort := e.cfg.Effort
		if opts.Effort > 0 {
			effort = opts.Effort
		}
		vecHits, vecErr = e.vec.Load().Search(pctx, qv, pool, vector.SearchOptions{
			Effort:   effort,
			Eligible: eligible,
		})
		return nil
	})
	_ = g.Wait()

	if lexErr != nil && vecErr != nil {
		return nil, nil, "", fmt.Errorf("%w: lexical: %v; vector: %v", agerr.ErrRetrievalUnavailable, lexErr, vecErr)
	}

	degraded := ""
	switch {
	case lexErr != nil:
		degraded = "lexical"
		e.log.Warn("lexical path failed, serving vector results only", "error", lexErr)
	case vecErr != nil:
		// A dead vector path only degrades the answer when it could
		// have contributed: some eligible chunk must carry an
		// embedding. A lexical-only scope is complete without it.
		if e.vectorCovers(eligible) {
			degraded = "vector"
			e.log.Warn("vector path failed, serving lexical results only", "error", vecErr)
		} else {
			e.log.Debug("vector path failed outside its coverage", "error", vecErr)
		}
	}
	return lexHits, vecHits, degraded, nil
}

// vectorCovers reports whether any eligible chunk is present in the
// vector index.
func (e *Engine) vectorCovers(eligible map[string]struct{}) bool {
	vec := e.vec.Load()
	for id := range eligible {
		if vec.Contains(id) {
			return true
		}
	}
	return false
}

// decorate resolves candidate chunks to their documents, attaches
// snippets, and applies the deterministic ordering: fused score
// descending, then published date descending, then chunk id.
func (e *Engine) decorate(ctx context.Context, candidates []fused, matched map[string][]string, query string) ([]Result, error) {
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	chunks, err := e.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	byID := make(map[string]*docstore.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	terms := e.analyzer.Tokens(query)
	docs := make(map[string]*docstore.Document)
	results := make([]Result, 0, len(candidates))
	for _, cand := range candidates {
		chunk, ok := byID[cand.ID]
		if !ok {
			// Index knows a chunk the store no longer has. Stale
			// generation; the consistency check will surface it.
			e.log.Warn("dropping candidate missing from store", "chunk", cand.ID)
			continue
		}
		docKey := fmt.Sprintf("%s@%d", chunk.DocumentID, chunk.Version)
		doc, ok := docs[docKey]
		if !ok {
			doc, err = e.store.GetDocument(ctx, chunk.DocumentID, chunk.Version)
			if err != nil {
				return nil, fmt.Errorf("load document %s: %w", chunk.DocumentID, err)
			}
			docs[docKey] = doc
		}
		results = append(results, Result{
			ChunkID:      chunk.ID,
			DocumentID:   chunk.DocumentID,
			Version:      chunk.Version,
			Score:        cand.Score,
			LexicalScore: cand.Lex,
			VectorScore:  cand.Vec,
			Title:        doc.Title,
			Committee:    doc.Committee,
			CaseNumber:   doc.CaseNumber,
			SourceType:   string(doc.SourceType),
			PublishedAt:  doc.PublishedAt,
			Snippet:      makeSnippet(chunk.Text, terms),
			MatchedTerms: matched[chunk.ID],
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].PublishedAt.Equal(results[j].PublishedAt) {
			return results[i].PublishedAt.After(results[j].PublishedAt)
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results, nil
}
