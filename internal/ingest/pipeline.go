package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/byraadsarkiv/agendex/internal/docstore"
	"github.com/byraadsarkiv/agendex/internal/enrich"
	agerr "github.com/byraadsarkiv/agendex/internal/errors"
	"github.com/byraadsarkiv/agendex/internal/lexical"
)

// VectorIndex is the slice of the ANN index the pipeline writes to.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Delete(ctx context.Context, ids []string) error
}

// LexicalIndex is the slice of the BM25 index the pipeline writes to.
type LexicalIndex interface {
	Index(ctx context.Context, docs []*lexical.Doc) error
	Delete(ctx context.Context, ids []string) error
}

// Embedder is the slice of the embedding provider the pipeline needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// CursorStateKey is the state-table key holding the committed feed cursor.
const CursorStateKey = "ingest_cursor"

// Config tunes pipeline concurrency and retry behavior.
type Config struct {
	Workers      int
	BatchSize    int
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	ChunkSize    int
	ChunkOverlap int
}

// Pipeline drives documents from the change feed to fully indexed and
// enriched, with per-document checkpoints so a crash resumes instead of
// restarting.
type Pipeline struct {
	store      *docstore.Store
	lexical    LexicalIndex
	vector     VectorIndex
	embedder   Embedder
	enricher   *enrich.Engine
	source     Source
	extractors []TextExtractor
	chunker    *Chunker
	pool       *ants.Pool
	retryCfg   agerr.RetryConfig
	batchSize  int
	logger     *slog.Logger

	// docLocks serializes work per document id; two feed entries for the
	// same document must not interleave.
	mu       sync.Mutex
	docLocks map[string]*sync.Mutex
}

// NewPipeline wires the pipeline. The worker pool is bounded; documents
// within one feed batch process concurrently, batches run in order.
func NewPipeline(
	store *docstore.Store,
	lex LexicalIndex,
	vec VectorIndex,
	embedder Embedder,
	enricher *enrich.Engine,
	source Source,
	cfg Config,
) (*Pipeline, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU() / 2
		if cfg.Workers < 1 {
			cfg.Workers = 1
		}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	retryCfg := agerr.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxRetries = cfg.MaxRetries
	}
	if cfg.InitialDelay > 0 {
		retryCfg.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		retryCfg.MaxDelay = cfg.MaxDelay
	}

	return &Pipeline{
		store:      store,
		lexical:    lex,
		vector:     vec,
		embedder:   embedder,
		enricher:   enricher,
		source:     source,
		extractors: []TextExtractor{PlainTextExtractor{}},
		chunker:    NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		pool:       pool,
		retryCfg:   retryCfg,
		batchSize:  cfg.BatchSize,
		logger:     slog.Default().With(slog.String("component", "ingest")),
		docLocks:   make(map[string]*sync.Mutex),
	}, nil
}

// RunResult summarizes one pipeline run.
type RunResult struct {
	RunID     string
	Processed int
	Failed    int
	Deleted   int
	Skipped   int
	Cursor    string
}

// Run processes the change feed from the committed cursor until the feed is
// drained. The cursor advances only after every document in a batch reached
// a terminal stage, so a crash mid-batch re-reads the batch; checkpoints
// and deterministic chunk ids make the re-run cheap and idempotent.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	cursor, err := p.store.GetState(ctx, CursorStateKey)
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	return p.runFrom(ctx, cursor)
}

// RunFull replays the feed from the beginning. Existing documents re-ingest
// as no-ops; the run repairs any divergence.
func (p *Pipeline) RunFull(ctx context.Context) (*RunResult, error) {
	return p.runFrom(ctx, "")
}

func (p *Pipeline) runFrom(ctx context.Context, cursor string) (*RunResult, error) {
	result := &RunResult{RunID: uuid.NewString(), Cursor: cursor}
	logger := p.logger.With(slog.String("run_id", result.RunID))
	logger.Info("ingest_run_started", slog.String("cursor", cursor))

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		docs, nextCursor, err := p.source.Changes(ctx, result.Cursor, p.batchSize)
		if err != nil {
			return result, fmt.Errorf("read change feed: %w", err)
		}
		if len(docs) == 0 {
			break
		}

		// Entries for the same document must apply in feed order; group
		// them so one worker owns each document's sequence.
		groups := groupByDocument(docs)

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, group := range groups {
			group := group
			wg.Add(1)
			if submitErr := p.pool.Submit(func() {
				defer wg.Done()
				for _, doc := range group {
					outcome := p.processDocument(ctx, logger, doc)
					mu.Lock()
					switch outcome {
					case outcomeProcessed:
						result.Processed++
					case outcomeDeleted:
						result.Deleted++
					case outcomeFailed:
						result.Failed++
					case outcomeSkipped:
						result.Skipped++
					}
					mu.Unlock()
				}
			}); submitErr != nil {
				wg.Done()
				return result, fmt.Errorf("submit to worker pool: %w", submitErr)
			}
		}
		wg.Wait()

		// Batch fully terminal: safe to commit the cursor.
		if err := p.store.SetState(ctx, CursorStateKey, nextCursor); err != nil {
			return result, fmt.Errorf("commit cursor: %w", err)
		}
		result.Cursor = nextCursor
	}

	// Per-document locks are only meaningful within a run; dropping the
	// map keeps it from accreting an entry per document ever seen.
	p.mu.Lock()
	p.docLocks = make(map[string]*sync.Mutex)
	p.mu.Unlock()

	logger.Info("ingest_run_finished",
		slog.Int("processed", result.Processed),
		slog.Int("failed", result.Failed),
		slog.Int("deleted", result.Deleted),
		slog.Int("skipped", result.Skipped),
		slog.String("cursor", result.Cursor))
	return result, nil
}

// groupByDocument partitions feed entries by document id, preserving feed
// order both across groups and within each group.
func groupByDocument(docs []*SourceDocument) [][]*SourceDocument {
	index := make(map[string]int)
	var groups [][]*SourceDocument
	for _, doc := range docs {
		if i, ok := index[doc.ID]; ok {
			groups[i] = append(groups[i], doc)
			continue
		}
		index[doc.ID] = len(groups)
		groups = append(groups, []*SourceDocument{doc})
	}
	return groups
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeDeleted
	outcomeFailed
	outcomeSkipped
)

func (p *Pipeline) lockDocument(id string) func() {
	p.mu.Lock()
	lock, ok := p.docLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		p.docLocks[id] = lock
	}
	p.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// processDocument runs one feed entry through the stage machine. Transient
// failures retry with backoff inside each stage; exhausted retries record a
// failure checkpoint and leave previously indexed versions untouched.
func (p *Pipeline) processDocument(ctx context.Context, logger *slog.Logger, src *SourceDocument) outcome {
	unlock := p.lockDocument(src.ID)
	defer unlock()

	logger = logger.With(slog.String("document_id", src.ID), slog.Int64("version", src.Version))

	if src.Deleted {
		if err := p.deleteDocument(ctx, src.ID); err != nil {
			logger.Error("delete_failed", slog.String("error", err.Error()))
			return outcomeFailed
		}
		logger.Info("document_deleted")
		return outcomeDeleted
	}

	err := p.ingestDocument(ctx, logger, src)
	switch {
	case err == nil:
		return outcomeProcessed
	case errors.Is(err, agerr.ErrConflict):
		// A newer version is already current; the stale entry is noise.
		logger.Warn("stale_version_skipped", slog.String("error", err.Error()))
		return outcomeSkipped
	case ctx.Err() != nil:
		return outcomeFailed
	default:
		attempts := 1
		if state, stErr := p.store.GetPipelineState(ctx, src.ID); stErr == nil {
			attempts = state.Attempts + 1
		}
		_ = p.store.SavePipelineState(ctx, &docstore.PipelineState{
			DocumentID: src.ID,
			Version:    src.Version,
			Stage:      docstore.StageFailed,
			Attempts:   attempts,
			LastError:  err.Error(),
		})
		logger.Error("document_failed", slog.String("error", err.Error()))
		return outcomeFailed
	}
}

func (p *Pipeline) ingestDocument(ctx context.Context, logger *slog.Logger, src *SourceDocument) error {
	// A checkpoint for this exact version resumes the document from its
	// last completed stage; anything else starts over from fetch.
	resume := docstore.StageFetched
	attempts := 0
	if state, err := p.store.GetPipelineState(ctx, src.ID); err == nil {
		attempts = state.Attempts
		if state.Version == src.Version && state.Stage != docstore.StageFailed {
			resume = state.Stage
		}
	}
	if resume == docstore.StageEnriched {
		logger.Debug("document_already_terminal")
		return nil
	}

	doc := &docstore.Document{
		ID:          src.ID,
		Version:     src.Version,
		SourceType:  docstore.SourceType(src.SourceType),
		Committee:   NormalizeCommittee(src.Committee),
		CaseNumber:  src.CaseNumber,
		Title:       src.Title,
		PublishedAt: src.PublishedAt,
	}
	if doc.CaseNumber != "" && !ValidCaseNumber(doc.CaseNumber) {
		logger.Warn("unrecognized case number shape",
			slog.String("document", src.ID), slog.String("case_number", doc.CaseNumber))
	}

	// Fetched and Normalized: resolve and persist the document body. A
	// resumed document reloads the body already in the store instead of
	// going back to the source.
	if resume.AtLeast(docstore.StageNormalized) {
		stored, err := p.store.GetDocument(ctx, src.ID, src.Version)
		if err != nil {
			return err
		}
		doc.Text = stored.Text
	} else {
		text, err := p.resolveText(ctx, src)
		if err != nil {
			return err
		}
		doc.Text = text
		if err := p.store.PutDocument(ctx, doc); err != nil {
			return err
		}
		if err := p.checkpoint(ctx, src, docstore.StageNormalized, attempts); err != nil {
			return err
		}
	}

	// Chunked: deterministic chunk set plus authoritative facets.
	var chunks []*docstore.Chunk
	if resume.AtLeast(docstore.StageChunked) {
		stored, err := p.store.GetChunksByDocument(ctx, src.ID, src.Version)
		if err != nil {
			return err
		}
		chunks = stored
	} else {
		chunks = p.chunker.Chunk(doc)
		if err := p.store.SaveChunks(ctx, doc, chunks); err != nil {
			return fmt.Errorf("save chunks: %w", err)
		}
		if err := p.checkpoint(ctx, src, docstore.StageChunked, attempts); err != nil {
			return err
		}
	}

	// Embedded: reuse stored vectors for unchanged content, call the
	// provider for the rest, with transient-aware retry. Exhausted
	// retries leave the chunks unembedded rather than failing the
	// document: they must stay reachable through the lexical path.
	if !resume.AtLeast(docstore.StageEmbedded) {
		if err := p.embedChunks(ctx, logger, chunks); err != nil {
			return err
		}
		if err := p.checkpoint(ctx, src, docstore.StageEmbedded, attempts); err != nil {
			return err
		}
	}

	// Indexed: both retrieval paths.
	if !resume.AtLeast(docstore.StageIndexed) {
		if err := p.indexChunks(ctx, doc, chunks); err != nil {
			return err
		}
		if err := p.checkpoint(ctx, src, docstore.StageIndexed, attempts); err != nil {
			return err
		}
	}

	// Enriched: best effort, never blocks the document.
	p.enrichChunks(ctx, logger, chunks)
	if err := p.checkpoint(ctx, src, docstore.StageEnriched, attempts); err != nil {
		return err
	}

	logger.Info("document_indexed", slog.Int("chunks", len(chunks)))
	return nil
}

func (p *Pipeline) resolveText(ctx context.Context, src *SourceDocument) (string, error) {
	if src.Text != "" {
		return NormalizeText(src.Text), nil
	}
	if src.ContentURL == "" {
		return "", fmt.Errorf("document %s has neither inline text nor content URL", src.ID)
	}

	data, err := agerr.RetryWithResult(ctx, p.retryCfg, func() ([]byte, error) {
		return p.source.FetchContent(ctx, src)
	})
	if err != nil {
		return "", err
	}

	for _, ex := range p.extractors {
		if !ex.Supports(src.ContentType) {
			continue
		}
		text, err := ex.Extract(ctx, src.ContentType, data)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", src.ID, err)
		}
		return text, nil
	}
	return "", fmt.Errorf("no extractor for content type %q", src.ContentType)
}

func (p *Pipeline) embedChunks(ctx context.Context, logger *slog.Logger, chunks []*docstore.Chunk) error {
	var pendingChunks []*docstore.Chunk
	var pendingTexts []string

	for _, c := range chunks {
		// Unchanged text across versions reuses the stored vector.
		if vec, model, err := p.store.FindEmbeddingByHash(ctx, c.ContentHash); err == nil {
			c.Embedding = vec
			c.EmbedModel = model
			if err := p.store.SaveEmbedding(ctx, c.ID, vec, model); err != nil {
				return err
			}
			continue
		}
		pendingChunks = append(pendingChunks, c)
		pendingTexts = append(pendingTexts, c.Text)
	}
	if len(pendingChunks) == 0 {
		return nil
	}

	vecs, err := agerr.RetryWithResult(ctx, p.retryCfg, func() ([][]float32, error) {
		return p.embedder.EmbedBatch(ctx, pendingTexts)
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		// Retries exhausted. The chunks stay unembedded and reach the
		// lexical index anyway; the next version of the document gets
		// a fresh embedding attempt.
		logger.Warn("embedding_exhausted",
			slog.Int("chunks", len(pendingChunks)),
			slog.String("error", err.Error()))
		return nil
	}

	model := p.embedder.ModelName()
	for i, c := range pendingChunks {
		c.Embedding = vecs[i]
		c.EmbedModel = model
		if err := p.store.SaveEmbedding(ctx, c.ID, vecs[i], model); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) indexChunks(ctx context.Context, doc *docstore.Document, chunks []*docstore.Chunk) error {
	lexDocs := make([]*lexical.Doc, len(chunks))
	ids := make([]string, 0, len(chunks))
	vecs := make([][]float32, 0, len(chunks))
	for i, c := range chunks {
		lexDocs[i] = &lexical.Doc{
			ChunkID:     c.ID,
			Text:        c.Text,
			PublishedAt: doc.PublishedAt.Unix(),
		}
		// Unembedded chunks are lexical-only.
		if c.Embedding != nil {
			ids = append(ids, c.ID)
			vecs = append(vecs, c.Embedding)
		}
	}
	if err := p.lexical.Index(ctx, lexDocs); err != nil {
		return fmt.Errorf("lexical index: %w", err)
	}
	if err := p.vector.Add(ctx, ids, vecs); err != nil {
		return fmt.Errorf("vector index: %w", err)
	}
	return nil
}

func (p *Pipeline) enrichChunks(ctx context.Context, logger *slog.Logger, chunks []*docstore.Chunk) {
	for _, c := range chunks {
		facets, err := p.enricher.EnrichChunk(ctx, c)
		if err != nil {
			// Logged by the engine; the chunk stays searchable.
			continue
		}
		if len(facets) == 0 {
			continue
		}
		if err := p.store.SaveEnrichmentFacets(ctx, c.ID, facets); err != nil {
			logger.Warn("enrichment_save_failed",
				slog.String("chunk_id", c.ID),
				slog.String("error", err.Error()))
		}
	}
}

// deleteDocument retires a document and evicts its chunks from both indexes.
func (p *Pipeline) deleteDocument(ctx context.Context, id string) error {
	chunkIDs, err := p.collectChunkIDs(ctx, id)
	if err != nil {
		return err
	}
	if err := p.store.MarkDeleted(ctx, id); err != nil {
		if errors.Is(err, agerr.ErrNotFound) {
			return nil // never ingested; nothing to retire
		}
		return err
	}
	if err := p.lexical.Delete(ctx, chunkIDs); err != nil {
		return fmt.Errorf("lexical delete: %w", err)
	}
	if err := p.vector.Delete(ctx, chunkIDs); err != nil {
		return fmt.Errorf("vector delete: %w", err)
	}
	return nil
}

func (p *Pipeline) collectChunkIDs(ctx context.Context, id string) ([]string, error) {
	var ids []string
	doc, err := p.store.GetCurrent(ctx, id)
	if err != nil {
		if errors.Is(err, agerr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	chunks, err := p.store.GetChunksByDocument(ctx, doc.ID, doc.Version)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (p *Pipeline) checkpoint(ctx context.Context, src *SourceDocument, stage docstore.Stage, attempts int) error {
	return p.store.SavePipelineState(ctx, &docstore.PipelineState{
		DocumentID: src.ID,
		Version:    src.Version,
		Stage:      stage,
		Attempts:   attempts,
	})
}

// Release tears down the worker pool.
func (p *Pipeline) Release() {
	p.pool.Release()
}
