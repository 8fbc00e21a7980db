package lexical

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	agerr "github.com/byraadsarkiv/agendex/internal/errors"
)

// Doc is one indexable unit: a chunk's text plus the publication instant
// used for deterministic tie-breaking.
type Doc struct {
	ChunkID     string
	Text        string
	PublishedAt int64 // unix seconds
}

// Result is a scored lexical hit.
type Result struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// Index is an in-memory BM25 index over chunk text with gob persistence.
// Deletions are tombstones; Compact reclaims them.
type Index struct {
	mu       sync.RWMutex
	analyzer *Analyzer

	k1 float64
	b  float64

	postings map[string]map[string]int // term -> chunkID -> term frequency
	docLen   map[string]int            // chunkID -> analyzed token count
	pubAt    map[string]int64          // chunkID -> published unix seconds
	deleted  map[string]struct{}       // tombstoned chunkIDs

	liveCount int
	liveLen   int64
	closed    bool
}

// NewIndex creates an empty index with the given BM25 parameters.
func NewIndex(k1, b float64) *Index {
	return &Index{
		analyzer: NewAnalyzer(),
		k1:       k1,
		b:        b,
		postings: make(map[string]map[string]int),
		docLen:   make(map[string]int),
		pubAt:    make(map[string]int64),
		deleted:  make(map[string]struct{}),
	}
}

// Index adds or replaces documents. Re-indexing an existing chunk id first
// removes its old postings, so repeated ingestion of identical content
// leaves the index unchanged.
func (idx *Index) Index(ctx context.Context, docs []*Doc) error {
	if len(docs) == 0 {
		return nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return fmt.Errorf("index is closed")
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx.removeLocked(doc.ChunkID)

		terms := idx.analyzer.Tokens(doc.Text)
		for _, term := range terms {
			byChunk, ok := idx.postings[term]
			if !ok {
				byChunk = make(map[string]int)
				idx.postings[term] = byChunk
			}
			byChunk[doc.ChunkID]++
		}
		idx.docLen[doc.ChunkID] = len(terms)
		idx.pubAt[doc.ChunkID] = doc.PublishedAt
		idx.liveCount++
		idx.liveLen += int64(len(terms))
	}
	return nil
}

// removeLocked erases a chunk's postings immediately (used on re-index);
// caller holds the write lock.
func (idx *Index) removeLocked(chunkID string) {
	length, ok := idx.docLen[chunkID]
	if !ok {
		return
	}
	for term, byChunk := range idx.postings {
		if _, has := byChunk[chunkID]; has {
			delete(byChunk, chunkID)
			if len(byChunk) == 0 {
				delete(idx.postings, term)
			}
		}
	}
	delete(idx.docLen, chunkID)
	delete(idx.pubAt, chunkID)
	if _, tombstoned := idx.deleted[chunkID]; !tombstoned {
		idx.liveCount--
		idx.liveLen -= int64(length)
	}
	delete(idx.deleted, chunkID)
}

// Delete tombstones chunks. They stop appearing in results immediately;
// their postings are reclaimed by Compact.
func (idx *Index) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return fmt.Errorf("index is closed")
	}

	for _, id := range chunkIDs {
		length, ok := idx.docLen[id]
		if !ok {
			continue
		}
		if _, already := idx.deleted[id]; already {
			continue
		}
		idx.deleted[id] = struct{}{}
		idx.liveCount--
		idx.liveLen -= int64(length)
	}
	return nil
}

// Compact physically removes tombstoned postings.
func (idx *Index) Compact() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for id := range idx.deleted {
		for term, byChunk := range idx.postings {
			delete(byChunk, id)
			if len(byChunk) == 0 {
				delete(idx.postings, term)
			}
		}
		delete(idx.docLen, id)
		delete(idx.pubAt, id)
	}
	idx.deleted = make(map[string]struct{})
}

// Search scores eligible chunks with BM25 and returns the top limit hits.
// An empty (after analysis) query returns no hits. A nil eligible set means
// no pre-filter. Ties break on published date (newest first), then chunk id.
func (idx *Index) Search(ctx context.Context, query string, limit int, eligible map[string]struct{}) ([]*Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	terms := idx.analyzer.Tokens(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := idx.liveCount
	if n == 0 {
		return nil, nil
	}
	avgLen := float64(idx.liveLen) / float64(n)

	// Deduplicate query terms; repeated terms do not double-count.
	seen := make(map[string]struct{}, len(terms))
	scores := make(map[string]float64)
	matched := make(map[string][]string)

	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		byChunk, ok := idx.postings[term]
		if !ok {
			continue
		}
		df := idx.liveDocFreq(byChunk)
		if df == 0 {
			continue
		}
		idf := bm25IDF(n, df)

		for chunkID, tf := range byChunk {
			if _, tombstoned := idx.deleted[chunkID]; tombstoned {
				continue
			}
			if eligible != nil {
				if _, ok := eligible[chunkID]; !ok {
					continue
				}
			}
			norm := 1 - idx.b + idx.b*float64(idx.docLen[chunkID])/avgLen
			tfComponent := float64(tf) * (idx.k1 + 1) / (float64(tf) + idx.k1*norm)
			scores[chunkID] += idf * tfComponent
			matched[chunkID] = append(matched[chunkID], term)
		}
	}

	results := make([]*Result, 0, len(scores))
	for chunkID, score := range scores {
		results = append(results, &Result{
			ChunkID:      chunkID,
			Score:        score,
			MatchedTerms: matched[chunkID],
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		pi, pj := idx.pubAt[results[i].ChunkID], idx.pubAt[results[j].ChunkID]
		if pi != pj {
			return pi > pj
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (idx *Index) liveDocFreq(byChunk map[string]int) int {
	if len(idx.deleted) == 0 {
		return len(byChunk)
	}
	df := 0
	for chunkID := range byChunk {
		if _, tombstoned := idx.deleted[chunkID]; !tombstoned {
			df++
		}
	}
	return df
}

// bm25IDF is the standard non-negative BM25 idf formulation.
func bm25IDF(n, df int) float64 {
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}

// AllIDs returns every live chunk id, for consistency checks.
func (idx *Index) AllIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := make([]string, 0, idx.liveCount)
	for id := range idx.docLen {
		if _, tombstoned := idx.deleted[id]; !tombstoned {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// IndexStats summarizes index contents.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
	Tombstones    int
}

// Stats returns index statistics.
func (idx *Index) Stats() *IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stats := &IndexStats{
		DocumentCount: idx.liveCount,
		TermCount:     len(idx.postings),
		Tombstones:    len(idx.deleted),
	}
	if idx.liveCount > 0 {
		stats.AvgDocLength = float64(idx.liveLen) / float64(idx.liveCount)
	}
	return stats
}

// indexSnapshot is the gob-encoded persistent form.
type indexSnapshot struct {
	K1       float64
	B        float64
	Postings map[string]map[string]int
	DocLen   map[string]int
	PubAt    map[string]int64
}

// Save writes a compacted snapshot to path atomically (temp file + rename).
func (idx *Index) Save(path string) error {
	idx.Compact()

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".lexical-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	snapshot := indexSnapshot{
		K1:       idx.k1,
		B:        idx.b,
		Postings: idx.postings,
		DocLen:   idx.docLen,
		PubAt:    idx.pubAt,
	}
	if err := gob.NewEncoder(tmp).Encode(&snapshot); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Load replaces index contents from a snapshot at path. A snapshot written
// by a different BM25 parameterization is rejected rather than silently
// producing incomparable scores.
func (idx *Index) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return agerr.NotFound("lexical index snapshot", path)
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	var snapshot indexSnapshot
	if err := gob.NewDecoder(f).Decode(&snapshot); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if snapshot.K1 != idx.k1 || snapshot.B != idx.b {
		return fmt.Errorf("snapshot built with k1=%.2f b=%.2f, index configured with k1=%.2f b=%.2f: rebuild required",
			snapshot.K1, snapshot.B, idx.k1, idx.b)
	}
	if snapshot.Postings == nil {
		snapshot.Postings = make(map[string]map[string]int)
	}
	if snapshot.DocLen == nil {
		snapshot.DocLen = make(map[string]int)
	}
	if snapshot.PubAt == nil {
		snapshot.PubAt = make(map[string]int64)
	}

	idx.postings = snapshot.Postings
	idx.docLen = snapshot.DocLen
	idx.pubAt = snapshot.PubAt
	idx.deleted = make(map[string]struct{})
	idx.liveCount = len(snapshot.DocLen)
	idx.liveLen = 0
	for _, l := range snapshot.DocLen {
		idx.liveLen += int64(l)
	}
	return nil
}

// Close marks the index closed; subsequent operations fail.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.closed = true
	return nil
}
