package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	agerr "github.com/byraadsarkiv/agendex/internal/errors"
)

// Config parameterizes the HNSW graph.
type Config struct {
	Dimensions int
	Metric     string // "cos" or "ip"
	M          int
	EfSearch   int
	Oversample int // candidate multiplier when a pre-filter is active
}

// Result is a scored nearest-neighbor hit.
type Result struct {
	ChunkID  string
	Distance float32
	Score    float64
}

// ErrDimensionMismatch reports a vector whose dimensionality does not match
// the index.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Index is an approximate nearest-neighbor index over chunk embeddings,
// backed by a pure Go HNSW graph. Deletion is lazy: the graph node stays
// but loses its id mapping and never surfaces in results.
type Index struct {
	mu     sync.Mutex
	graph  *hnsw.Graph[uint64]
	config Config

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

// indexMetadata is the gob-encoded sidecar holding id mappings.
type indexMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  Config
}

// NewIndex creates an empty vector index.
func NewIndex(cfg Config) (*Index, error) {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.Metric != "cos" && cfg.Metric != "ip" {
		return nil, fmt.Errorf("unsupported metric %q", cfg.Metric)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	if cfg.Oversample == 0 {
		cfg.Oversample = 4
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "cos":
		graph.Distance = hnsw.CosineDistance
	case "ip":
		graph.Distance = innerProductDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &Index{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

// innerProductDistance orders by descending dot product. Negation turns the
// similarity into a distance so the graph's nearest-first traversal holds.
func innerProductDistance(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return -dot
}

// Add inserts embeddings keyed by chunk id. An existing id is replaced
// (lazy delete of the old node plus a fresh insert), so re-adding an
// identical embedding leaves search behavior unchanged.
func (x *Index) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return fmt.Errorf("index is closed")
	}

	for _, v := range vectors {
		if v == nil {
			continue // chunk without an embedding, lexical-only
		}
		if len(v) != x.config.Dimensions {
			return ErrDimensionMismatch{Expected: x.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if vectors[i] == nil {
			continue
		}
		if existingKey, exists := x.idMap[id]; exists {
			delete(x.keyMap, existingKey)
			delete(x.idMap, id)
		}

		key := x.nextKey
		x.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if x.config.Metric == "cos" {
			normalizeInPlace(vec)
		}

		x.graph.Add(hnsw.MakeNode(key, vec))
		x.idMap[id] = key
		x.keyMap[key] = id
	}
	return nil
}

// SearchOptions tunes one search call.
type SearchOptions struct {
	// Effort overrides the configured EfSearch for this call. Larger
	// values trade latency for recall; results only improve, never
	// regress, as Effort grows.
	Effort int

	// Eligible restricts hits to the given chunk ids. Nil means
	// unrestricted.
	Eligible map[string]struct{}
}

// Search returns the k approximate nearest neighbors of query.
// With a pre-filter, the graph is oversampled and widened until k eligible
// hits emerge or the whole graph has been considered, so a selective filter
// cannot starve the result set.
func (x *Index) Search(ctx context.Context, query []float32, k int, opts SearchOptions) ([]*Result, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if len(query) != x.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: x.config.Dimensions, Got: len(query)}
	}
	if x.graph.Len() == 0 || k <= 0 {
		return nil, nil
	}

	prevEf := x.graph.EfSearch
	defer func() { x.graph.EfSearch = prevEf }()
	if opts.Effort > x.graph.EfSearch {
		x.graph.EfSearch = opts.Effort
	}

	q := make([]float32, len(query))
	copy(q, query)
	if x.config.Metric == "cos" {
		normalizeInPlace(q)
	}

	fetch := k
	if opts.Eligible != nil {
		fetch = k * x.config.Oversample
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// The beam must keep pace with the fetch size or widening
		// cannot reach nodes the narrow traversal pruned.
		if fetch > x.graph.EfSearch {
			x.graph.EfSearch = fetch
		}
		nodes := x.graph.Search(q, fetch)

		results := make([]*Result, 0, k)
		for _, node := range nodes {
			id, exists := x.keyMap[node.Key]
			if !exists {
				continue // lazily deleted
			}
			if opts.Eligible != nil {
				if _, ok := opts.Eligible[id]; !ok {
					continue
				}
			}
			distance := x.graph.Distance(q, node.Value)
			results = append(results, &Result{
				ChunkID:  id,
				Distance: distance,
				Score:    distanceToScore(distance, x.config.Metric),
			})
			if len(results) == k {
				break
			}
		}

		if len(results) >= k {
			return results, nil
		}
		if fetch >= x.graph.Len() {
			// The approximate traversal has been given the whole graph
			// and still starves the filter; fall back to an exact scan
			// so an eligible vector can never be missed.
			return x.scanEligible(q, k, opts.Eligible), nil
		}
		fetch *= 2
	}
}

// scanEligible brute-forces the eligible set against the stored vectors.
// It only runs when graph traversal cannot satisfy a selective filter, so
// the candidate set is small by construction.
func (x *Index) scanEligible(q []float32, k int, eligible map[string]struct{}) []*Result {
	var results []*Result
	for id, key := range x.idMap {
		if eligible != nil {
			if _, ok := eligible[id]; !ok {
				continue
			}
		}
		vec, ok := x.graph.Lookup(key)
		if !ok {
			continue
		}
		distance := x.graph.Distance(q, vec)
		results = append(results, &Result{
			ChunkID:  id,
			Distance: distance,
			Score:    distanceToScore(distance, x.config.Metric),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Delete lazily removes chunk ids from the index.
func (x *Index) Delete(ctx context.Context, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return fmt.Errorf("index is closed")
	}

	for _, id := range ids {
		if key, exists := x.idMap[id]; exists {
			delete(x.keyMap, key)
			delete(x.idMap, id)
		}
	}
	return nil
}

// Contains reports whether a chunk id is indexed.
func (x *Index) Contains(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, exists := x.idMap[id]
	return exists
}

// AllIDs returns every live chunk id, for consistency checks.
func (x *Index) AllIDs() []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	ids := make([]string, 0, len(x.idMap))
	for id := range x.idMap {
		ids = append(ids, id)
	}
	return ids
}

// IndexStats describes graph occupancy. Orphans are lazily deleted nodes
// still occupying graph memory; a rebuild reclaims them.
type IndexStats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// Stats returns index statistics.
func (x *Index) Stats() IndexStats {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return IndexStats{}
	}
	return IndexStats{
		ValidIDs:   len(x.idMap),
		GraphNodes: x.graph.Len(),
		Orphans:    x.graph.Len() - len(x.idMap),
	}
}

// Save persists the graph and its id mappings atomically.
func (x *Index) Save(path string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return fmt.Errorf("index is closed")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := x.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	if err := x.saveMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

func (x *Index) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := indexMetadata{
		IDMap:   x.idMap,
		NextKey: x.nextKey,
		Config:  x.config,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load replaces index contents from disk. The metadata sidecar loads first
// so a dimensionality or metric change is caught before the graph import.
func (x *Index) Load(path string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return fmt.Errorf("index is closed")
	}

	if err := x.loadMetadata(path + ".meta"); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return agerr.NotFound("vector index snapshot", path)
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := x.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (x *Index) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return agerr.NotFound("vector index metadata", path)
		}
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("metadata_close_failed", slog.String("error", err.Error()))
		}
	}()

	var meta indexMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	if meta.Config.Dimensions != x.config.Dimensions || meta.Config.Metric != x.config.Metric {
		return fmt.Errorf("snapshot is %s/%dd, index configured as %s/%dd: rebuild required",
			meta.Config.Metric, meta.Config.Dimensions, x.config.Metric, x.config.Dimensions)
	}

	x.idMap = meta.IDMap
	x.nextKey = meta.NextKey
	x.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range x.idMap {
		x.keyMap[key] = id
	}
	return nil
}

// Close releases the graph.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	x.graph = nil
	return nil
}

// normalizeInPlace scales v to unit length.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore converts graph distance into a similarity in a fixed
// orientation (higher is better) for fusion.
func distanceToScore(distance float32, metric string) float64 {
	switch metric {
	case "ip":
		return float64(-distance) // distance is the negated dot product
	default:
		// Cosine distance spans [0, 2]; map onto [0, 1].
		return float64(1.0 - distance/2.0)
	}
}
