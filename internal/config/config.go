// Package config loads and validates agendex configuration.
//
// Precedence, lowest to highest:
//  1. Built-in defaults
//  2. YAML config file (agendex.yaml)
//  3. Environment variables (AGENDEX_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes YAML in the
// human form ("30s", "2m") instead of integer nanoseconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler, accepting both "30s"
// strings and raw nanosecond integers.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := node.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration value on line %d", node.Line)
	}
	*d = Duration(ns)
	return nil
}

// Config is the complete agendex configuration.
type Config struct {
	Source  SourceConfig  `yaml:"source" json:"source"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	BM25    BM25Config    `yaml:"bm25" json:"bm25"`
	Vector  VectorConfig  `yaml:"vector" json:"vector"`
	Fusion  FusionConfig  `yaml:"fusion" json:"fusion"`
	Ingest  IngestConfig  `yaml:"ingest" json:"ingest"`
	Embed   EmbedConfig   `yaml:"embed" json:"embed"`
	Enrich  EnrichConfig  `yaml:"enrich" json:"enrich"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// SourceConfig configures the external publication API.
type SourceConfig struct {
	// BaseURL is the root of the publication API change feed.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// PageSize is the number of feed items requested per page.
	PageSize int `yaml:"page_size" json:"page_size"`

	// RequestsPerSecond rate-limits outbound fetches.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`

	// Timeout bounds a single feed or attachment request.
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

// StorageConfig configures on-disk layout.
type StorageConfig struct {
	// DataDir is the root directory for all persisted state.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// DocumentsPath returns the SQLite document store path.
func (s StorageConfig) DocumentsPath() string {
	return filepath.Join(s.DataDir, "documents.db")
}

// LexicalPath returns the lexical index snapshot path.
func (s StorageConfig) LexicalPath() string {
	return filepath.Join(s.DataDir, "lexical.idx")
}

// VectorPath returns the vector index path.
func (s StorageConfig) VectorPath() string {
	return filepath.Join(s.DataDir, "vectors.hnsw")
}

// LockPath returns the data-dir writer lock path.
func (s StorageConfig) LockPath() string {
	return filepath.Join(s.DataDir, "agendex.lock")
}

// LogPath returns the default log file path.
func (s StorageConfig) LogPath() string {
	return filepath.Join(s.DataDir, "logs", "agendex.log")
}

// BM25Config configures lexical scoring.
type BM25Config struct {
	// K1 is the term-frequency saturation parameter.
	K1 float64 `yaml:"k1" json:"k1"`

	// B is the length-normalization strength.
	B float64 `yaml:"b" json:"b"`
}

// VectorConfig configures the ANN index.
type VectorConfig struct {
	// Dimensions is the embedding dimension. Zero means detect from the
	// embedder on first use.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// Metric is the similarity metric: "cos" (cosine) or "ip" (inner product).
	Metric string `yaml:"metric" json:"metric"`

	// M is the HNSW max connections per layer.
	M int `yaml:"m" json:"m"`

	// EfSearch is the query-time search effort knob. Higher values trade
	// latency for recall; recall never decreases as this grows.
	EfSearch int `yaml:"ef_search" json:"ef_search"`
}

// FusionConfig configures hybrid result fusion.
type FusionConfig struct {
	// Strategy selects the fusion algorithm: "weighted" (default) or "rrf".
	Strategy string `yaml:"strategy" json:"strategy"`

	// Alpha is the lexical weight for weighted fusion:
	// score = alpha*bm25_norm + (1-alpha)*ann_norm. Range [0,1].
	Alpha float64 `yaml:"alpha" json:"alpha"`

	// Normalization scales raw signal scores before interpolation:
	// "minmax" (default) or "zscore".
	Normalization string `yaml:"normalization" json:"normalization"`

	// RRFConstant is the smoothing constant for the "rrf" strategy.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// Oversample multiplies k for each retrieval path's candidate pool.
	Oversample int `yaml:"oversample" json:"oversample"`

	// PathTimeout bounds each retrieval path; a path that exceeds it is
	// dropped and the response is flagged partial.
	PathTimeout Duration `yaml:"path_timeout" json:"path_timeout"`

	// DefaultLimit is the default result count.
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`

	// MaxLimit is the maximum allowed result count.
	MaxLimit int `yaml:"max_limit" json:"max_limit"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	// Workers bounds pipeline concurrency.
	Workers int `yaml:"workers" json:"workers"`

	// BatchSize is the number of feed items pulled per cursor batch.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// RetryInitialDelay is the first backoff delay.
	RetryInitialDelay Duration `yaml:"retry_initial_delay" json:"retry_initial_delay"`

	// RetryMaxDelay caps the backoff delay.
	RetryMaxDelay Duration `yaml:"retry_max_delay" json:"retry_max_delay"`

	// ChunkSize is the target chunk length in characters.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`

	// ChunkOverlap is the overlap between consecutive chunks in characters.
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`

	// Schedule is an optional cron expression for recurring incremental
	// ingestion (e.g. "*/15 * * * *"). Empty means one-shot.
	Schedule string `yaml:"schedule" json:"schedule"`
}

// EmbedConfig configures the embedding provider.
type EmbedConfig struct {
	// Provider selects the embedder: "http" or "static".
	Provider string `yaml:"provider" json:"provider"`

	// Endpoint is the HTTP embedding service URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Model is the embedding model name.
	Model string `yaml:"model" json:"model"`

	// BatchSize bounds texts per embedding request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// Timeout bounds a single embedding request.
	Timeout Duration `yaml:"timeout" json:"timeout"`

	// CacheSize is the query-embedding LRU cache capacity.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// EnrichConfig configures the enrichment engine.
type EnrichConfig struct {
	// ConfidenceThreshold is the minimum confidence for an enrichment facet
	// to become usable in hard filtering. Lower-confidence facets are stored
	// but flagged.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			PageSize:          100,
			RequestsPerSecond: 2,
			Timeout:           Duration(30 * time.Second),
		},
		Storage: StorageConfig{
			DataDir: ".agendex",
		},
		BM25: BM25Config{
			K1: 1.2,
			B:  0.75,
		},
		Vector: VectorConfig{
			Metric:   "cos",
			M:        16,
			EfSearch: 64,
		},
		Fusion: FusionConfig{
			Strategy:      "weighted",
			Alpha:         0.4,
			Normalization: "minmax",
			RRFConstant:   60,
			Oversample:    4,
			PathTimeout:   Duration(2 * time.Second),
			DefaultLimit:  8,
			MaxLimit:      100,
		},
		Ingest: IngestConfig{
			Workers:           4,
			BatchSize:         50,
			MaxRetries:        3,
			RetryInitialDelay: Duration(time.Second),
			RetryMaxDelay:     Duration(16 * time.Second),
			ChunkSize:         1200,
			ChunkOverlap:      200,
		},
		Embed: EmbedConfig{
			Provider:  "http",
			Endpoint:  "http://localhost:8091",
			Model:     "bge-m3",
			BatchSize: 32,
			Timeout:   Duration(60 * time.Second),
			CacheSize: 1000,
		},
		Enrich: EnrichConfig{
			ConfidenceThreshold: 0.7,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// Load reads configuration from path (optional) and applies environment
// overrides. An empty path uses defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies AGENDEX_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENDEX_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("AGENDEX_SOURCE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}
	if v := os.Getenv("AGENDEX_EMBED_ENDPOINT"); v != "" {
		cfg.Embed.Endpoint = v
	}
	if v := os.Getenv("AGENDEX_FUSION_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Fusion.Alpha = f
		}
	}
	if v := os.Getenv("AGENDEX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.BM25.K1 <= 0 {
		return fmt.Errorf("bm25.k1 must be positive, got %v", c.BM25.K1)
	}
	if c.BM25.B < 0 || c.BM25.B > 1 {
		return fmt.Errorf("bm25.b must be in [0,1], got %v", c.BM25.B)
	}
	if c.Fusion.Alpha < 0 || c.Fusion.Alpha > 1 {
		return fmt.Errorf("fusion.alpha must be in [0,1], got %v", c.Fusion.Alpha)
	}
	switch c.Fusion.Strategy {
	case "weighted", "rrf":
	default:
		return fmt.Errorf("fusion.strategy must be \"weighted\" or \"rrf\", got %q", c.Fusion.Strategy)
	}
	switch c.Fusion.Normalization {
	case "minmax", "zscore":
	default:
		return fmt.Errorf("fusion.normalization must be \"minmax\" or \"zscore\", got %q", c.Fusion.Normalization)
	}
	switch c.Vector.Metric {
	case "cos", "ip":
	default:
		return fmt.Errorf("vector.metric must be \"cos\" or \"ip\", got %q", c.Vector.Metric)
	}
	if c.Fusion.Oversample < 1 {
		return fmt.Errorf("fusion.oversample must be >= 1, got %d", c.Fusion.Oversample)
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers must be >= 1, got %d", c.Ingest.Workers)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be below chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.Enrich.ConfidenceThreshold < 0 || c.Enrich.ConfidenceThreshold > 1 {
		return fmt.Errorf("enrich.confidence_threshold must be in [0,1], got %v",
			c.Enrich.ConfidenceThreshold)
	}
	if c.Ingest.Schedule != "" {
		if _, err := cron.ParseStandard(c.Ingest.Schedule); err != nil {
			return fmt.Errorf("ingest.schedule %q is not a valid cron expression: %w", c.Ingest.Schedule, err)
		}
	}
	return nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
