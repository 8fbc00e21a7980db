package embed

import (
	"fmt"
	"time"
)

// Config selects and configures an embedder.
type Config struct {
	Provider   string // "http" or "static"
	Endpoint   string
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	CacheSize  int
}

// New builds the configured embedder, wrapped in an LRU cache.
func New(cfg Config) (Embedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case "", "http":
		e, err := NewHTTPEmbedder(HTTPConfig{
			Endpoint:   cfg.Endpoint,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create http embedder: %w", err)
		}
		inner = e
	case "static":
		inner = NewStaticEmbedder()
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
