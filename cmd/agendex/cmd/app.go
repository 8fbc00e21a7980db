package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gofrs/flock"

	"github.com/byraadsarkiv/agendex/internal/config"
	"github.com/byraadsarkiv/agendex/internal/docstore"
	"github.com/byraadsarkiv/agendex/internal/embed"
	"github.com/byraadsarkiv/agendex/internal/lexical"
	"github.com/byraadsarkiv/agendex/internal/logging"
	"github.com/byraadsarkiv/agendex/internal/vector"
)

// app bundles the wired components a command needs, with a single
// Close that tears them down in reverse order.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *docstore.Store
	lex      *lexical.Index
	vec      *vector.Index
	embedder embed.Embedder
	lock     *flock.Flock
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// loadConfig resolves configuration from the --config flag plus the
// persistent overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// openApp loads config, sets up logging, and opens the document
// store. With writer set, the data directory is locked so only one
// writing process runs at a time; readers skip the lock.
func openApp(writer bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &app{cfg: cfg}

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Storage.LogPath(),
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: false,
	}
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	a.log = logger
	a.closers = append(a.closers, logCleanup)

	if writer {
		a.lock = flock.New(cfg.Storage.LockPath())
		locked, err := a.lock.TryLock()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("acquire data dir lock: %w", err)
		}
		if !locked {
			a.Close()
			return nil, fmt.Errorf("another agendex process holds %s", cfg.Storage.LockPath())
		}
		a.closers = append(a.closers, func() { _ = a.lock.Unlock() })
	}

	store, err := docstore.Open(cfg.Storage.DocumentsPath())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open document store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func() { _ = store.Close() })

	return a, nil
}

// openEmbedder builds the configured embedder and remembers its
// dimensionality for the vector index.
func (a *app) openEmbedder() error {
	embedder, err := embed.New(embed.Config{
		Provider:   a.cfg.Embed.Provider,
		Endpoint:   a.cfg.Embed.Endpoint,
		Model:      a.cfg.Embed.Model,
		Dimensions: a.cfg.Vector.Dimensions,
		BatchSize:  a.cfg.Embed.BatchSize,
		Timeout:    a.cfg.Embed.Timeout.Std(),
		CacheSize:  a.cfg.Embed.CacheSize,
	})
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	a.embedder = embedder
	a.closers = append(a.closers, func() { _ = embedder.Close() })
	return nil
}

// vectorConfig resolves the vector index parameters, detecting the
// dimension from the embedder when the config leaves it at zero.
func (a *app) vectorConfig() vector.Config {
	dims := a.cfg.Vector.Dimensions
	if dims == 0 && a.embedder != nil {
		dims = a.embedder.Dimensions()
	}
	return vector.Config{
		Dimensions: dims,
		Metric:     a.cfg.Vector.Metric,
		M:          a.cfg.Vector.M,
		EfSearch:   a.cfg.Vector.EfSearch,
	}
}

// openIndexes loads both index snapshots from disk, or starts empty
// ones when no snapshot exists yet.
func (a *app) openIndexes() error {
	lex := lexical.NewIndex(a.cfg.BM25.K1, a.cfg.BM25.B)
	if _, err := os.Stat(a.cfg.Storage.LexicalPath()); err == nil {
		if err := lex.Load(a.cfg.Storage.LexicalPath()); err != nil {
			return fmt.Errorf("load lexical index: %w", err)
		}
	}
	a.lex = lex

	vec, err := vector.NewIndex(a.vectorConfig())
	if err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	if _, err := os.Stat(a.cfg.Storage.VectorPath()); err == nil {
		if err := vec.Load(a.cfg.Storage.VectorPath()); err != nil {
			return fmt.Errorf("load vector index: %w", err)
		}
	}
	a.vec = vec
	return nil
}

// saveIndexes persists both index snapshots.
func (a *app) saveIndexes() error {
	if err := a.lex.Save(a.cfg.Storage.LexicalPath()); err != nil {
		return fmt.Errorf("save lexical index: %w", err)
	}
	if err := a.vec.Save(a.cfg.Storage.VectorPath()); err != nil {
		return fmt.Errorf("save vector index: %w", err)
	}
	return nil
}
