package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1.2, cfg.BM25.K1)
	assert.Equal(t, 0.75, cfg.BM25.B)
	assert.Equal(t, "weighted", cfg.Fusion.Strategy)
	assert.Equal(t, "cos", cfg.Vector.Metric)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Fusion.Alpha, cfg.Fusion.Alpha)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agendex.yaml")
	yaml := `
bm25:
  k1: 1.5
  b: 0.5
fusion:
  alpha: 0.8
ingest:
  workers: 8
  schedule: "*/15 * * * *"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1.5, cfg.BM25.K1)
	assert.Equal(t, 0.5, cfg.BM25.B)
	assert.Equal(t, 0.8, cfg.Fusion.Alpha)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Equal(t, "*/15 * * * *", cfg.Ingest.Schedule)

	// Untouched sections keep defaults.
	assert.Equal(t, "weighted", cfg.Fusion.Strategy)
	assert.Equal(t, 30*time.Second, cfg.Source.Timeout.Std())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGENDEX_DATA_DIR", "/var/lib/agendex")
	t.Setenv("AGENDEX_FUSION_ALPHA", "0.25")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/agendex", cfg.Storage.DataDir)
	assert.Equal(t, 0.25, cfg.Fusion.Alpha)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"alpha above one", func(c *Config) { c.Fusion.Alpha = 1.5 }},
		{"negative k1", func(c *Config) { c.BM25.K1 = -1 }},
		{"b above one", func(c *Config) { c.BM25.B = 1.2 }},
		{"unknown strategy", func(c *Config) { c.Fusion.Strategy = "borda" }},
		{"unknown normalization", func(c *Config) { c.Fusion.Normalization = "softmax" }},
		{"unknown metric", func(c *Config) { c.Vector.Metric = "l2" }},
		{"overlap ge size", func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize }},
		{"zero workers", func(c *Config) { c.Ingest.Workers = 0 }},
		{"malformed cron schedule", func(c *Config) { c.Ingest.Schedule = "every 15 minutes" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndReload_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agendex.yaml")

	cfg := Default()
	cfg.Fusion.Alpha = 0.33
	cfg.Source.BaseURL = "https://agenda.example.dk/api"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.33, loaded.Fusion.Alpha)
	assert.Equal(t, "https://agenda.example.dk/api", loaded.Source.BaseURL)
}

func TestStoragePaths(t *testing.T) {
	s := StorageConfig{DataDir: "/data"}
	assert.Equal(t, "/data/documents.db", s.DocumentsPath())
	assert.Equal(t, "/data/lexical.idx", s.LexicalPath())
	assert.Equal(t, "/data/vectors.hnsw", s.VectorPath())
}
