package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byraadsarkiv/agendex/internal/config"
)

// execute runs the CLI with args and captures stdout. The global
// flag state is reset so tests do not leak flags into each other.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, dataDir, logLevel = "", "", ""
	profileCPU, profileMem = "", ""

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommandWiring(t *testing.T) {
	// Given the root command
	cmd := NewRootCmd()

	// Then every operation is registered as a subcommand
	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"init", "ingest", "search", "rebuild", "status", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestInitWritesConfig(t *testing.T) {
	// Given an empty directory
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "agendex.yaml")

	// When running init
	out, err := execute(t, "init", cfgPath, "--data-dir", filepath.Join(dir, "data"))
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	// Then the config file and data dir exist
	_, err = os.Stat(cfgPath)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "data"))
	require.NoError(t, err)

	// And a second init without --force refuses to overwrite
	_, err = execute(t, "init", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	// But --force overwrites
	_, err = execute(t, "init", cfgPath, "--force")
	require.NoError(t, err)
}

func TestInitTemplateIsLoadable(t *testing.T) {
	// Given init without overrides, which writes the annotated template
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	cfgPath := filepath.Join(dir, "agendex.yaml")
	_, err := execute(t, "init", cfgPath)
	require.NoError(t, err)

	// Then the generated file round-trips through the loader
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, ".agendex", cfg.Storage.DataDir)
	assert.InDelta(t, 0.4, cfg.Fusion.Alpha, 1e-9)
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info["version"])
	assert.NotEmpty(t, info["go_version"])
}

func TestStatusOnEmptyStore(t *testing.T) {
	// Given a fresh data directory
	dir := t.TempDir()

	// When asking for status
	out, err := execute(t, "status", "--data-dir", dir)
	require.NoError(t, err)

	// Then counts are zero and no cursor is committed
	assert.Contains(t, out, "0 open, 0 superseded")
	assert.Contains(t, out, "no ingest run yet")
	assert.Contains(t, out, "Failed:         none")
}

func TestSearchOnEmptyStore(t *testing.T) {
	// Given a fresh data directory
	dir := t.TempDir()

	// When searching
	out, err := execute(t, "search", "lokalplan", "--data-dir", dir)
	require.NoError(t, err)

	// Then the query succeeds with no results
	assert.Contains(t, out, "No results.")
}

func TestRebuildCheckOnEmptyStore(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "rebuild", "--check", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "consistent")
}

func TestIngestRequiresSourceURL(t *testing.T) {
	// Given a config without a feed URL
	dir := t.TempDir()

	// When running ingest
	_, err := execute(t, "ingest", "--data-dir", dir)

	// Then it fails with a pointer to the config
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.base_url")
}

func TestBuildFilterTagParsing(t *testing.T) {
	// Given tag flags in name=value form
	filter, err := buildFilter(searchOptions{
		tags: []string{"decision=approved", "enrich.party=Venstre"},
	})
	require.NoError(t, err)

	// Then bare names get the enrichment namespace prefix
	assert.Equal(t, []string{"approved"}, filter.Tags["enrich.decision"])
	assert.Equal(t, []string{"Venstre"}, filter.Tags["enrich.party"])

	// And malformed tags are rejected
	_, err = buildFilter(searchOptions{tags: []string{"nonsense"}})
	require.Error(t, err)
}
