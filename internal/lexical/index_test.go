package lexical

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzer_LowercasesAndDropsStopWords(t *testing.T) {
	a := NewAnalyzer()

	terms := a.Tokens("Byrådet behandler forslaget om en ny skole i Risskov")

	assert.Equal(t, []string{"byrådet", "behandler", "forslaget", "ny", "skole", "risskov"}, terms)
}

func TestAnalyzer_KeepsDomainVocabulary(t *testing.T) {
	a := NewAnalyzer()

	terms := a.Tokens("Teknisk Udvalg, sag SAG-2024-00311")

	assert.Contains(t, terms, "udvalg")
	assert.Contains(t, terms, "sag")
}

func docsFixture() []*Doc {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	return []*Doc{
		{ChunkID: "chunk-a", Text: "lokalplan for havneområdet med nye boliger", PublishedAt: base},
		{ChunkID: "chunk-b", Text: "budget for skoler og daginstitutioner", PublishedAt: base + 100},
		{ChunkID: "chunk-c", Text: "lokalplan lokalplan ændring af lokalplan for midtbyen", PublishedAt: base + 200},
	}
}

func TestSearch_ScoresByBM25(t *testing.T) {
	// Given an index with one chunk that repeats the query term
	idx := NewIndex(1.2, 0.75)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, docsFixture()))

	// When searching for that term
	results, err := idx.Search(ctx, "lokalplan", 10, nil)
	require.NoError(t, err)

	// Then both matching chunks return, higher term frequency first
	require.Len(t, results, 2)
	assert.Equal(t, "chunk-c", results[0].ChunkID)
	assert.Equal(t, "chunk-a", results[1].ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Contains(t, results[0].MatchedTerms, "lokalplan")
}

func TestSearch_EmptyQueryReturnsNothing(t *testing.T) {
	idx := NewIndex(1.2, 0.75)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, docsFixture()))

	for _, q := range []string{"", "   ", "og i at"} { // all stop words
		results, err := idx.Search(ctx, q, 10, nil)
		require.NoError(t, err)
		assert.Empty(t, results, "query %q", q)
	}
}

func TestSearch_EligibleSetIsHardFilter(t *testing.T) {
	idx := NewIndex(1.2, 0.75)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, docsFixture()))

	eligible := map[string]struct{}{"chunk-a": {}}
	results, err := idx.Search(ctx, "lokalplan", 10, eligible)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "chunk-a", results[0].ChunkID)
}

func TestSearch_TieBreaksOnDateThenID(t *testing.T) {
	// Given two chunks with identical text but different publish dates
	idx := NewIndex(1.2, 0.75)
	ctx := context.Background()
	old := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC).Unix()
	recent := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).Unix()
	require.NoError(t, idx.Index(ctx, []*Doc{
		{ChunkID: "chunk-z", Text: "vedtagelse af klimaplan", PublishedAt: old},
		{ChunkID: "chunk-a", Text: "vedtagelse af klimaplan", PublishedAt: recent},
		{ChunkID: "chunk-m", Text: "vedtagelse af klimaplan", PublishedAt: old},
	}))

	results, err := idx.Search(ctx, "klimaplan", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Newest first; equal dates order by chunk id ascending.
	assert.Equal(t, "chunk-a", results[0].ChunkID)
	assert.Equal(t, "chunk-m", results[1].ChunkID)
	assert.Equal(t, "chunk-z", results[2].ChunkID)
}

func TestIndex_ReindexIsIdempotent(t *testing.T) {
	idx := NewIndex(1.2, 0.75)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, docsFixture()))

	before, err := idx.Search(ctx, "lokalplan havneområdet", 10, nil)
	require.NoError(t, err)

	// Indexing the identical docs again must not change scores or counts.
	require.NoError(t, idx.Index(ctx, docsFixture()))

	after, err := idx.Search(ctx, "lokalplan havneområdet", 10, nil)
	require.NoError(t, err)
	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].ChunkID, after[i].ChunkID)
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-12)
	}
	assert.Equal(t, 3, idx.Stats().DocumentCount)
}

func TestDelete_TombstonesUntilCompact(t *testing.T) {
	idx := NewIndex(1.2, 0.75)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, docsFixture()))

	require.NoError(t, idx.Delete(ctx, []string{"chunk-c"}))

	// Tombstoned chunk disappears from results and stats immediately.
	results, err := idx.Search(ctx, "lokalplan", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chunk-a", results[0].ChunkID)
	assert.Equal(t, 2, idx.Stats().DocumentCount)
	assert.Equal(t, 1, idx.Stats().Tombstones)

	idx.Compact()
	assert.Equal(t, 0, idx.Stats().Tombstones)
	assert.NotContains(t, idx.AllIDs(), "chunk-c")
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lexical.idx")
	ctx := context.Background()

	idx := NewIndex(1.2, 0.75)
	require.NoError(t, idx.Index(ctx, docsFixture()))
	want, err := idx.Search(ctx, "lokalplan", 10, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Save(path))

	loaded := NewIndex(1.2, 0.75)
	require.NoError(t, loaded.Load(path))

	got, err := loaded.Search(ctx, "lokalplan", 10, nil)
	require.NoError(t, err)
	require.Equal(t, len(want), len(got))
	for i := range want {
		assert.Equal(t, want[i].ChunkID, got[i].ChunkID)
		assert.InDelta(t, want[i].Score, got[i].Score, 1e-12)
	}
}

func TestLoad_RejectsMismatchedParameters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lexical.idx")

	idx := NewIndex(1.2, 0.75)
	require.NoError(t, idx.Index(context.Background(), docsFixture()))
	require.NoError(t, idx.Save(path))

	other := NewIndex(2.0, 0.5)
	err := other.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rebuild required")
}
