package docstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agerr "github.com/byraadsarkiv/agendex/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "documents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDocument(id string, version int64) *Document {
	return &Document{
		ID:          id,
		Version:     version,
		SourceType:  SourceTypeAgenda,
		Committee:   "Teknisk Udvalg",
		CaseNumber:  "SAG-2024-00311",
		Title:       "Lokalplan for havneområdet",
		PublishedAt: time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC),
		Text:        "Udvalget behandler forslag til lokalplan for havneområdet.",
	}
}

func testChunks(doc *Document, n int) []*Chunk {
	chunks := make([]*Chunk, n)
	for i := range chunks {
		text := doc.Text
		chunks[i] = &Chunk{
			ID:          NewChunkID(doc.ID, doc.Version, i),
			DocumentID:  doc.ID,
			Version:     doc.Version,
			Seq:         i,
			StartOffset: i * 100,
			EndOffset:   i*100 + len(text),
			Text:        text,
			ContentHash: HashContent(text),
		}
	}
	return chunks
}

func TestPutDocument_IdempotentReingest(t *testing.T) {
	// Given a stored document
	s := newTestStore(t)
	ctx := context.Background()
	doc := testDocument("doc-1", 1)
	require.NoError(t, s.PutDocument(ctx, doc))

	before, err := s.GetStats(ctx)
	require.NoError(t, err)

	// When the same version is ingested again
	require.NoError(t, s.PutDocument(ctx, doc))

	// Then nothing changes, including the change feed
	after, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.ChangeSeq, after.ChangeSeq)
	assert.Equal(t, 1, after.OpenDocuments)
}

func TestPutDocument_SupersedesOlderVersion(t *testing.T) {
	// Given a document at v1
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutDocument(ctx, testDocument("doc-1", 1)))

	// When v2 arrives
	require.NoError(t, s.PutDocument(ctx, testDocument("doc-1", 2)))

	// Then v2 is current and v1 is superseded but retrievable
	current, err := s.GetCurrent(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), current.Version)

	old, err := s.GetDocument(ctx, "doc-1", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusSuperseded, old.Status)
}

func TestPutDocument_RejectsStaleVersion(t *testing.T) {
	// Given a document already at v2
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutDocument(ctx, testDocument("doc-1", 2)))

	// When v1 arrives late
	err := s.PutDocument(ctx, testDocument("doc-1", 1))

	// Then the write fails with a conflict and v2 stays current
	require.Error(t, err)
	assert.ErrorIs(t, err, agerr.ErrConflict)

	current, err := s.GetCurrent(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), current.Version)
}

func TestPutDocument_AtMostOneOpenVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for v := int64(1); v <= 5; v++ {
		require.NoError(t, s.PutDocument(ctx, testDocument("doc-1", v)))
	}

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.OpenDocuments)
	assert.Equal(t, 4, stats.SupersededDocuments)
}

func TestGetCurrent_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetCurrent(context.Background(), "missing")
	assert.ErrorIs(t, err, agerr.ErrNotFound)
}

func TestListChangedSince_CursorResumes(t *testing.T) {
	// Given three documents ingested in order
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"doc-a", "doc-b", "doc-c"} {
		require.NoError(t, s.PutDocument(ctx, testDocument(id, 1)))
	}

	// When reading the feed in pages of two
	page1, cursor, err := s.ListChangedSince(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "doc-a", page1[0].ID)
	assert.Equal(t, "doc-b", page1[1].ID)

	page2, cursor2, err := s.ListChangedSince(ctx, cursor, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "doc-c", page2[0].ID)

	// Then the final cursor yields an empty page (nothing lost, nothing twice)
	page3, _, err := s.ListChangedSince(ctx, cursor2, 2)
	require.NoError(t, err)
	assert.Empty(t, page3)
}

func TestListChangedSince_CollapsesMultipleChanges(t *testing.T) {
	// Given a document updated twice since the cursor
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutDocument(ctx, testDocument("doc-1", 1)))
	require.NoError(t, s.PutDocument(ctx, testDocument("doc-1", 2)))

	// When reading the feed from the start
	docs, _, err := s.ListChangedSince(ctx, "", 10)
	require.NoError(t, err)

	// Then the document appears once, at its latest version
	require.Len(t, docs, 1)
	assert.Equal(t, int64(2), docs[0].Version)
}

func TestListChangedSince_InvalidCursor(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.ListChangedSince(context.Background(), "not-a-cursor", 10)
	assert.Error(t, err)
}

func TestSaveChunks_WritesAuthoritativeFacets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := testDocument("doc-1", 1)
	require.NoError(t, s.PutDocument(ctx, doc))

	chunks := testChunks(doc, 2)
	require.NoError(t, s.SaveChunks(ctx, doc, chunks))

	facets, err := s.GetFacets(ctx, chunks[0].ID)
	require.NoError(t, err)

	byName := make(map[string]Facet)
	for _, f := range facets {
		byName[f.Name] = f
	}
	assert.Equal(t, "Teknisk Udvalg", byName[FacetCommittee].Value)
	assert.Equal(t, "SAG-2024-00311", byName[FacetCaseNumber].Value)
	assert.Equal(t, "agenda", byName[FacetSourceType].Value)
	assert.Equal(t, "2024-03-12", byName[FacetDate].Value)
	for _, f := range byName {
		assert.Equal(t, FacetSourceAuthoritative, f.Source)
		assert.Equal(t, 1.0, f.Confidence)
	}
}

func TestSaveChunks_ReplaceIsAtomicPerVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := testDocument("doc-1", 1)
	require.NoError(t, s.PutDocument(ctx, doc))
	require.NoError(t, s.SaveChunks(ctx, doc, testChunks(doc, 3)))

	// Re-chunking the same version leaves exactly the new set.
	require.NoError(t, s.SaveChunks(ctx, doc, testChunks(doc, 2)))

	got, err := s.GetChunksByDocument(ctx, doc.ID, doc.Version)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestEmbeddings_RoundTripAndHashLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := testDocument("doc-1", 1)
	require.NoError(t, s.PutDocument(ctx, doc))
	chunks := testChunks(doc, 1)
	require.NoError(t, s.SaveChunks(ctx, doc, chunks))

	vec := []float32{0.1, -0.5, 0.25, 1.0}
	require.NoError(t, s.SaveEmbedding(ctx, chunks[0].ID, vec, "bge-m3"))

	// Identical content in a later version can reuse the stored vector.
	found, model, err := s.FindEmbeddingByHash(ctx, chunks[0].ContentHash)
	require.NoError(t, err)
	assert.Equal(t, vec, found)
	assert.Equal(t, "bge-m3", model)

	_, _, err = s.FindEmbeddingByHash(ctx, "deadbeef")
	assert.ErrorIs(t, err, agerr.ErrNotFound)
}

func TestResolveFilter_FacetAndSupersededSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tekV1 := testDocument("doc-tek", 1)
	require.NoError(t, s.PutDocument(ctx, tekV1))
	require.NoError(t, s.SaveChunks(ctx, tekV1, testChunks(tekV1, 1)))

	tekV2 := testDocument("doc-tek", 2)
	require.NoError(t, s.PutDocument(ctx, tekV2))
	require.NoError(t, s.SaveChunks(ctx, tekV2, testChunks(tekV2, 1)))

	kultur := testDocument("doc-kultur", 1)
	kultur.Committee = "Kulturudvalget"
	require.NoError(t, s.PutDocument(ctx, kultur))
	require.NoError(t, s.SaveChunks(ctx, kultur, testChunks(kultur, 1)))

	// Default visibility: only open versions.
	eligible, err := s.ResolveFilter(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, eligible, 2)
	assert.NotContains(t, eligible, NewChunkID("doc-tek", 1, 0))
	assert.Contains(t, eligible, NewChunkID("doc-tek", 2, 0))

	// Committee filter narrows to matching documents only.
	eligible, err = s.ResolveFilter(ctx, Filter{Committees: []string{"Kulturudvalget"}})
	require.NoError(t, err)
	assert.Len(t, eligible, 1)
	assert.Contains(t, eligible, NewChunkID("doc-kultur", 1, 0))

	// IncludeSuperseded widens to retired versions.
	eligible, err = s.ResolveFilter(ctx, Filter{IncludeSuperseded: true})
	require.NoError(t, err)
	assert.Len(t, eligible, 3)
	assert.Contains(t, eligible, NewChunkID("doc-tek", 1, 0))
}

func TestResolveFilter_EnrichmentTagsRequireUnflagged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := testDocument("doc-1", 1)
	require.NoError(t, s.PutDocument(ctx, doc))
	chunks := testChunks(doc, 2)
	require.NoError(t, s.SaveChunks(ctx, doc, chunks))

	require.NoError(t, s.SaveEnrichmentFacets(ctx, chunks[0].ID, []Facet{
		{Name: "topic", Value: "byplan", Confidence: 0.92, Source: FacetSourceEnrichment},
	}))
	require.NoError(t, s.SaveEnrichmentFacets(ctx, chunks[1].ID, []Facet{
		{Name: "topic", Value: "byplan", Confidence: 0.41, Source: FacetSourceEnrichment, Flagged: true},
	}))

	eligible, err := s.ResolveFilter(ctx, Filter{
		Tags: map[string][]string{"topic": {"byplan"}},
	})
	require.NoError(t, err)
	assert.Len(t, eligible, 1)
	assert.Contains(t, eligible, chunks[0].ID)
}

func TestMarkDeleted_ExcludesFromEveryFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := testDocument("doc-1", 1)
	require.NoError(t, s.PutDocument(ctx, doc))
	require.NoError(t, s.SaveChunks(ctx, doc, testChunks(doc, 1)))

	require.NoError(t, s.MarkDeleted(ctx, "doc-1"))

	eligible, err := s.ResolveFilter(ctx, Filter{IncludeSuperseded: true})
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

func TestPurgeDocument_RemovesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := testDocument("doc-1", 1)
	require.NoError(t, s.PutDocument(ctx, doc))
	chunks := testChunks(doc, 2)
	require.NoError(t, s.SaveChunks(ctx, doc, chunks))

	removed, err := s.PurgeDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	_, err = s.GetCurrent(ctx, "doc-1")
	assert.ErrorIs(t, err, agerr.ErrNotFound)

	ids, err := s.AllChunkIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPipelineState_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePipelineState(ctx, &PipelineState{
		DocumentID: "doc-1",
		Version:    3,
		Stage:      StageEmbedded,
		Attempts:   2,
	}))

	st, err := s.GetPipelineState(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Version)
	assert.Equal(t, StageEmbedded, st.Stage)
	assert.Equal(t, 2, st.Attempts)

	require.NoError(t, s.SavePipelineState(ctx, &PipelineState{
		DocumentID: "doc-1",
		Stage:      StageFailed,
		Attempts:   4,
		LastError:  "embedding provider unreachable",
	}))

	failed, err := s.FailedDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "doc-1", failed[0].DocumentID)
}

func TestState_KeyValueRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetState(ctx, "ingest_cursor")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetState(ctx, "ingest_cursor", "42"))
	v, err = s.GetState(ctx, "ingest_cursor")
	require.NoError(t, err)
	assert.Equal(t, "42", v)
}

func TestVectorCodec_RoundTrip(t *testing.T) {
	vec := []float32{0, 1, -1, 3.5, -0.001}
	assert.Equal(t, vec, decodeVector(encodeVector(vec)))
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "documents.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.PutDocument(context.Background(), testDocument("doc-1", 1)))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	doc, err := s2.GetCurrent(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Lokalplan for havneområdet", doc.Title)
}
