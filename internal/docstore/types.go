// Package docstore is the durable, versioned record of ingested council
// documents and their chunks. It is the source of truth: both the lexical
// and the vector index are derived caches rebuildable from this store.
package docstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SourceType classifies a council document.
type SourceType string

const (
	SourceTypeAgenda     SourceType = "agenda"
	SourceTypeMinutes    SourceType = "minutes"
	SourceTypeAttachment SourceType = "attachment"
)

// Status is the lifecycle state of a document version.
type Status string

const (
	// StatusOpen marks the single current version of a document.
	StatusOpen Status = "open"
	// StatusSuperseded marks prior versions retained for audit.
	StatusSuperseded Status = "superseded"
	// StatusDeleted marks versions retired by the source.
	StatusDeleted Status = "deleted"
)

// Stage is a checkpoint in the ingestion state machine. A crashed pipeline
// resumes each document from its last completed stage.
type Stage string

const (
	StageFetched    Stage = "fetched"
	StageNormalized Stage = "normalized"
	StageChunked    Stage = "chunked"
	StageEmbedded   Stage = "embedded"
	StageIndexed    Stage = "indexed"
	StageEnriched   Stage = "enriched"
	StageFailed     Stage = "failed"
)

// Terminal reports whether the stage ends pipeline processing for a document.
func (s Stage) Terminal() bool {
	return s == StageEnriched || s == StageFailed
}

// stageOrder positions each stage in the pipeline. StageFailed carries no
// progress, so it sorts before everything.
var stageOrder = map[Stage]int{
	StageFetched:    1,
	StageNormalized: 2,
	StageChunked:    3,
	StageEmbedded:   4,
	StageIndexed:    5,
	StageEnriched:   6,
}

// AtLeast reports whether the stage has progressed to other or beyond.
// A resuming pipeline skips the stages a checkpoint already covers.
func (s Stage) AtLeast(other Stage) bool {
	return stageOrder[s] >= stageOrder[other]
}

// Facet names with a closed vocabulary. Case number and date stay free-form.
const (
	FacetCommittee  = "committee"
	FacetSourceType = "source_type"
	FacetCaseNumber = "case_number"
	FacetDate       = "date"
)

// FacetSource distinguishes authoritative facets (from the publication API)
// from best-effort enrichment facets.
type FacetSource string

const (
	FacetSourceAuthoritative FacetSource = "authoritative"
	FacetSourceEnrichment    FacetSource = "enrichment"
)

// Document is one version of an ingested council document.
type Document struct {
	ID          string     // stable external case/item identifier
	Version     int64      // monotonically increasing per external update
	SourceType  SourceType // agenda, minutes, attachment
	Committee   string     // normalized committee name
	CaseNumber  string     // e.g. "SAG-2024-12345"
	Title       string
	PublishedAt time.Time
	Status      Status
	Text        string // normalized full text (inline or OCR-derived)
	CreatedAt   time.Time
}

// Chunk is a contiguous text span of a document version.
type Chunk struct {
	ID          string // deterministic: derived from document id, version, position
	DocumentID  string
	Version     int64
	Seq         int // position within the document, 0-based
	StartOffset int
	EndOffset   int
	Text        string
	ContentHash string    // SHA-256 of Text; embeddings are keyed off this
	Embedding   []float32 // nil until computed
	EmbedModel  string    // model that produced Embedding
}

// NewChunkID derives the deterministic chunk id so re-ingesting an identical
// version produces identical ids (idempotent indexing).
func NewChunkID(documentID string, version int64, seq int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", documentID, version, seq)))
	return hex.EncodeToString(h[:16])
}

// HashContent returns the content hash used to skip redundant embedding calls.
func HashContent(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// Facet is one structured filter value attached to a chunk.
type Facet struct {
	Name       string
	Value      string
	Confidence float64 // 1.0 for authoritative facets
	Source     FacetSource
	Flagged    bool // true when confidence is below the enrichment threshold
}

// Filter restricts retrieval to chunks whose document matches every listed
// dimension. Empty slices mean "no restriction" for that dimension.
type Filter struct {
	Committees  []string
	CaseNumbers []string
	SourceTypes []string
	DateFrom    string // ISO-8601, inclusive
	DateTo      string // ISO-8601, inclusive

	// Tags filters on enrichment facets; only unflagged (above-threshold)
	// facets participate in hard filtering.
	Tags map[string][]string

	// IncludeSuperseded widens retrieval to superseded document versions.
	IncludeSuperseded bool
}

// Empty reports whether the filter constrains nothing beyond default
// open-version visibility.
func (f Filter) Empty() bool {
	return len(f.Committees) == 0 && len(f.CaseNumbers) == 0 &&
		len(f.SourceTypes) == 0 && f.DateFrom == "" && f.DateTo == "" &&
		len(f.Tags) == 0
}

// PipelineState is the persisted checkpoint for one document. The version
// pins the checkpoint to the document version it was taken for; a newer
// feed entry starts over from fetch.
type PipelineState struct {
	DocumentID string
	Version    int64
	Stage      Stage
	Attempts   int
	LastError  string
	UpdatedAt  time.Time
}

// Stats summarizes store contents for the status command.
type Stats struct {
	OpenDocuments       int
	SupersededDocuments int
	Chunks              int
	EmbeddedChunks      int
	FailedDocuments     int
	ChangeSeq           int64
}
