// Package errors defines the error taxonomy for agendex and the retry
// helpers used by the ingestion pipeline.
//
// The taxonomy distinguishes errors that callers must branch on:
//   - ErrNotFound: unknown document id or version
//   - ErrConflict: out-of-order version write
//   - TransientSourceError: retryable fetch/embedding failure
//   - EnrichmentError: non-fatal, logged and skipped
//   - IndexInconsistencyError: derived index diverged from the document
//     store; fatal to the affected index generation only
//   - ErrRetrievalUnavailable: both retrieval signals failed
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the common cases. Use errors.Is to test.
var (
	// ErrNotFound indicates an unknown document id or version.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an out-of-order version write: a lower version
	// was submitted after a higher one is already current.
	ErrConflict = errors.New("version conflict")

	// ErrRetrievalUnavailable indicates both the lexical and the vector
	// retrieval path failed for a query.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
)

// NotFound wraps ErrNotFound with an identifying message.
func NotFound(what, id string) error {
	return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
}

// Conflict wraps ErrConflict with the competing versions.
func Conflict(docID string, submitted, current int64) error {
	return fmt.Errorf("document %q: submitted version %d below current %d: %w",
		docID, submitted, current, ErrConflict)
}

// TransientSourceError marks a fetch or embedding failure as retryable.
// The ingestion pipeline retries these with backoff before recording a
// per-document failure.
type TransientSourceError struct {
	Op    string // "fetch", "embed", "extract"
	Cause error
}

func (e *TransientSourceError) Error() string {
	return fmt.Sprintf("transient %s failure: %v", e.Op, e.Cause)
}

func (e *TransientSourceError) Unwrap() error { return e.Cause }

// Transient wraps err as a TransientSourceError for the given operation.
// Returns nil if err is nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientSourceError{Op: op, Cause: err}
}

// IsTransient reports whether err is (or wraps) a TransientSourceError.
func IsTransient(err error) bool {
	var t *TransientSourceError
	return errors.As(err, &t)
}

// EnrichmentError marks a best-effort enrichment failure. It never blocks
// indexing; the chunk stays searchable without the enrichment facets.
type EnrichmentError struct {
	ChunkID string
	Cause   error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment failed for chunk %s: %v", e.ChunkID, e.Cause)
}

func (e *EnrichmentError) Unwrap() error { return e.Cause }

// Enrichment wraps err as an EnrichmentError for the given chunk.
// Returns nil if err is nil.
func Enrichment(chunkID string, err error) error {
	if err == nil {
		return nil
	}
	return &EnrichmentError{ChunkID: chunkID, Cause: err}
}

// IsEnrichment reports whether err is (or wraps) an EnrichmentError.
func IsEnrichment(err error) bool {
	var t *EnrichmentError
	return errors.As(err, &t)
}

// IndexInconsistencyError reports that a derived index (lexical or vector)
// diverged from the document store. It is fatal to that index generation
// only: the remedy is a rebuild from the document store, not a process exit.
type IndexInconsistencyError struct {
	// Index names the drifted index, "lexical" or "vector".
	Index string
	// Missing lists chunk ids the store has but the index lacks.
	Missing []string
	// Orphaned lists chunk ids the index has but the store lacks.
	Orphaned []string
}

func (e *IndexInconsistencyError) Error() string {
	return fmt.Sprintf("%s index inconsistent with store: %d missing, %d orphaned",
		e.Index, len(e.Missing), len(e.Orphaned))
}

// IsInconsistency reports whether err is (or wraps) an IndexInconsistencyError.
func IsInconsistency(err error) bool {
	var t *IndexInconsistencyError
	return errors.As(err, &t)
}
