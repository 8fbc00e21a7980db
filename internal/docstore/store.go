package docstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)

	agerr "github.com/byraadsarkiv/agendex/internal/errors"
)

// Store persists documents, chunks, facets, the change feed, and pipeline
// checkpoints in a single SQLite database. WAL mode gives readers a
// consistent view while a write is in flight; a write is durable before the
// call returns.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Open opens (or creates) the document store at path.
// An empty path opens an in-memory store for testing.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
		if err := validateIntegrity(path); err != nil {
			return nil, fmt.Errorf("document store corrupted at %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer prevents lock contention; WAL still allows readers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// validateIntegrity runs a quick corruption check before opening for writes.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // will be created
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id           TEXT NOT NULL,
		version      INTEGER NOT NULL,
		source_type  TEXT NOT NULL,
		committee    TEXT NOT NULL DEFAULT '',
		case_number  TEXT NOT NULL DEFAULT '',
		title        TEXT NOT NULL DEFAULT '',
		published_at TEXT NOT NULL,
		status       TEXT NOT NULL,
		text         TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL,
		PRIMARY KEY (id, version)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(id, status);

	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id        TEXT PRIMARY KEY,
		document_id     TEXT NOT NULL,
		version         INTEGER NOT NULL,
		seq             INTEGER NOT NULL,
		start_offset    INTEGER NOT NULL,
		end_offset      INTEGER NOT NULL,
		text            TEXT NOT NULL,
		content_hash    TEXT NOT NULL,
		embedding       BLOB,
		embedding_model TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, version);
	CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks(content_hash);

	CREATE TABLE IF NOT EXISTS facets (
		chunk_id   TEXT NOT NULL,
		name       TEXT NOT NULL,
		value      TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 1.0,
		source     TEXT NOT NULL,
		flagged    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (chunk_id, name, value)
	);
	CREATE INDEX IF NOT EXISTS idx_facets_name_value ON facets(name, value);

	CREATE TABLE IF NOT EXISTS change_log (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL,
		version     INTEGER NOT NULL,
		changed_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pipeline_state (
		document_id TEXT PRIMARY KEY,
		version     INTEGER NOT NULL DEFAULT 0,
		stage       TEXT NOT NULL,
		attempts    INTEGER NOT NULL DEFAULT 0,
		last_error  TEXT NOT NULL DEFAULT '',
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// PutDocument upserts a document version, keyed by (id, version).
//
// Semantics:
//   - a version equal to the current open version is a no-op (idempotent)
//   - a version below the current open version fails with ErrConflict and
//     leaves the current version untouched
//   - a higher version supersedes the current one and appends to the
//     change feed
func (s *Store) PutDocument(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentVersion int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM documents WHERE id = ? AND status = ?`,
		doc.ID, StatusOpen).Scan(&currentVersion)
	switch {
	case err == sql.ErrNoRows:
		currentVersion = 0
	case err != nil:
		return fmt.Errorf("query current version: %w", err)
	}

	if currentVersion > 0 {
		if doc.Version < currentVersion {
			return agerr.Conflict(doc.ID, doc.Version, currentVersion)
		}
		if doc.Version == currentVersion {
			return nil // idempotent re-ingest
		}
		// Supersede the previous open version.
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET status = ? WHERE id = ? AND version = ?`,
			StatusSuperseded, doc.ID, currentVersion); err != nil {
			return fmt.Errorf("supersede version %d: %w", currentVersion, err)
		}
	}

	now := time.Now().UTC()
	created := doc.CreatedAt
	if created.IsZero() {
		created = now
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents
			(id, version, source_type, committee, case_number, title, published_at, status, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			status = excluded.status`,
		doc.ID, doc.Version, doc.SourceType, doc.Committee, doc.CaseNumber,
		doc.Title, doc.PublishedAt.UTC().Format(time.RFC3339), StatusOpen,
		doc.Text, created.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("insert document %s v%d: %w", doc.ID, doc.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO change_log (document_id, version, changed_at) VALUES (?, ?, ?)`,
		doc.ID, doc.Version, now.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("append change log: %w", err)
	}

	return tx.Commit()
}

// GetCurrent returns the open version of a document.
func (s *Store) GetCurrent(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryDocument(ctx,
		`SELECT id, version, source_type, committee, case_number, title, published_at, status, text, created_at
		 FROM documents WHERE id = ? AND status = ?`, id, StatusOpen)
}

// GetDocument returns a specific document version, regardless of status.
func (s *Store) GetDocument(ctx context.Context, id string, version int64) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryDocument(ctx,
		`SELECT id, version, source_type, committee, case_number, title, published_at, status, text, created_at
		 FROM documents WHERE id = ? AND version = ?`, id, version)
}

func (s *Store) queryDocument(ctx context.Context, query string, args ...any) (*Document, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		id, _ := args[0].(string)
		return nil, agerr.NotFound("document", id)
	}
	return doc, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var published, created string
	if err := row.Scan(&doc.ID, &doc.Version, &doc.SourceType, &doc.Committee,
		&doc.CaseNumber, &doc.Title, &published, &doc.Status, &doc.Text, &created); err != nil {
		return nil, err
	}
	doc.PublishedAt, _ = time.Parse(time.RFC3339, published)
	doc.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &doc, nil
}

// MarkDeleted retires all versions of a document. Chunks stay in place for
// audit but drop out of every filter resolution.
func (s *Store) MarkDeleted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ? WHERE id = ?`, StatusDeleted, id)
	if err != nil {
		return fmt.Errorf("mark deleted %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return agerr.NotFound("document", id)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO change_log (document_id, version, changed_at) VALUES (?, 0, ?)`,
		id, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("append change log: %w", err)
	}
	return nil
}

// PurgeDocument physically removes every version, chunk, and facet of a
// document. Retention/compliance use only.
func (s *Store) PurgeDocument(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	chunkIDs, err := collectStrings(tx.QueryContext(ctx,
		`SELECT chunk_id FROM chunks WHERE document_id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("collect chunks for purge: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM facets WHERE chunk_id IN (SELECT chunk_id FROM chunks WHERE document_id = ?)`,
		`DELETE FROM chunks WHERE document_id = ?`,
		`DELETE FROM documents WHERE id = ?`,
		`DELETE FROM pipeline_state WHERE document_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return nil, fmt.Errorf("purge %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	slog.Info("document_purged", slog.String("document_id", id), slog.Int("chunks", len(chunkIDs)))
	return chunkIDs, nil
}

// ListChangedSince returns documents changed after the cursor, oldest first,
// plus the cursor to resume from. The cursor is an opaque monotonic token;
// the zero value ("") starts from the beginning of the feed.
func (s *Store) ListChangedSince(ctx context.Context, cursor string, limit int) ([]*Document, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq, err := parseCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 100
	}

	// One entry per document: the latest change above the cursor.
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, MAX(seq) AS max_seq
		FROM change_log
		WHERE seq > ?
		GROUP BY document_id
		ORDER BY max_seq ASC
		LIMIT ?`, seq, limit)
	if err != nil {
		return nil, "", fmt.Errorf("query change log: %w", err)
	}
	defer rows.Close()

	var ids []string
	nextSeq := seq
	for rows.Next() {
		var id string
		var maxSeq int64
		if err := rows.Scan(&id, &maxSeq); err != nil {
			return nil, "", err
		}
		ids = append(ids, id)
		if maxSeq > nextSeq {
			nextSeq = maxSeq
		}
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	docs := make([]*Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.queryDocument(ctx,
			`SELECT id, version, source_type, committee, case_number, title, published_at, status, text, created_at
			 FROM documents WHERE id = ? ORDER BY version DESC LIMIT 1`, id)
		if err != nil {
			return nil, "", err
		}
		docs = append(docs, doc)
	}
	return docs, formatCursor(nextSeq), nil
}

func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("invalid cursor %q", cursor)
	}
	return seq, nil
}

func formatCursor(seq int64) string {
	return strconv.FormatInt(seq, 10)
}

// SaveChunks replaces the chunks of one document version and writes the
// authoritative facets derived from the document. The replace is atomic:
// readers see either the old chunk set or the new one.
func (s *Store) SaveChunks(ctx context.Context, doc *Document, chunks []*Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM facets WHERE chunk_id IN
			(SELECT chunk_id FROM chunks WHERE document_id = ? AND version = ?)`,
		doc.ID, doc.Version); err != nil {
		return fmt.Errorf("clear facets: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE document_id = ? AND version = ?`,
		doc.ID, doc.Version); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks
			(chunk_id, document_id, version, seq, start_offset, end_offset, text, content_hash, embedding, embedding_model)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer chunkStmt.Close()

	facetStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO facets (chunk_id, name, value, confidence, source, flagged)
		VALUES (?, ?, ?, 1.0, ?, 0)`)
	if err != nil {
		return fmt.Errorf("prepare facet insert: %w", err)
	}
	defer facetStmt.Close()

	for _, c := range chunks {
		var blob []byte
		if c.Embedding != nil {
			blob = encodeVector(c.Embedding)
		}
		if _, err := chunkStmt.ExecContext(ctx, c.ID, c.DocumentID, c.Version,
			c.Seq, c.StartOffset, c.EndOffset, c.Text, c.ContentHash, blob, c.EmbedModel); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}

		for name, value := range authoritativeFacets(doc) {
			if value == "" {
				continue
			}
			if _, err := facetStmt.ExecContext(ctx, c.ID, name, value, FacetSourceAuthoritative); err != nil {
				return fmt.Errorf("insert facet %s=%s: %w", name, value, err)
			}
		}
	}

	return tx.Commit()
}

// authoritativeFacets derives the closed-vocabulary facet values from a
// document's own metadata.
func authoritativeFacets(doc *Document) map[string]string {
	return map[string]string{
		FacetCommittee:  doc.Committee,
		FacetSourceType: string(doc.SourceType),
		FacetCaseNumber: doc.CaseNumber,
		FacetDate:       doc.PublishedAt.UTC().Format("2006-01-02"),
	}
}

// GetChunks returns chunks by id, in no particular order. Missing ids are
// silently skipped (callers treat indexes as potentially stale).
func (s *Store) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, document_id, version, seq, start_offset, end_offset, text, content_hash, embedding, embedding_model
		FROM chunks WHERE chunk_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// GetChunksByDocument returns the chunks of one document version, in order.
func (s *Store) GetChunksByDocument(ctx context.Context, documentID string, version int64) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, document_id, version, seq, start_offset, end_offset, text, content_hash, embedding, embedding_model
		FROM chunks WHERE document_id = ? AND version = ? ORDER BY seq ASC`,
		documentID, version)
	if err != nil {
		return nil, fmt.Errorf("query chunks for %s v%d: %w", documentID, version, err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]*Chunk, error) {
	var chunks []*Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Version, &c.Seq,
			&c.StartOffset, &c.EndOffset, &c.Text, &c.ContentHash, &blob, &c.EmbedModel); err != nil {
			return nil, err
		}
		if len(blob) > 0 {
			c.Embedding = decodeVector(blob)
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// SaveEmbedding stores a computed embedding on a chunk.
func (s *Store) SaveEmbedding(ctx context.Context, chunkID string, vector []float32, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET embedding = ?, embedding_model = ? WHERE chunk_id = ?`,
		encodeVector(vector), model, chunkID)
	if err != nil {
		return fmt.Errorf("save embedding for %s: %w", chunkID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return agerr.NotFound("chunk", chunkID)
	}
	return nil
}

// FindEmbeddingByHash returns any stored embedding for the given content
// hash. Used to skip re-embedding unchanged chunk text across versions.
func (s *Store) FindEmbeddingByHash(ctx context.Context, contentHash string) ([]float32, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob []byte
	var model string
	err := s.db.QueryRowContext(ctx, `
		SELECT embedding, embedding_model FROM chunks
		WHERE content_hash = ? AND embedding IS NOT NULL LIMIT 1`,
		contentHash).Scan(&blob, &model)
	if err == sql.ErrNoRows {
		return nil, "", agerr.NotFound("embedding for hash", contentHash)
	}
	if err != nil {
		return nil, "", fmt.Errorf("query embedding by hash: %w", err)
	}
	return decodeVector(blob), model, nil
}

// SaveEnrichmentFacets writes best-effort enrichment facets for a chunk,
// replacing any previous enrichment facets with the same name.
func (s *Store) SaveEnrichmentFacets(ctx context.Context, chunkID string, facets []Facet) error {
	if len(facets) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, f := range facets {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM facets WHERE chunk_id = ? AND name = ? AND source = ?`,
			chunkID, f.Name, FacetSourceEnrichment); err != nil {
			return fmt.Errorf("clear enrichment facet %s: %w", f.Name, err)
		}
		flagged := 0
		if f.Flagged {
			flagged = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO facets (chunk_id, name, value, confidence, source, flagged)
			VALUES (?, ?, ?, ?, ?, ?)`,
			chunkID, f.Name, f.Value, f.Confidence, FacetSourceEnrichment, flagged); err != nil {
			return fmt.Errorf("insert enrichment facet %s=%s: %w", f.Name, f.Value, err)
		}
	}
	return tx.Commit()
}

// GetFacets returns all facets attached to a chunk.
func (s *Store) GetFacets(ctx context.Context, chunkID string) ([]Facet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value, confidence, source, flagged FROM facets
		WHERE chunk_id = ? ORDER BY name, value`, chunkID)
	if err != nil {
		return nil, fmt.Errorf("query facets: %w", err)
	}
	defer rows.Close()

	var facets []Facet
	for rows.Next() {
		var f Facet
		var flagged int
		if err := rows.Scan(&f.Name, &f.Value, &f.Confidence, &f.Source, &flagged); err != nil {
			return nil, err
		}
		f.Flagged = flagged != 0
		facets = append(facets, f)
	}
	return facets, rows.Err()
}

// ResolveFilter returns the set of chunk ids eligible under the filter.
// This is the hard pre-filter both retrieval paths apply: restricting the
// candidate pool up front avoids starving results when a facet is rare.
func (s *Store) ResolveFilter(ctx context.Context, filter Filter) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sb strings.Builder
	var args []any

	sb.WriteString(`
		SELECT c.chunk_id
		FROM chunks c
		JOIN documents d ON d.id = c.document_id AND d.version = c.version
		WHERE d.status != ?`)
	args = append(args, StatusDeleted)

	if !filter.IncludeSuperseded {
		sb.WriteString(` AND d.status = ?`)
		args = append(args, StatusOpen)
	}
	if len(filter.Committees) > 0 {
		sb.WriteString(` AND d.committee IN (` + placeholders(len(filter.Committees)) + `)`)
		for _, v := range filter.Committees {
			args = append(args, v)
		}
	}
	if len(filter.CaseNumbers) > 0 {
		sb.WriteString(` AND d.case_number IN (` + placeholders(len(filter.CaseNumbers)) + `)`)
		for _, v := range filter.CaseNumbers {
			args = append(args, v)
		}
	}
	if len(filter.SourceTypes) > 0 {
		sb.WriteString(` AND d.source_type IN (` + placeholders(len(filter.SourceTypes)) + `)`)
		for _, v := range filter.SourceTypes {
			args = append(args, v)
		}
	}
	if filter.DateFrom != "" {
		sb.WriteString(` AND substr(d.published_at, 1, 10) >= ?`)
		args = append(args, filter.DateFrom)
	}
	if filter.DateTo != "" {
		sb.WriteString(` AND substr(d.published_at, 1, 10) <= ?`)
		args = append(args, filter.DateTo)
	}

	// Enrichment tags: hard filtering only on unflagged (above-threshold)
	// facet values.
	for name, values := range filter.Tags {
		if len(values) == 0 {
			continue
		}
		sb.WriteString(` AND c.chunk_id IN (
			SELECT chunk_id FROM facets
			WHERE name = ? AND flagged = 0 AND value IN (` + placeholders(len(values)) + `))`)
		args = append(args, name)
		for _, v := range values {
			args = append(args, v)
		}
	}

	ids, err := collectStrings(s.db.QueryContext(ctx, sb.String(), args...))
	if err != nil {
		return nil, fmt.Errorf("resolve filter: %w", err)
	}
	eligible := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		eligible[id] = struct{}{}
	}
	return eligible, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// AllChunks streams every chunk joined with its document's publication date,
// in stable order. Used for full index rebuilds.
func (s *Store) AllChunks(ctx context.Context) ([]*Chunk, map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chunk_id, c.document_id, c.version, c.seq, c.start_offset, c.end_offset,
		       c.text, c.content_hash, c.embedding, c.embedding_model, d.published_at
		FROM chunks c
		JOIN documents d ON d.id = c.document_id AND d.version = c.version
		ORDER BY c.document_id, c.version, c.seq`)
	if err != nil {
		return nil, nil, fmt.Errorf("query all chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	published := make(map[string]time.Time)
	for rows.Next() {
		var c Chunk
		var blob []byte
		var pub string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Version, &c.Seq,
			&c.StartOffset, &c.EndOffset, &c.Text, &c.ContentHash, &blob, &c.EmbedModel, &pub); err != nil {
			return nil, nil, err
		}
		if len(blob) > 0 {
			c.Embedding = decodeVector(blob)
		}
		published[c.ID], _ = time.Parse(time.RFC3339, pub)
		chunks = append(chunks, &c)
	}
	return chunks, published, rows.Err()
}

// AllChunkIDs returns every chunk id in the store (consistency checks).
func (s *Store) AllChunkIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return collectStrings(s.db.QueryContext(ctx, `SELECT chunk_id FROM chunks`))
}

// SavePipelineState persists the per-document ingestion checkpoint.
func (s *Store) SavePipelineState(ctx context.Context, state *PipelineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pipeline_state (document_id, version, stage, attempts, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		state.DocumentID, state.Version, state.Stage, state.Attempts, state.LastError,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save pipeline state for %s: %w", state.DocumentID, err)
	}
	return nil
}

// GetPipelineState returns the checkpoint for a document, or ErrNotFound.
func (s *Store) GetPipelineState(ctx context.Context, documentID string) (*PipelineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st PipelineState
	var updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, version, stage, attempts, last_error, updated_at
		FROM pipeline_state WHERE document_id = ?`, documentID).
		Scan(&st.DocumentID, &st.Version, &st.Stage, &st.Attempts, &st.LastError, &updated)
	if err == sql.ErrNoRows {
		return nil, agerr.NotFound("pipeline state", documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("query pipeline state: %w", err)
	}
	st.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &st, nil
}

// FailedDocuments returns the failure records of documents whose pipeline
// retries were exhausted.
func (s *Store) FailedDocuments(ctx context.Context) ([]*PipelineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, version, stage, attempts, last_error, updated_at
		FROM pipeline_state WHERE stage = ? ORDER BY document_id`, StageFailed)
	if err != nil {
		return nil, fmt.Errorf("query failed documents: %w", err)
	}
	defer rows.Close()

	var states []*PipelineState
	for rows.Next() {
		var st PipelineState
		var updated string
		if err := rows.Scan(&st.DocumentID, &st.Version, &st.Stage, &st.Attempts, &st.LastError, &updated); err != nil {
			return nil, err
		}
		st.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		states = append(states, &st)
	}
	return states, rows.Err()
}

// GetState reads a key from the runtime state table ("" if absent).
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

// SetState writes a key to the runtime state table.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// GetStats summarizes store contents.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	queries := []struct {
		dest  *int
		query string
		args  []any
	}{
		{&stats.OpenDocuments, `SELECT COUNT(*) FROM documents WHERE status = ?`, []any{StatusOpen}},
		{&stats.SupersededDocuments, `SELECT COUNT(*) FROM documents WHERE status = ?`, []any{StatusSuperseded}},
		{&stats.Chunks, `SELECT COUNT(*) FROM chunks`, nil},
		{&stats.EmbeddedChunks, `SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL`, nil},
		{&stats.FailedDocuments, `SELECT COUNT(*) FROM pipeline_state WHERE stage = ?`, []any{StageFailed}},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query, q.args...).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("stats query: %w", err)
		}
	}

	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM change_log`).Scan(&seq); err != nil {
		return nil, fmt.Errorf("stats change seq: %w", err)
	}
	stats.ChangeSeq = seq.Int64
	return &stats, nil
}

func collectStrings(rows *sql.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// encodeVector serializes a float32 vector as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserializes a little-endian float32 vector.
func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
