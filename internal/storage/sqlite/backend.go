// Package sqlite implements the storage backend on SQLite + sqlite-vec for
// fully local operation. It enforces the same contract as the Postgres
// backend: unique file paths, unique (document id, chunk index) pairs,
// cascading deletes, and cosine-similarity search over chunk embeddings.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"knowbase/internal/storage"
)

func init() {
	sqlite_vec.Auto()
}

// DefaultDimension matches the Postgres schema so the two backends accept
// the same embeddings.
const DefaultDimension = 1536

// Config configures the SQLite backend.
type Config struct {
	// Path is the database file location.
	Path string
	// Dimension is the fixed embedding dimensionality. Defaults to
	// DefaultDimension.
	Dimension int
	// NeedsReplace decides whether an existing document is replaced on
	// re-ingest. Defaults to storage.AlwaysReplace.
	NeedsReplace storage.NeedsReplaceFunc
}

// Backend is a SQLite-backed storage backend.
type Backend struct {
	db           *sql.DB
	dimension    int
	needsReplace storage.NeedsReplaceFunc
}

// Open creates or opens the database at cfg.Path and initializes the schema.
func Open(cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite: database path is required")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.NeedsReplace == nil {
		cfg.NeedsReplace = storage.AlwaysReplace
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := initSchema(db, cfg.Dimension); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Backend{
		db:           db,
		dimension:    cfg.Dimension,
		needsReplace: cfg.NeedsReplace,
	}, nil
}

func (b *Backend) Name() string { return "sqlite" }

// Dimension returns the embedding dimensionality the backend accepts.
func (b *Backend) Dimension() int { return b.dimension }

// StoreDocument looks up doc.FilePath, deletes the stored document if the
// replace predicate says so (cascading its chunks and their vectors), and
// inserts a fresh row with a new id.
func (b *Backend) StoreDocument(ctx context.Context, doc storage.Document) (string, error) {
	fail := func(op string, err error) (string, error) {
		return "", &storage.Error{Op: op, Key: doc.FilePath, Err: err}
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("store document", err)
	}
	defer tx.Rollback()

	var existing storage.Document
	err = tx.QueryRowContext(ctx,
		`SELECT id, title, file_path, file_type, file_size, content_hash
		 FROM documents WHERE file_path = ?`,
		doc.FilePath,
	).Scan(&existing.ID, &existing.Title, &existing.FilePath,
		&existing.FileType, &existing.FileSize, &existing.ContentHash)
	switch {
	case err == nil:
		if !b.needsReplace(existing, doc) {
			return existing.ID, nil
		}
		if err := deleteDocumentTx(ctx, tx, existing.ID); err != nil {
			return fail("delete document", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		// First ingest of this path: plain insert.
	default:
		return fail("select document", err)
	}

	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return fail("insert document", err)
	}

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, file_path, file_type, file_size, content_hash, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, doc.Title, doc.FilePath, doc.FileType, doc.FileSize, doc.ContentHash, meta,
	)
	if err != nil {
		return fail("insert document", err)
	}
	if err := tx.Commit(); err != nil {
		return fail("store document", err)
	}
	return id, nil
}

// deleteDocumentTx removes a document, its chunks (via cascade), and their
// rows in the vec0 table, which the cascade cannot reach.
func deleteDocumentTx(ctx context.Context, tx *sql.Tx, documentID string) error {
	rows, err := tx.QueryContext(ctx, `SELECT rowid FROM chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return err
	}
	var rowIDs []int64
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			rows.Close()
			return err
		}
		rowIDs = append(rowIDs, rid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, rid := range rowIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_chunks WHERE chunk_id = ?`, rid); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID)
	return err
}

// StoreChunk inserts a chunk unconditionally. A duplicate (document id,
// chunk index) pair or an unknown document id is a hard error.
func (b *Backend) StoreChunk(ctx context.Context, documentID string, chunk storage.Chunk) (string, error) {
	key := storage.ChunkKey(documentID, chunk.Index)
	fail := func(err error) (string, error) {
		return "", &storage.Error{Op: "insert chunk", Key: key, Err: err}
	}

	if chunk.Embedding != nil && len(chunk.Embedding) != b.dimension {
		return fail(fmt.Errorf("%w: got %d, want %d",
			storage.ErrDimensionMismatch, len(chunk.Embedding), b.dimension))
	}

	meta, err := marshalMetadata(chunk.Metadata)
	if err != nil {
		return fail(err)
	}
	chunkType := chunk.Type
	if chunkType == "" {
		chunkType = "standard"
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO chunks (id, document_id, content, chunk_index, start_position, end_position, chunk_type, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, documentID, chunk.Content, chunk.Index, chunk.Start, chunk.End, chunkType, meta,
	)
	if err != nil {
		return fail(mapConstraintError(err))
	}

	if chunk.Embedding != nil {
		rid, err := res.LastInsertId()
		if err != nil {
			return fail(err)
		}
		blob, err := sqlite_vec.SerializeFloat32(chunk.Embedding)
		if err != nil {
			return fail(fmt.Errorf("serialize embedding: %w", err))
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)`, rid, blob); err != nil {
			return fail(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	return id, nil
}

// GetDocument returns the document stored for filePath, or nil if absent.
func (b *Backend) GetDocument(ctx context.Context, filePath string) (*storage.Document, error) {
	row := b.db.QueryRowContext(ctx, selectDocumentSQL+` WHERE file_path = ?`, filePath)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &storage.Error{Op: "select document", Key: filePath, Err: err}
	}
	return doc, nil
}

// ListDocuments returns all stored documents ordered by file path.
func (b *Backend) ListDocuments(ctx context.Context) ([]storage.Document, error) {
	rows, err := b.db.QueryContext(ctx, selectDocumentSQL+` ORDER BY file_path`)
	if err != nil {
		return nil, &storage.Error{Op: "list documents", Err: err}
	}
	defer rows.Close()

	var docs []storage.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, &storage.Error{Op: "list documents", Err: err}
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.Error{Op: "list documents", Err: err}
	}
	return docs, nil
}

// DocumentCount returns the total number of stored documents.
func (b *Backend) DocumentCount(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, `SELECT count(*) FROM documents`).Scan(&n); err != nil {
		return 0, &storage.Error{Op: "count documents", Err: err}
	}
	return n, nil
}

// ChunkCount returns the number of chunks matching the filter.
func (b *Backend) ChunkCount(ctx context.Context, filter storage.ChunkFilter) (int, error) {
	query := `SELECT count(*) FROM chunks c`
	var (
		conds []string
		args  []any
	)
	if filter.FilePath != "" {
		query += ` JOIN documents d ON d.id = c.document_id`
		conds = append(conds, `d.file_path = ?`)
		args = append(args, filter.FilePath)
	}
	if filter.DocumentID != "" {
		conds = append(conds, `c.document_id = ?`)
		args = append(args, filter.DocumentID)
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}

	var n int
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, &storage.Error{Op: "count chunks", Err: err}
	}
	return n, nil
}

// SearchSimilar runs a KNN query against the vec0 index and keeps rows whose
// cosine similarity (1 − distance) exceeds the threshold.
func (b *Backend) SearchSimilar(ctx context.Context, embedding []float32, opts storage.SearchOptions) ([]storage.Match, error) {
	fail := func(err error) ([]storage.Match, error) {
		return nil, &storage.Error{Op: "search chunks", Err: err}
	}

	opts, err := opts.WithDefaults()
	if err != nil {
		return fail(err)
	}
	if len(embedding) != b.dimension {
		return fail(fmt.Errorf("%w: got %d, want %d",
			storage.ErrDimensionMismatch, len(embedding), b.dimension))
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fail(fmt.Errorf("serialize query embedding: %w", err))
	}

	// vec0 KNN queries require the row budget as a `k = ?` constraint on
	// the virtual table itself; a LIMIT outside the join is not pushed down.
	rows, err := b.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.content, c.chunk_index, c.chunk_type, c.metadata, v.distance
		FROM (
			SELECT chunk_id, distance
			FROM vec_chunks
			WHERE embedding MATCH ? AND k = ?
		) v
		JOIN chunks c ON c.rowid = v.chunk_id
		ORDER BY v.distance
	`, blob, opts.Limit)
	if err != nil {
		return fail(err)
	}
	defer rows.Close()

	var matches []storage.Match
	for rows.Next() {
		var (
			m        storage.Match
			meta     string
			distance float64
		)
		err := rows.Scan(&m.Chunk.ID, &m.Chunk.DocumentID, &m.Chunk.Content,
			&m.Chunk.Index, &m.Chunk.Type, &meta, &distance)
		if err != nil {
			return fail(err)
		}
		m.Similarity = 1 - distance
		if m.Similarity <= opts.Threshold {
			continue
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &m.Chunk.Metadata); err != nil {
				return fail(fmt.Errorf("decode metadata: %w", err))
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return fail(err)
	}
	return matches, nil
}

// HealthCheck verifies the database answers queries.
func (b *Backend) HealthCheck(ctx context.Context) error {
	var one int
	if err := b.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return &storage.Error{Op: "health check", Err: err}
	}
	return nil
}

// Close closes the underlying database.
func (b *Backend) Close() error {
	return b.db.Close()
}

const selectDocumentSQL = `SELECT id, title, file_path, file_type, file_size, content_hash, metadata, created_at, updated_at
 FROM documents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*storage.Document, error) {
	var (
		doc  storage.Document
		meta string
	)
	err := row.Scan(&doc.ID, &doc.Title, &doc.FilePath, &doc.FileType,
		&doc.FileSize, &doc.ContentHash, &meta, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &doc, nil
}

func marshalMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

// mapConstraintError translates SQLite constraint violations into the
// storage package's sentinel errors.
func mapConstraintError(err error) error {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return err
	}
	switch serr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %v", storage.ErrDuplicateChunk, err)
	case sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: %v", storage.ErrUnknownDocument, err)
	}
	return err
}
