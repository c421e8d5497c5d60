// Package postgres implements the storage backend on PostgreSQL with the
// pgvector extension. Connections are stateless and short-lived: each
// operation dials, runs, and disconnects, so the backend works in execution
// environments that cannot hold connections between invocations.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"knowbase/internal/sqlscript"
	"knowbase/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

//go:embed reset.sql
var resetSQL string

// DefaultDimension is the embedding dimensionality fixed in schema.sql.
const DefaultDimension = 1536

// Config configures the Postgres backend.
type Config struct {
	// URL is the privileged connection string. Read-only principals query
	// the tables directly; the backend always writes as the privileged one.
	URL string
	// Dimension is the fixed embedding dimensionality. Defaults to
	// DefaultDimension and must match the vector column in the schema.
	Dimension int
	// NeedsReplace decides whether an existing document is replaced on
	// re-ingest. Defaults to storage.AlwaysReplace.
	NeedsReplace storage.NeedsReplaceFunc
}

// Backend is a stateless Postgres/pgvector storage backend.
type Backend struct {
	url          string
	dimension    int
	needsReplace storage.NeedsReplaceFunc
}

// New creates a Backend from cfg. It does not dial; every operation opens
// its own connection.
func New(cfg Config) (*Backend, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres: connection URL is required")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.NeedsReplace == nil {
		cfg.NeedsReplace = storage.AlwaysReplace
	}
	return &Backend{
		url:          cfg.URL,
		dimension:    cfg.Dimension,
		needsReplace: cfg.NeedsReplace,
	}, nil
}

func (b *Backend) Name() string { return "postgres" }

// Dimension returns the embedding dimensionality the backend accepts.
func (b *Backend) Dimension() int { return b.dimension }

// connect opens a single-operation connection with pgvector types registered.
func (b *Backend) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, b.url)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("register vector types: %w", err)
	}
	return conn, nil
}

// StoreDocument looks up doc.FilePath, deletes the stored document if the
// replace predicate says so (cascading its chunks), and inserts a fresh row.
// The whole replace runs in one transaction with the existing row locked, so
// a path is never observed absent mid-replace and concurrent re-ingests of
// the same path serialize instead of interleaving.
func (b *Backend) StoreDocument(ctx context.Context, doc storage.Document) (string, error) {
	conn, err := b.connect(ctx)
	if err != nil {
		return "", &storage.Error{Op: "store document", Key: doc.FilePath, Err: err}
	}
	defer conn.Close(ctx)

	tx, err := conn.Begin(ctx)
	if err != nil {
		return "", &storage.Error{Op: "store document", Key: doc.FilePath, Err: err}
	}
	defer tx.Rollback(ctx)

	var existing storage.Document
	err = tx.QueryRow(ctx,
		`SELECT id, title, file_path, file_type, file_size, content_hash
		 FROM documents WHERE file_path = $1 FOR UPDATE`,
		doc.FilePath,
	).Scan(&existing.ID, &existing.Title, &existing.FilePath,
		&existing.FileType, &existing.FileSize, &existing.ContentHash)
	switch {
	case err == nil:
		if !b.needsReplace(existing, doc) {
			return existing.ID, nil
		}
		if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, existing.ID); err != nil {
			return "", &storage.Error{Op: "delete document", Key: doc.FilePath, Err: err}
		}
	case errors.Is(err, pgx.ErrNoRows):
		// First ingest of this path: plain insert.
	default:
		return "", &storage.Error{Op: "select document", Key: doc.FilePath, Err: err}
	}

	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return "", &storage.Error{Op: "insert document", Key: doc.FilePath, Err: err}
	}

	var id string
	err = tx.QueryRow(ctx,
		`INSERT INTO documents (title, file_path, file_type, file_size, content_hash, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		 RETURNING id`,
		doc.Title, doc.FilePath, doc.FileType, doc.FileSize, doc.ContentHash, meta,
	).Scan(&id)
	if err != nil {
		return "", &storage.Error{Op: "insert document", Key: doc.FilePath, Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", &storage.Error{Op: "store document", Key: doc.FilePath, Err: err}
	}
	return id, nil
}

// StoreChunk inserts a chunk unconditionally. A duplicate (document id,
// chunk index) pair or an unknown document id is a hard error.
func (b *Backend) StoreChunk(ctx context.Context, documentID string, chunk storage.Chunk) (string, error) {
	key := storage.ChunkKey(documentID, chunk.Index)
	if chunk.Embedding != nil && len(chunk.Embedding) != b.dimension {
		return "", &storage.Error{
			Op:  "insert chunk",
			Key: key,
			Err: fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(chunk.Embedding), b.dimension),
		}
	}

	conn, err := b.connect(ctx)
	if err != nil {
		return "", &storage.Error{Op: "insert chunk", Key: key, Err: err}
	}
	defer conn.Close(ctx)

	meta, err := marshalMetadata(chunk.Metadata)
	if err != nil {
		return "", &storage.Error{Op: "insert chunk", Key: key, Err: err}
	}

	var emb *pgvector.Vector
	if chunk.Embedding != nil {
		v := pgvector.NewVector(chunk.Embedding)
		emb = &v
	}

	chunkType := chunk.Type
	if chunkType == "" {
		chunkType = "standard"
	}

	var id string
	err = conn.QueryRow(ctx,
		`INSERT INTO chunks (document_id, content, chunk_index, start_position, end_position, embedding, chunk_type, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		 RETURNING id`,
		documentID, chunk.Content, chunk.Index, chunk.Start, chunk.End, emb, chunkType, meta,
	).Scan(&id)
	if err != nil {
		return "", &storage.Error{Op: "insert chunk", Key: key, Err: mapConstraintError(err)}
	}
	return id, nil
}

// GetDocument returns the document stored for filePath, or nil if absent.
func (b *Backend) GetDocument(ctx context.Context, filePath string) (*storage.Document, error) {
	conn, err := b.connect(ctx)
	if err != nil {
		return nil, &storage.Error{Op: "select document", Key: filePath, Err: err}
	}
	defer conn.Close(ctx)

	doc, err := scanDocument(conn.QueryRow(ctx, selectDocumentSQL+` WHERE file_path = $1`, filePath))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &storage.Error{Op: "select document", Key: filePath, Err: err}
	}
	return doc, nil
}

// ListDocuments returns all stored documents ordered by file path.
func (b *Backend) ListDocuments(ctx context.Context) ([]storage.Document, error) {
	conn, err := b.connect(ctx)
	if err != nil {
		return nil, &storage.Error{Op: "list documents", Err: err}
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, selectDocumentSQL+` ORDER BY file_path`)
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
	conn, err := b.connect(ctx)
	if err != nil {
		return 0, &storage.Error{Op: "count documents", Err: err}
	}
	defer conn.Close(ctx)

	var n int
	if err := conn.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&n); err != nil {
		return 0, &storage.Error{Op: "count documents", Err: err}
	}
	return n, nil
}

// ChunkCount returns the number of chunks matching the filter.
func (b *Backend) ChunkCount(ctx context.Context, filter storage.ChunkFilter) (int, error) {
	conn, err := b.connect(ctx)
	if err != nil {
		return 0, &storage.Error{Op: "count chunks", Err: err}
	}
	defer conn.Close(ctx)

	query := `SELECT count(*) FROM chunks c`
	var (
		conds []string
		args  []any
	)
	if filter.FilePath != "" {
		query += ` JOIN documents d ON d.id = c.document_id`
		args = append(args, filter.FilePath)
		conds = append(conds, fmt.Sprintf("d.file_path = $%d", len(args)))
	}
	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		conds = append(conds, fmt.Sprintf("c.document_id = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}

	var n int
	if err := conn.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, &storage.Error{Op: "count chunks", Err: err}
	}
	return n, nil
}

// SearchSimilar delegates ranking and thresholding to the match_chunks SQL
// function so the logic lives next to the ANN index.
func (b *Backend) SearchSimilar(ctx context.Context, embedding []float32, opts storage.SearchOptions) ([]storage.Match, error) {
	opts, err := opts.WithDefaults()
	if err != nil {
		return nil, &storage.Error{Op: "search chunks", Err: err}
	}
	if len(embedding) != b.dimension {
		return nil, &storage.Error{
			Op:  "search chunks",
			Err: fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(embedding), b.dimension),
		}
	}

	conn, err := b.connect(ctx)
	if err != nil {
		return nil, &storage.Error{Op: "search chunks", Err: err}
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx,
		`SELECT id, document_id, content, chunk_index, chunk_type, metadata, similarity
		 FROM match_chunks($1, $2, $3)`,
		pgvector.NewVector(embedding), opts.Threshold, opts.Limit,
	)
	if err != nil {
		return nil, &storage.Error{Op: "search chunks", Err: err}
	}
	defer rows.Close()

	var matches []storage.Match
	for rows.Next() {
		var (
			m    storage.Match
			meta []byte
		)
		err := rows.Scan(&m.Chunk.ID, &m.Chunk.DocumentID, &m.Chunk.Content,
			&m.Chunk.Index, &m.Chunk.Type, &meta, &m.Similarity)
		if err != nil {
			return nil, &storage.Error{Op: "search chunks", Err: err}
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.Chunk.Metadata); err != nil {
				return nil, &storage.Error{Op: "search chunks", Err: fmt.Errorf("decode metadata: %w", err)}
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.Error{Op: "search chunks", Err: err}
	}
	return matches, nil
}

// HealthCheck verifies the store is reachable.
func (b *Backend) HealthCheck(ctx context.Context) error {
	conn, err := b.connect(ctx)
	if err != nil {
		return &storage.Error{Op: "health check", Err: err}
	}
	defer conn.Close(ctx)

	var one int
	if err := conn.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return &storage.Error{Op: "health check", Err: err}
	}
	return nil
}

// Bootstrap applies the embedded schema script: extension, tables, indexes,
// match_chunks function, and access policies. Operator-invoked, never part
// of the online write path.
func (b *Backend) Bootstrap(ctx context.Context) error {
	return b.runScript(ctx, "bootstrap", schemaSQL)
}

// Reset applies the embedded reset script, dropping all knowbase objects in
// dependency order. Idempotent.
func (b *Backend) Reset(ctx context.Context) error {
	return b.runScript(ctx, "reset", resetSQL)
}

func (b *Backend) runScript(ctx context.Context, op, script string) error {
	conn, err := b.connect(ctx)
	if err != nil {
		return &storage.Error{Op: op, Err: err}
	}
	defer conn.Close(ctx)

	for _, stmt := range sqlscript.Parse(script) {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return &storage.Error{Op: op, Err: fmt.Errorf("exec %q: %w", firstLine(stmt), err)}
		}
	}
	return nil
}

// Close is a no-op: the backend holds no connections between operations.
func (b *Backend) Close() error { return nil }

const selectDocumentSQL = `SELECT id, title, file_path, file_type, file_size, content_hash, metadata, created_at, updated_at
 FROM documents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*storage.Document, error) {
	var (
		doc  storage.Document
		meta []byte
	)
	err := row.Scan(&doc.ID, &doc.Title, &doc.FilePath, &doc.FileType,
		&doc.FileSize, &doc.ContentHash, &meta, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
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

// mapConstraintError translates PostgreSQL constraint violations into the
// storage package's sentinel errors.
func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return fmt.Errorf("%w: %s", storage.ErrDuplicateChunk, pgErr.ConstraintName)
	case "23503": // foreign_key_violation
		return fmt.Errorf("%w: %s", storage.ErrUnknownDocument, pgErr.ConstraintName)
	}
	return err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
