// Package storage defines the persistence contract for documents and chunks:
// the data model, the delete-recreate write protocol keyed by file path, and
// the cosine-similarity search interface implemented by each backend.
package storage

import (
	"context"
	"time"
)

// Defaults for similarity search.
const (
	DefaultThreshold = 0.7
	DefaultLimit     = 10
)

// Document is a logical source file's persisted record. FilePath is the
// natural key: re-ingesting the same path replaces the prior document
// wholesale rather than updating it in place.
type Document struct {
	ID          string
	Title       string
	FilePath    string
	FileType    string
	FileSize    int64
	ContentHash string
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk is one ordered, position-indexed slice of a document's text.
// Embedding is nil when no vector was produced for the chunk. Start and End
// are character offsets into the source text; nil when unknown.
type Chunk struct {
	ID         string
	DocumentID string
	Content    string
	Index      int
	Start      *int
	End        *int
	Embedding  []float32
	Type       string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Match is a chunk returned by similarity search together with its cosine
// similarity to the query vector.
type Match struct {
	Chunk      Chunk
	Similarity float64
}

// ChunkFilter narrows a chunk count to a single document, identified either
// by its generated id or by its file path. Zero value counts everything.
type ChunkFilter struct {
	DocumentID string
	FilePath   string
}

// SearchOptions tune a similarity search. A zero threshold is a real value
// (admit everything); use DefaultSearchOptions for the standard 0.7/10 pair.
type SearchOptions struct {
	Threshold float64
	Limit     int
}

// DefaultSearchOptions returns the standard threshold and result limit.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{Threshold: DefaultThreshold, Limit: DefaultLimit}
}

// WithDefaults validates the threshold range and fills an unset limit.
func (o SearchOptions) WithDefaults() (SearchOptions, error) {
	if o.Threshold < 0 || o.Threshold > 1 {
		return o, ErrInvalidThreshold
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	return o, nil
}

// NeedsReplaceFunc decides whether an existing document should be replaced by
// a candidate carrying the same file path. It is a seam for future
// change-detection (content hash, modification time); the write path never
// consults it for paths that are not stored yet.
type NeedsReplaceFunc func(existing, candidate Document) bool

// AlwaysReplace unconditionally replaces the stored document. This is the
// default policy.
func AlwaysReplace(existing, candidate Document) bool { return true }

// HashChanged replaces only when the candidate's content hash differs from
// the stored one. Documents without a stored hash are always replaced.
func HashChanged(existing, candidate Document) bool {
	return existing.ContentHash == "" || existing.ContentHash != candidate.ContentHash
}

// Backend persists documents and their chunks and answers similarity queries.
//
// StoreDocument implements the delete-recreate protocol: an existing document
// with the same file path is deleted (cascading its chunks) before the fresh
// row is inserted, so the returned id differs on every re-ingest. StoreChunk
// is an unconditional insert; a duplicate (document id, chunk index) pair is
// a hard error, not an upsert.
type Backend interface {
	// Name identifies the backend implementation, e.g. "postgres".
	Name() string
	// StoreDocument stores doc keyed by its file path and returns the new id.
	StoreDocument(ctx context.Context, doc Document) (string, error)
	// StoreChunk inserts a chunk under documentID and returns the new id.
	StoreChunk(ctx context.Context, documentID string, chunk Chunk) (string, error)
	// GetDocument returns the document stored for filePath, or nil if absent.
	GetDocument(ctx context.Context, filePath string) (*Document, error)
	// ListDocuments returns all stored documents ordered by file path.
	ListDocuments(ctx context.Context) ([]Document, error)
	// DocumentCount returns the total number of stored documents.
	DocumentCount(ctx context.Context) (int, error)
	// ChunkCount returns the number of chunks matching the filter.
	ChunkCount(ctx context.Context, filter ChunkFilter) (int, error)
	// SearchSimilar returns chunks whose embedding exceeds the similarity
	// threshold, ordered by descending similarity, capped at the limit.
	SearchSimilar(ctx context.Context, embedding []float32, opts SearchOptions) ([]Match, error)
	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
	// Close releases any resources held by the backend.
	Close() error
}
