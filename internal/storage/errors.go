package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by backends. They are always wrapped in an *Error
// carrying the failing operation and the offending key.
var (
	// ErrDuplicateChunk reports an insert for a (document id, chunk index)
	// pair that already exists. It signals caller-side misuse: chunks are
	// replaced at the document level, never upserted individually.
	ErrDuplicateChunk = errors.New("chunk index already exists for document")

	// ErrUnknownDocument reports a chunk insert referencing a document id
	// that does not exist.
	ErrUnknownDocument = errors.New("document does not exist")

	// ErrDimensionMismatch reports an embedding whose length differs from
	// the dimensionality fixed at schema-creation time.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidThreshold reports a similarity threshold outside [0, 1].
	ErrInvalidThreshold = errors.New("similarity threshold must be in [0, 1]")
)

// Error identifies a failed storage operation and the key it failed on, so
// callers can decide between retry and abort without parsing messages.
type Error struct {
	Op  string // failing operation, e.g. "insert chunk"
	Key string // offending key, e.g. the file path or "(docID, 3)"
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ChunkKey formats the composite chunk key for error reporting.
func ChunkKey(documentID string, index int) string {
	return fmt.Sprintf("(%s, %d)", documentID, index)
}
