// Package ingest turns files on disk into stored documents and embedded
// chunks. A single file goes through read, hash, split, embed, and store;
// directories run the same steps as a staged concurrent pipeline.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"knowbase/internal/chunker"
	"knowbase/internal/storage"
)

// Embedder produces embedding vectors for batches of text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Pipeline wires a storage backend, a splitter registry, and an embedder
// into an ingestion flow.
type Pipeline struct {
	Backend  storage.Backend
	Registry *chunker.Registry
	Embedder Embedder

	// SkipUnchanged skips files whose content hash matches the stored
	// document. When false every file is replaced unconditionally.
	SkipUnchanged bool

	// Workers sets the concurrency of the hash and chunk stages for
	// directory ingestion. Zero means one worker per CPU.
	Workers int
}

// Result reports the outcome of ingesting a single file.
type Result struct {
	DocumentID string
	FilePath   string
	Chunks     int
	Skipped    bool
}

// ProcessFile ingests one file under the given logical path. Re-ingesting
// an existing path replaces the stored document and all of its chunks.
func (p *Pipeline) ProcessFile(ctx context.Context, path, logicalPath string) (*Result, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return p.ingest(ctx, logicalPath, string(src))
}

// ProcessText ingests in-memory content under the given logical path.
func (p *Pipeline) ProcessText(ctx context.Context, logicalPath, content string) (*Result, error) {
	return p.ingest(ctx, logicalPath, content)
}

func (p *Pipeline) ingest(ctx context.Context, logicalPath, content string) (*Result, error) {
	hash := contentHash(content)

	if p.SkipUnchanged {
		existing, err := p.Backend.GetDocument(ctx, logicalPath)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", logicalPath, err)
		}
		if existing != nil && existing.ContentHash == hash {
			return &Result{DocumentID: existing.ID, FilePath: logicalPath, Skipped: true}, nil
		}
	}

	splitter := p.Registry.Lookup(logicalPath)
	chunks := splitter.Split(content)

	embeddings, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", logicalPath, err)
	}

	doc := buildDocument(logicalPath, content, hash, splitter.Name())
	docID, err := p.Backend.StoreDocument(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("store document %s: %w", logicalPath, err)
	}

	for i, c := range chunks {
		_, err := p.Backend.StoreChunk(ctx, docID, chunkRecord(doc, c, embeddings[i]))
		if err != nil {
			return nil, fmt.Errorf("store chunk %s: %w", storage.ChunkKey(docID, c.Index), err)
		}
	}

	return &Result{DocumentID: docID, FilePath: logicalPath, Chunks: len(chunks)}, nil
}

func (p *Pipeline) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embeddings, err := p.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(chunks))
	}
	return embeddings, nil
}

func buildDocument(logicalPath, content, hash, strategy string) storage.Document {
	return storage.Document{
		Title:       titleFromPath(logicalPath),
		FilePath:    logicalPath,
		FileType:    strings.TrimPrefix(filepath.Ext(logicalPath), "."),
		FileSize:    int64(len(content)),
		ContentHash: hash,
		Metadata: map[string]any{
			"word_count":        len(strings.Fields(content)),
			"chunking_strategy": strategy,
			"processed_at":      time.Now().UTC().Format(time.RFC3339),
		},
	}
}

func titleFromPath(logicalPath string) string {
	base := filepath.Base(logicalPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// chunkRecord builds the stored chunk. Its metadata extends the parent
// document's metadata with chunk-specific fields; parent keys are carried
// through unchanged.
func chunkRecord(doc storage.Document, c chunker.Chunk, embedding []float32) storage.Chunk {
	start, end := c.Start, c.End
	meta := make(map[string]any, len(doc.Metadata)+3)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta["chunk_size"] = len(c.Content)
	meta["source_path"] = doc.FilePath
	meta["file_type"] = doc.FileType
	return storage.Chunk{
		Content:   c.Content,
		Index:     c.Index,
		Start:     &start,
		End:       &end,
		Embedding: embedding,
		Type:      c.Type,
		Metadata:  meta,
	}
}

func contentHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// HashMatches reports whether a stored document already carries the given
// content's hash.
func HashMatches(doc *storage.Document, content string) bool {
	if doc == nil {
		return false
	}
	return doc.ContentHash == contentHash(content)
}
