package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowbase/internal/storage"
)

const testDimension = 4

// setupTestBackend creates a temporary database with a small embedding
// dimensionality so test vectors stay readable.
func setupTestBackend(t *testing.T) *Backend {
	t.Helper()

	b, err := Open(Config{
		Path:      filepath.Join(t.TempDir(), "knowledge.db"),
		Dimension: testDimension,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, b.Close())
	})
	return b
}

func storeDoc(t *testing.T, b *Backend, path string) string {
	t.Helper()
	id, err := b.StoreDocument(context.Background(), storage.Document{
		Title:    filepath.Base(path),
		FilePath: path,
	})
	require.NoError(t, err)
	return id
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "knowledge.db")

	b, err := Open(Config{Path: path, Dimension: testDimension})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, b.Close()) })

	require.NoError(t, b.HealthCheck(context.Background()))
}

func TestStoreDocumentInsertAndReplace(t *testing.T) {
	b := setupTestBackend(t)
	ctx := context.Background()

	d1, err := b.StoreDocument(ctx, storage.Document{
		Title:       "A",
		FilePath:    "a.txt",
		FileType:    ".txt",
		FileSize:    12,
		ContentHash: "h1",
		Metadata:    map[string]any{"language": "en"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, d1)

	stored, err := b.GetDocument(ctx, "a.txt")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, d1, stored.ID)
	assert.Equal(t, "A", stored.Title)
	assert.Equal(t, "h1", stored.ContentHash)
	assert.Equal(t, "en", stored.Metadata["language"])

	// Re-ingesting the same path yields a fresh identity.
	d2, err := b.StoreDocument(ctx, storage.Document{Title: "A2", FilePath: "a.txt"})
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)

	n, err := b.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err = b.GetDocument(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "A2", stored.Title)
}

func TestGetDocumentMissing(t *testing.T) {
	b := setupTestBackend(t)

	doc, err := b.GetDocument(context.Background(), "never-stored.txt")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestReplaceDropsOldChunks(t *testing.T) {
	b := setupTestBackend(t)
	ctx := context.Background()

	d1 := storeDoc(t, b, "a.txt")
	for i := range 2 {
		_, err := b.StoreChunk(ctx, d1, storage.Chunk{Content: "old", Index: i})
		require.NoError(t, err)
	}

	d2 := storeDoc(t, b, "a.txt")
	for i := range 3 {
		_, err := b.StoreChunk(ctx, d2, storage.Chunk{Content: "new", Index: i})
		require.NoError(t, err)
	}

	old, err := b.ChunkCount(ctx, storage.ChunkFilter{DocumentID: d1})
	require.NoError(t, err)
	assert.Equal(t, 0, old)

	cur, err := b.ChunkCount(ctx, storage.ChunkFilter{DocumentID: d2})
	require.NoError(t, err)
	assert.Equal(t, 3, cur)

	byPath, err := b.ChunkCount(ctx, storage.ChunkFilter{FilePath: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, 3, byPath)
}

func TestCascadeIsScopedToOneDocument(t *testing.T) {
	b := setupTestBackend(t)
	ctx := context.Background()

	d1 := storeDoc(t, b, "a.txt")
	d2 := storeDoc(t, b, "b.txt")
	_, err := b.StoreChunk(ctx, d1, storage.Chunk{Content: "a0", Index: 0})
	require.NoError(t, err)
	_, err = b.StoreChunk(ctx, d2, storage.Chunk{Content: "b0", Index: 0})
	require.NoError(t, err)

	// Replacing a.txt must not touch b.txt's chunks.
	storeDoc(t, b, "a.txt")

	n, err := b.ChunkCount(ctx, storage.ChunkFilter{DocumentID: d2})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	total, err := b.ChunkCount(ctx, storage.ChunkFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestStoreChunkDuplicateIndex(t *testing.T) {
	b := setupTestBackend(t)
	ctx := context.Background()

	id := storeDoc(t, b, "dup.txt")
	_, err := b.StoreChunk(ctx, id, storage.Chunk{Content: "one", Index: 0})
	require.NoError(t, err)

	_, err = b.StoreChunk(ctx, id, storage.Chunk{Content: "two", Index: 0})
	require.ErrorIs(t, err, storage.ErrDuplicateChunk)

	var serr *storage.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "insert chunk", serr.Op)
	assert.Equal(t, storage.ChunkKey(id, 0), serr.Key)
}

func TestStoreChunkUnknownDocument(t *testing.T) {
	b := setupTestBackend(t)

	_, err := b.StoreChunk(context.Background(), "no-such-id", storage.Chunk{Content: "orphan", Index: 0})
	require.ErrorIs(t, err, storage.ErrUnknownDocument)
}

func TestStoreChunkDimensionMismatch(t *testing.T) {
	b := setupTestBackend(t)
	ctx := context.Background()

	id := storeDoc(t, b, "dim.txt")
	_, err := b.StoreChunk(ctx, id, storage.Chunk{
		Content:   "wrong size",
		Index:     0,
		Embedding: []float32{1, 2},
	})
	require.ErrorIs(t, err, storage.ErrDimensionMismatch)

	// Nothing was written.
	n, err := b.ChunkCount(ctx, storage.ChunkFilter{DocumentID: id})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStoreChunkPositionsAndMetadata(t *testing.T) {
	b := setupTestBackend(t)
	ctx := context.Background()

	id := storeDoc(t, b, "pos.txt")
	start, end := 0, 42
	_, err := b.StoreChunk(ctx, id, storage.Chunk{
		Content:  "positioned",
		Index:    0,
		Start:    &start,
		End:      &end,
		Type:     "semantic",
		Metadata: map[string]any{"chunk_size": float64(42)},
	})
	require.NoError(t, err)

	// Positions are optional.
	_, err = b.StoreChunk(ctx, id, storage.Chunk{Content: "floating", Index: 1})
	require.NoError(t, err)
}

func TestCountsAfterFreshIngest(t *testing.T) {
	b := setupTestBackend(t)
	ctx := context.Background()

	beforeDocs, err := b.DocumentCount(ctx)
	require.NoError(t, err)
	beforeChunks, err := b.ChunkCount(ctx, storage.ChunkFilter{})
	require.NoError(t, err)

	id := storeDoc(t, b, "fresh.txt")
	for i := range 3 {
		_, err := b.StoreChunk(ctx, id, storage.Chunk{Content: "c", Index: i})
		require.NoError(t, err)
	}

	afterDocs, err := b.DocumentCount(ctx)
	require.NoError(t, err)
	afterChunks, err := b.ChunkCount(ctx, storage.ChunkFilter{})
	require.NoError(t, err)

	assert.Equal(t, beforeDocs+1, afterDocs)
	assert.Equal(t, beforeChunks+3, afterChunks)
}

func TestSearchSimilarExactMatchFirst(t *testing.T) {
	b := setupTestBackend(t)
	ctx := context.Background()

	id := storeDoc(t, b, "search.txt")
	exact := []float32{1, 0, 0, 0}
	near := []float32{0.9, 0.1, 0, 0}
	far := []float32{0, 0, 0, 1}

	_, err := b.StoreChunk(ctx, id, storage.Chunk{Content: "exact", Index: 0, Embedding: exact})
	require.NoError(t, err)
	_, err = b.StoreChunk(ctx, id, storage.Chunk{Content: "near", Index: 1, Embedding: near})
	require.NoError(t, err)
	_, err = b.StoreChunk(ctx, id, storage.Chunk{Content: "far", Index: 2, Embedding: far})
	require.NoError(t, err)
	_, err = b.StoreChunk(ctx, id, storage.Chunk{Content: "no embedding", Index: 3})
	require.NoError(t, err)

	matches, err := b.SearchSimilar(ctx, exact, storage.SearchOptions{Threshold: 0.7, Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	assert.Equal(t, "exact", matches[0].Chunk.Content)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-4)
	for _, m := range matches {
		assert.Greater(t, m.Similarity, 0.7)
		assert.NotEqual(t, "no embedding", m.Chunk.Content)
	}
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Similarity, matches[i].Similarity)
	}
}

func TestSearchSimilarRespectsLimit(t *testing.T) {
	b := setupTestBackend(t)
	ctx := context.Background()

	id := storeDoc(t, b, "many.txt")
	for i := range 5 {
		_, err := b.StoreChunk(ctx, id, storage.Chunk{
			Content:   "c",
			Index:     i,
			Embedding: []float32{1, float32(i) * 0.01, 0, 0},
		})
		require.NoError(t, err)
	}

	matches, err := b.SearchSimilar(ctx, []float32{1, 0, 0, 0}, storage.SearchOptions{Threshold: 0, Limit: 3})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(matches), 3)
}

func TestSearchSimilarValidation(t *testing.T) {
	b := setupTestBackend(t)
	ctx := context.Background()

	_, err := b.SearchSimilar(ctx, []float32{1, 0, 0, 0}, storage.SearchOptions{Threshold: 1.5})
	require.ErrorIs(t, err, storage.ErrInvalidThreshold)

	_, err = b.SearchSimilar(ctx, []float32{1, 0}, storage.SearchOptions{Threshold: 0.5})
	require.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestSearchSimilarEmptyStore(t *testing.T) {
	b := setupTestBackend(t)

	matches, err := b.SearchSimilar(context.Background(), []float32{1, 0, 0, 0}, storage.SearchOptions{Threshold: 0.5})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestNeedsReplacePredicate(t *testing.T) {
	b, err := Open(Config{
		Path:         filepath.Join(t.TempDir(), "knowledge.db"),
		Dimension:    testDimension,
		NeedsReplace: storage.HashChanged,
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, b.Close()) })

	ctx := context.Background()
	doc := storage.Document{FilePath: "stable.txt", ContentHash: "abc"}

	d1, err := b.StoreDocument(ctx, doc)
	require.NoError(t, err)
	_, err = b.StoreChunk(ctx, d1, storage.Chunk{Content: "kept", Index: 0})
	require.NoError(t, err)

	// Unchanged hash: stored document and its chunks survive.
	d2, err := b.StoreDocument(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	n, err := b.ChunkCount(ctx, storage.ChunkFilter{DocumentID: d1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Changed hash: replaced, chunks gone.
	doc.ContentHash = "def"
	d3, err := b.StoreDocument(ctx, doc)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)

	n, err = b.ChunkCount(ctx, storage.ChunkFilter{DocumentID: d1})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHealthCheck(t *testing.T) {
	b := setupTestBackend(t)
	require.NoError(t, b.HealthCheck(context.Background()))
}

func TestListDocuments(t *testing.T) {
	b := setupTestBackend(t)
	ctx := context.Background()

	storeDoc(t, b, "b.txt")
	storeDoc(t, b, "a.txt")

	docs, err := b.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a.txt", docs[0].FilePath)
	assert.Equal(t, "b.txt", docs[1].FilePath)
}
