package postgres

// Integration tests against a real PostgreSQL instance with pgvector.
// They are skipped unless KNOWBASE_TEST_DATABASE_URL points at a disposable
// database; the suite bootstraps and resets the schema around itself.

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowbase/internal/storage"
)

func setupTestBackend(t *testing.T) *Backend {
	t.Helper()

	url := os.Getenv("KNOWBASE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("KNOWBASE_TEST_DATABASE_URL not set; skipping postgres integration tests")
	}

	b, err := New(Config{URL: url})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Reset(ctx))
	require.NoError(t, b.Bootstrap(ctx))
	t.Cleanup(func() {
		assert.NoError(t, b.Reset(context.Background()))
	})
	return b
}

func testEmbedding(seed float32) []float32 {
	v := make([]float32, DefaultDimension)
	v[0] = seed
	v[1] = 1
	return v
}

func TestStoreDocumentReplaceSemantics(t *testing.T) {
	b := setupTestBackend(t)
	ctx := context.Background()

	d1, err := b.StoreDocument(ctx, storage.Document{Title: "A", FilePath: "a.txt"})
	require.NoError(t, err)

	for i := range 2 {
		_, err := b.StoreChunk(ctx, d1, storage.Chunk{Content: "c", Index: i})
		require.NoError(t, err)
	}
	n, err := b.ChunkCount(ctx, storage.ChunkFilter{DocumentID: d1})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-ingest the same path: fresh id, old chunks gone.
	d2, err := b.StoreDocument(ctx, storage.Document{Title: "A2", FilePath: "a.txt"})
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)

	_, err = b.StoreChunk(ctx, d2, storage.Chunk{Content: "c", Index: 0})
	require.NoError(t, err)

	total, err := b.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	n, err = b.ChunkCount(ctx, storage.ChunkFilter{DocumentID: d1})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = b.ChunkCount(ctx, storage.ChunkFilter{DocumentID: d2})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = b.ChunkCount(ctx, storage.ChunkFilter{FilePath: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStoreChunkDuplicateIndex(t *testing.T) {
	b := setupTestBackend(t)
	ctx := context.Background()

	id, err := b.StoreDocument(ctx, storage.Document{FilePath: "dup.txt"})
	require.NoError(t, err)

	_, err = b.StoreChunk(ctx, id, storage.Chunk{Content: "one", Index: 0})
	require.NoError(t, err)

	_, err = b.StoreChunk(ctx, id, storage.Chunk{Content: "two", Index: 0})
	require.ErrorIs(t, err, storage.ErrDuplicateChunk)

	var serr *storage.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "insert chunk", serr.Op)
}

func TestStoreChunkUnknownDocument(t *testing.T) {
	b := setupTestBackend(t)

	_, err := b.StoreChunk(context.Background(),
		"00000000-0000-0000-0000-000000000000",
		storage.Chunk{Content: "orphan", Index: 0})
	require.ErrorIs(t, err, storage.ErrUnknownDocument)
}

func TestStoreChunkDimensionMismatch(t *testing.T) {
	b := setupTestBackend(t)
	ctx := context.Background()

	id, err := b.StoreDocument(ctx, storage.Document{FilePath: "dim.txt"})
	require.NoError(t, err)

	_, err = b.StoreChunk(ctx, id, storage.Chunk{
		Content:   "short vector",
		Index:     0,
		Embedding: []float32{1, 2, 3},
	})
	require.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestSearchSimilarOrderingAndLimit(t *testing.T) {
	b := setupTestBackend(t)
	ctx := context.Background()

	id, err := b.StoreDocument(ctx, storage.Document{FilePath: "search.txt"})
	require.NoError(t, err)

	exact := testEmbedding(1)
	_, err = b.StoreChunk(ctx, id, storage.Chunk{Content: "exact", Index: 0, Embedding: exact})
	require.NoError(t, err)
	_, err = b.StoreChunk(ctx, id, storage.Chunk{Content: "near", Index: 1, Embedding: testEmbedding(0.9)})
	require.NoError(t, err)
	_, err = b.StoreChunk(ctx, id, storage.Chunk{Content: "far", Index: 2, Embedding: testEmbedding(-1)})
	require.NoError(t, err)
	// Chunks without embeddings never match.
	_, err = b.StoreChunk(ctx, id, storage.Chunk{Content: "no embedding", Index: 3})
	require.NoError(t, err)

	matches, err := b.SearchSimilar(ctx, exact, storage.SearchOptions{Threshold: 0.5, Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "exact", matches[0].Chunk.Content)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-4)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Similarity, matches[i].Similarity)
		assert.Greater(t, matches[i].Similarity, 0.5)
	}

	limited, err := b.SearchSimilar(ctx, exact, storage.SearchOptions{Threshold: 0, Limit: 1})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(limited), 1)
}

func TestSearchSimilarRejectsBadThreshold(t *testing.T) {
	b := setupTestBackend(t)

	_, err := b.SearchSimilar(context.Background(), testEmbedding(1), storage.SearchOptions{Threshold: 1.5})
	require.ErrorIs(t, err, storage.ErrInvalidThreshold)
}

func TestNeedsReplacePredicateSkips(t *testing.T) {
	url := os.Getenv("KNOWBASE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("KNOWBASE_TEST_DATABASE_URL not set; skipping postgres integration tests")
	}

	b, err := New(Config{URL: url, NeedsReplace: storage.HashChanged})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Reset(ctx))
	require.NoError(t, b.Bootstrap(ctx))
	t.Cleanup(func() { assert.NoError(t, b.Reset(context.Background())) })

	doc := storage.Document{FilePath: "stable.txt", ContentHash: "abc"}
	d1, err := b.StoreDocument(ctx, doc)
	require.NoError(t, err)

	// Same hash: the stored document survives with its original id.
	d2, err := b.StoreDocument(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	// Changed hash: replaced with a fresh id.
	doc.ContentHash = "def"
	d3, err := b.StoreDocument(ctx, doc)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	b := setupTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Bootstrap(ctx))
	require.NoError(t, b.Reset(ctx))
	require.NoError(t, b.Reset(ctx))
	require.NoError(t, b.Bootstrap(ctx))
	require.NoError(t, b.HealthCheck(ctx))
}
