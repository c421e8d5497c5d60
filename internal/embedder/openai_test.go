package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbeddings serves an OpenAI-shaped /embeddings endpoint producing
// deterministic 3-dim vectors and recording batch sizes.
func fakeEmbeddings(t *testing.T, batches *[]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*batches = append(*batches, len(req.Input))

		type datum struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Data []datum `json:"data"`
		}{}
		for i := range req.Input {
			resp.Data = append(resp.Data, datum{Index: i, Embedding: []float32{float32(len(req.Input[i])), 0, 1}})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestEmbedBatching(t *testing.T) {
	var batches []int
	srv := fakeEmbeddings(t, &batches)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Dimension: 3, BatchSize: 2})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := c.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	assert.Equal(t, []int{2, 2, 1}, batches)
	for i, v := range vecs {
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	c := New(Config{BaseURL: "http://unused", Dimension: 3})
	vecs, err := c.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestEmbedSingle(t *testing.T) {
	var batches []int
	srv := fakeEmbeddings(t, &batches)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Dimension: 3})
	vec, err := c.EmbedSingle(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0, 1}, vec)
}

func TestEmbedDimensionMismatch(t *testing.T) {
	var batches []int
	srv := fakeEmbeddings(t, &batches)
	defer srv.Close()

	// Server produces 3-dim vectors but the client expects 8.
	c := New(Config{BaseURL: srv.URL, Dimension: 8})
	_, err := c.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Dimension: 3})
	_, err := c.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
