package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewOllamaDriverPicksDimensionsByModel(t *testing.T) {
	require.Equal(t, 768, NewOllamaDriver("", "nomic-embed-text").Dimensions())
	require.Equal(t, 1024, NewOllamaDriver("", "mxbai-embed-large").Dimensions())
	require.Equal(t, 384, NewOllamaDriver("", "all-minilm").Dimensions())
}

func TestNewOllamaDriverDefaultsEndpoint(t *testing.T) {
	d := NewOllamaDriver("", "nomic-embed-text")
	require.Equal(t, "ollama", d.Kind())
	require.Equal(t, "http://localhost:11434", d.endpoint)
}

func TestOllamaDriverEmbedRejectsOversizedBatch(t *testing.T) {
	d := NewOllamaDriver("http://127.0.0.1:1", "nomic-embed-text", WithOllamaBatchSize(1))
	_, err := d.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
}

func TestOllamaDriverEmbedSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{0.1, 0.2}}})
	}))
	defer srv.Close()

	d := NewOllamaDriver(srv.URL, "nomic-embed-text")
	vecs, err := d.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Equal(t, [][]float64{{0.1, 0.2}}, vecs)
}

func TestOllamaDriverEmbedMismatchedCountIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{}})
	}))
	defer srv.Close()

	d := NewOllamaDriver(srv.URL, "nomic-embed-text")
	_, err := d.Embed(context.Background(), []string{"hello"})
	require.Error(t, err)
}

func TestNewOpenAIDriverPicksDimensionsByModel(t *testing.T) {
	require.Equal(t, 3072, NewOpenAIDriver("k", "text-embedding-3-large").Dimensions())
	require.Equal(t, 1536, NewOpenAIDriver("k", "text-embedding-3-small").Dimensions())
}

func TestOpenAIDriverEmbedReordersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer testkey", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(openAIEmbedResponse{
			Data: []openAIEmbedData{
				{Embedding: []float64{2}, Index: 1},
				{Embedding: []float64{1}, Index: 0},
			},
		})
	}))
	defer srv.Close()

	d := NewOpenAIDriver("testkey", "text-embedding-3-small", WithOpenAIEndpoint(srv.URL))
	vecs, err := d.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, [][]float64{{1}, {2}}, vecs)
}

func TestOpenAIDriverEmbedReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openAIEmbedResponse{Error: &openAIError{Message: "bad key", Type: "auth_error"}})
	}))
	defer srv.Close()

	d := NewOpenAIDriver("bad", "text-embedding-3-small", WithOpenAIEndpoint(srv.URL))
	_, err := d.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
}

func TestRegistryRegisterGetList(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	d := NewOllamaDriver("", "nomic-embed-text")
	r.Register("ollama", d)

	got, err := r.Get("ollama")
	require.NoError(t, err)
	require.Equal(t, d, got)
	require.Equal(t, []string{"ollama"}, r.List())
}

func TestRegistryGetMissingReturnsError(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	_, err := r.Get("missing")
	require.Error(t, err)
}

func TestSingleTextEmbedderUnwrapsFirstVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{0.5, 0.5}}})
	}))
	defer srv.Close()

	embedder := NewSingleTextEmbedder(NewOllamaDriver(srv.URL, "nomic-embed-text"))
	vec, err := embedder.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, []float64{0.5, 0.5}, vec)
}

func TestSingleTextEmbedderPropagatesDriverError(t *testing.T) {
	embedder := NewSingleTextEmbedder(NewOllamaDriver("http://127.0.0.1:1", "nomic-embed-text"))
	_, err := embedder.Embed(context.Background(), "hello")
	require.Error(t, err)
}
