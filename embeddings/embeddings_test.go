package embeddings_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fabfab/makrai/config"
	"github.com/fabfab/makrai/embeddings"
)

func TestNewEmbedderOllama(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingConfig{Provider: config.ProviderOllama, Model: "nomic-embed-text", Dimension: 3},
		OllamaHost: "http://localhost:11434",
	}

	embedder, err := embeddings.NewEmbedder(cfg)
	require.NoError(t, err)
	require.NotNil(t, embedder)
}

func TestNewEmbedderOpenAIMissingKey(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingConfig{Provider: config.ProviderOpenAI, Model: "text-embedding-3-small"},
	}

	_, err := embeddings.NewEmbedder(cfg)
	require.Error(t, err)
}

func TestNewEmbedderAzureNeedsEndpoint(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingConfig{Provider: config.ProviderAzure, Model: "embeddings"},
	}

	_, err := embeddings.NewEmbedder(cfg)
	require.Error(t, err)
}

func TestOllamaEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req["input"], 2)

		_, _ = w.Write([]byte(`{"embeddings": [[0.1, 0.2], [0.3, 0.4]]}`))
	}))
	defer srv.Close()

	embedder := embeddings.NewOllamaEmbedder(embeddings.Options{OllamaHost: srv.URL, Model: "m", Dimension: 2})
	vectors, err := embedder.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vectors)
}

func TestOllamaEmbedDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings": [[0.1, 0.2, 0.3]]}`))
	}))
	defer srv.Close()

	embedder := embeddings.NewOllamaEmbedder(embeddings.Options{OllamaHost: srv.URL, Dimension: 2})
	_, err := embedder.Embed(context.Background(), []string{"a"})
	require.ErrorContains(t, err, "dimension mismatch")
}
