package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ollamaEmbedder struct {
	host      string
	model     string
	dimension int
	client    *http.Client
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

func NewOllamaEmbedder(opts Options) Embedder {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = "http://localhost:11434"
	}

	return &ollamaEmbedder{
		host:      host,
		model:     opts.Model,
		dimension: opts.Dimension,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Embed sends the whole batch to /api/embed in one request.
func (e *ollamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ollama embed API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embed API returned status %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var payload ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("ollama embed error: %s", payload.Error)
	}
	if len(payload.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(payload.Embeddings), len(texts))
	}

	for _, vec := range payload.Embeddings {
		if e.dimension > 0 && len(vec) != e.dimension {
			return nil, fmt.Errorf("ollama embedding dimension mismatch: expected %d, got %d", e.dimension, len(vec))
		}
	}

	return payload.Embeddings, nil
}
