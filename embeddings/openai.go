package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

type openAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
}

func NewOpenAIEmbedder(opts Options) Embedder {
	cfg := openai.DefaultConfig(opts.OpenAIAPIKey)
	if opts.OpenAIBaseURL != "" {
		cfg.BaseURL = opts.OpenAIBaseURL
	}
	return newGoOpenAIEmbedder(cfg, opts)
}

// NewAzureEmbedder uses an Azure OpenAI embeddings deployment named by opts.Model.
func NewAzureEmbedder(opts Options) Embedder {
	cfg := openai.DefaultAzureConfig(opts.AzureKey, opts.AzureEndpoint)
	if opts.AzureAPIVersion != "" {
		cfg.APIVersion = opts.AzureAPIVersion
	}
	cfg.AzureModelMapperFunc = func(model string) string { return model }
	return newGoOpenAIEmbedder(cfg, opts)
}

func newGoOpenAIEmbedder(cfg openai.ClientConfig, opts Options) *openAIEmbedder {
	return &openAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		dimension: opts.Dimension,
	}
}

func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("create openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	results := make([][]float32, len(resp.Data))
	for _, datum := range resp.Data {
		if e.dimension > 0 && len(datum.Embedding) != e.dimension {
			return nil, fmt.Errorf("openai embedding dimension mismatch: expected %d, got %d", e.dimension, len(datum.Embedding))
		}
		if datum.Index < 0 || datum.Index >= len(results) {
			return nil, fmt.Errorf("openai embedding index %d out of range", datum.Index)
		}
		results[datum.Index] = datum.Embedding
	}

	return results, nil
}
