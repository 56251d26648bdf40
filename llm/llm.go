// Package llm streams chat completions from the supported model providers.
package llm

import (
	"context"
	"fmt"

	"github.com/fabfab/makrai/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Stream is a finite, forward-only sequence of answer deltas. Recv returns
// io.EOF once the provider signals completion; a stream cannot be restarted.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Client opens an ungrounded completion stream.
type Client interface {
	Stream(ctx context.Context, messages []Message) (Stream, error)
}

type Options struct {
	Provider string
	Model    string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// NewClient returns the ungrounded client for the openai and ollama providers.
// The azure provider grounds server side and is built with NewAzureClient.
func NewClient(cfg config.Config) (Client, error) {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}
