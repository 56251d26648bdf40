package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

type openAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(opts Options) Client {
	cfg := openai.DefaultConfig(opts.OpenAIAPIKey)
	if opts.OpenAIBaseURL != "" {
		cfg.BaseURL = opts.OpenAIBaseURL
	}

	return &openAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  opts.Model,
	}
}

func (c *openAIClient) Stream(ctx context.Context, messages []Message) (Stream, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("create openai chat stream: %w", err)
	}
	return &openAIStream{stream: stream}, nil
}

// openAIStream adapts go-openai's SSE reader to Stream.
type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", fmt.Errorf("receive chat stream: %w", err)
		}
		// Azure sends choice-less chunks carrying filter results.
		if len(resp.Choices) == 0 {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		converted[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return converted
}
