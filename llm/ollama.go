package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ollamaClient struct {
	host   string
	model  string
	client *http.Client
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error"`
}

func NewOllamaClient(opts Options) Client {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = "http://localhost:11434"
	}

	return &ollamaClient{
		host:  host,
		model: opts.Model,
		client: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: 60 * time.Second},
		},
	}
}

func (c *ollamaClient) Stream(ctx context.Context, messages []Message) (Stream, error) {
	payload := ollamaChatRequest{
		Model:    c.model,
		Messages: toOllamaMessages(messages),
		Stream:   true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ollama chat API: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("read ollama chat error body: %w", readErr)
		}
		if len(data) > 0 {
			return nil, fmt.Errorf("ollama chat API error: %s", strings.TrimSpace(string(data)))
		}
		return nil, fmt.Errorf("ollama chat API returned status %s", resp.Status)
	}

	return &ollamaStream{body: resp.Body, dec: json.NewDecoder(resp.Body)}, nil
}

// ollamaStream reads the newline delimited JSON chunks of /api/chat.
type ollamaStream struct {
	body io.ReadCloser
	dec  *json.Decoder
	done bool
}

func (s *ollamaStream) Recv() (string, error) {
	for !s.done {
		var chunk ollamaChatResponse
		if err := s.dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				break
			}
			return "", fmt.Errorf("decode ollama stream response: %w", err)
		}

		if chunk.Error != "" {
			return "", fmt.Errorf("ollama chat error: %s", chunk.Error)
		}

		s.done = chunk.Done
		if chunk.Message.Content != "" {
			return chunk.Message.Content, nil
		}
	}
	return "", io.EOF
}

func (s *ollamaStream) Close() error {
	return s.body.Close()
}

func toOllamaMessages(messages []Message) []ollamaChatMessage {
	if len(messages) == 0 {
		return nil
	}
	converted := make([]ollamaChatMessage, len(messages))
	for i := range messages {
		converted[i] = ollamaChatMessage(messages[i])
	}
	return converted
}
