package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fabfab/makrai/config"
	"github.com/fabfab/makrai/llm"
)

func TestNewClientOllama(t *testing.T) {
	cfg := config.Config{
		LLM:        config.LLMConfig{Provider: config.ProviderOllama, Model: "llama3.1:8b"},
		OllamaHost: "http://localhost:11434",
	}

	client, err := llm.NewClient(cfg)
	require.NoError(t, err)
	require.NotNil(t, client)
}

func TestNewClientOpenAIRequiresAPIKey(t *testing.T) {
	cfg := config.Config{LLM: config.LLMConfig{Provider: config.ProviderOpenAI, Model: "gpt-4o"}}

	_, err := llm.NewClient(cfg)
	require.Error(t, err)
}

func TestNewClientRejectsAzure(t *testing.T) {
	cfg := config.Config{LLM: config.LLMConfig{Provider: config.ProviderAzure}}

	_, err := llm.NewClient(cfg)
	require.Error(t, err)
}

func TestOllamaStreamYieldsDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, true, req["stream"])

		_, _ = w.Write([]byte(
			`{"message":{"role":"assistant","content":"Olá"},"done":false}` + "\n" +
				`{"message":{"role":"assistant","content":", mundo"},"done":false}` + "\n" +
				`{"message":{"role":"assistant","content":""},"done":true}` + "\n"))
	}))
	defer srv.Close()

	client := llm.NewOllamaClient(llm.Options{OllamaHost: srv.URL, Model: "m"})
	stream, err := client.Stream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "oi"}})
	require.NoError(t, err)
	require.Equal(t, "Olá, mundo", drain(t, stream))
}

func TestOllamaStreamSurfacesInlineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"model not found"}` + "\n"))
	}))
	defer srv.Close()

	client := llm.NewOllamaClient(llm.Options{OllamaHost: srv.URL})
	stream, err := client.Stream(context.Background(), nil)
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Recv()
	require.ErrorContains(t, err, "model not found")
}
