package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultStrictness    = 3
	defaultTopNDocuments = 5
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DataSource is an Azure OpenAI "on your data" retrieval extension.
type DataSource struct {
	Type       string           `json:"type"`
	Parameters SearchParameters `json:"parameters"`
}

type SearchParameters struct {
	Endpoint              string            `json:"endpoint"`
	IndexName             string            `json:"index_name"`
	SemanticConfiguration string            `json:"semantic_configuration"`
	QueryType             string            `json:"query_type"`
	FieldsMapping         map[string]string `json:"fields_mapping"`
	InScope               bool              `json:"in_scope"`
	RoleInformation       string            `json:"role_information"`
	Strictness            int               `json:"strictness"`
	TopNDocuments         int               `json:"top_n_documents"`
	Authentication        Authentication    `json:"authentication"`
}

type Authentication struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

type AzureOptions struct {
	Endpoint   string
	Key        string
	Deployment string
	APIVersion string

	SearchEndpoint  string
	SearchKey       string
	RoleInformation string
	Strictness      int
	TopNDocuments   int

	HTTPClient httpDoer
}

// AzureClient streams completions grounded by Azure AI Search on the
// service side.
type AzureClient struct {
	opts AzureOptions
}

func NewAzureClient(opts AzureOptions) *AzureClient {
	if opts.APIVersion == "" {
		opts.APIVersion = "2024-06-01"
	}
	if opts.RoleInformation == "" {
		opts.RoleInformation = RoleInformation
	}
	if opts.Strictness == 0 {
		opts.Strictness = defaultStrictness
	}
	if opts.TopNDocuments == 0 {
		opts.TopNDocuments = defaultTopNDocuments
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")
	return &AzureClient{opts: opts}
}

// DataSource returns the retrieval extension scoped to one collection.
func (c *AzureClient) DataSource(collection string) DataSource {
	return DataSource{
		Type: "azure_search",
		Parameters: SearchParameters{
			Endpoint:              c.opts.SearchEndpoint,
			IndexName:             collection,
			SemanticConfiguration: "default",
			QueryType:             "semantic",
			FieldsMapping:         map[string]string{},
			InScope:               true,
			RoleInformation:       c.opts.RoleInformation,
			Strictness:            c.opts.Strictness,
			TopNDocuments:         c.opts.TopNDocuments,
			Authentication: Authentication{
				Type: "api_key",
				Key:  c.opts.SearchKey,
			},
		},
	}
}

// Complete streams an answer to history grounded in collection.
func (c *AzureClient) Complete(ctx context.Context, history []Message, collection string) (Stream, error) {
	cfg := openai.DefaultAzureConfig(c.opts.Key, c.opts.Endpoint)
	cfg.APIVersion = c.opts.APIVersion
	cfg.AzureModelMapperFunc = func(model string) string { return model }
	cfg.HTTPClient = &dataSourceDoer{
		next:    c.opts.HTTPClient,
		sources: []DataSource{c.DataSource(collection)},
	}

	client := openai.NewClientWithConfig(cfg)
	stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.opts.Deployment,
		Messages: toOpenAIMessages(history),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("create azure chat stream: %w", err)
	}
	return &openAIStream{stream: stream}, nil
}

// dataSourceDoer adds the data_sources extension to chat completion bodies,
// a field go-openai's request type does not carry.
type dataSourceDoer struct {
	next    httpDoer
	sources []DataSource
}

func (d *dataSourceDoer) Do(req *http.Request) (*http.Response, error) {
	if req.Body == nil || req.Method != http.MethodPost {
		return d.next.Do(req)
	}

	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read chat request body: %w", err)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode chat request body: %w", err)
	}

	sources, err := json.Marshal(d.sources)
	if err != nil {
		return nil, fmt.Errorf("marshal data sources: %w", err)
	}
	payload["data_sources"] = sources

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode chat request body: %w", err)
	}

	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.ContentLength = int64(len(body))

	return d.next.Do(req)
}
