package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AzureClient talks to the Azure AI Search REST API.
type AzureClient struct {
	endpoint   string
	key        string
	apiVersion string
	fields     Fields
	client     *http.Client
	logger     *slog.Logger
}

type AzureOptions struct {
	Endpoint   string
	Key        string
	APIVersion string
	Fields     Fields
	Timeout    time.Duration
}

type azureSearchRequest struct {
	Search string `json:"search"`
	Top    int    `json:"top"`
	Count  bool   `json:"count"`
	Select string `json:"select,omitempty"`
}

type azureSearchResponse struct {
	Count *int64           `json:"@odata.count"`
	Value []map[string]any `json:"value"`
}

type azureIndexList struct {
	Value []struct {
		Name string `json:"name"`
	} `json:"value"`
}

type azureError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewAzureClient(opts AzureOptions, logger *slog.Logger) *AzureClient {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.APIVersion == "" {
		opts.APIVersion = "2024-07-01"
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &AzureClient{
		endpoint:   strings.TrimRight(opts.Endpoint, "/"),
		key:        opts.Key,
		apiVersion: opts.APIVersion,
		fields:     opts.Fields,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *AzureClient) Search(ctx context.Context, query, collection string, limit int) ([]Fragment, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	body, err := json.Marshal(azureSearchRequest{
		Search: query,
		Top:    limit,
		Count:  true,
		Select: c.fields.selectList(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s",
		c.endpoint, url.PathEscape(collection), url.QueryEscape(c.apiVersion))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var parsed azureSearchResponse
	if err := c.do(req, &parsed); err != nil {
		return nil, fmt.Errorf("search index %s: %w", collection, err)
	}

	if parsed.Count != nil {
		c.logger.Debug("search results", "collection", collection, "total", *parsed.Count, "returned", len(parsed.Value))
	}

	fragments := make([]Fragment, 0, len(parsed.Value))
	for _, doc := range parsed.Value {
		fragments = append(fragments, c.fragmentFrom(doc, collection))
	}
	return fragments, nil
}

// ListCollections returns the names of every index in the service.
func (c *AzureClient) ListCollections(ctx context.Context) ([]string, error) {
	endpoint := fmt.Sprintf("%s/indexes?api-version=%s&$select=name", c.endpoint, url.QueryEscape(c.apiVersion))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create list indexes request: %w", err)
	}

	var parsed azureIndexList
	if err := c.do(req, &parsed); err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}

	names := make([]string, 0, len(parsed.Value))
	for _, idx := range parsed.Value {
		names = append(names, idx.Name)
	}
	return names, nil
}

func (c *AzureClient) do(req *http.Request, dst any) error {
	req.Header.Set("api-key", c.key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call azure search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("read azure search error body: %w", readErr)
		}
		var apiErr azureError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("azure search error (%s): %s", resp.Status, apiErr.Error.Message)
		}
		return fmt.Errorf("azure search returned status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode azure search response: %w", err)
	}
	return nil
}

func (c *AzureClient) fragmentFrom(doc map[string]any, collection string) Fragment {
	title := stringField(doc, c.fields.Title)
	if title == "" {
		title = stringField(doc, c.fields.ID)
	}

	fragment := Fragment{
		Title:      DisplayName(title),
		Snippet:    stringField(doc, c.fields.Content),
		Collection: collection,
	}
	if score, ok := doc["@search.score"].(float64); ok {
		fragment.Score = score
	}
	return fragment
}

func stringField(doc map[string]any, name string) string {
	if name == "" {
		return ""
	}
	value, ok := doc[name].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

var (
	_ Searcher = (*AzureClient)(nil)
	_ Lister   = (*AzureClient)(nil)
)
