package search_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fabfab/makrai/search"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(t *testing.T, handler http.HandlerFunc) *search.AzureClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return search.NewAzureClient(search.AzureOptions{
		Endpoint: srv.URL + "/",
		Key:      "search-key",
		Fields:   search.Fields{Title: "title", ID: "parent_id", Content: "chunk"},
	}, quietLogger())
}

func TestAzureSearchShapesRequest(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/indexes/epotl-dp/docs/search", r.URL.Path)
		require.Equal(t, "2024-07-01", r.URL.Query().Get("api-version"))
		require.Equal(t, "search-key", r.Header.Get("api-key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "prazo de entrega do Projeto XYZ", body["search"])
		require.EqualValues(t, 5, body["top"])
		require.Equal(t, true, body["count"])
		require.Equal(t, "title,parent_id,chunk", body["select"])

		_, _ = w.Write([]byte(`{"@odata.count": 1, "value": [
			{"@search.score": 2.5, "title": "Cronograma_Projeto_XYZ-7.pdf", "chunk": "Entrega em junho de 2025."}
		]}`))
	})

	fragments, err := client.Search(context.Background(), "prazo de entrega do Projeto XYZ", "epotl-dp", 5)
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	require.Equal(t, "Cronograma_Projeto_XYZ-7.pdf", fragments[0].Title)
	require.Equal(t, "Entrega em junho de 2025.", fragments[0].Snippet)
	require.Equal(t, "epotl-dp", fragments[0].Collection)
	require.InDelta(t, 2.5, fragments[0].Score, 1e-9)
}

func TestAzureSearchFieldFallbacks(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value": [
			{"parent_id": "https://acct.blob.core.windows.net/docs/Manual RH.pdf"},
			{"title": "", "parent_id": null, "chunk": 42},
			{"title": "pasta/sub/Relatorio.pdf", "chunk": "texto"}
		]}`))
	})

	fragments, err := client.Search(context.Background(), "q", "recursos-humanos", 5)
	require.NoError(t, err)
	require.Len(t, fragments, 3)

	require.Equal(t, "Manual RH.pdf", fragments[0].Title)
	require.Equal(t, "", fragments[0].Snippet)
	require.Equal(t, search.Placeholder, fragments[1].Title)
	require.Equal(t, "", fragments[1].Snippet)
	require.Equal(t, "Relatorio.pdf", fragments[2].Title)
}

func TestAzureSearchSurfacesServiceErrors(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": {"code": "ResourceNotFound", "message": "index not found"}}`))
	})

	_, err := client.Search(context.Background(), "q", "missing", 5)
	require.ErrorContains(t, err, "index not found")
}

func TestAzureListCollections(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/indexes", r.URL.Path)
		require.Equal(t, "name", r.URL.Query().Get("$select"))
		_, _ = w.Write([]byte(`{"value": [{"name": "epotl-dp"}, {"name": "vopak-dp"}]}`))
	})

	names, err := client.ListCollections(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"epotl-dp", "vopak-dp"}, names)
}

func TestDisplayName(t *testing.T) {
	require.Equal(t, search.Placeholder, search.DisplayName("  "))
	require.Equal(t, "a.pdf", search.DisplayName(`C:\docs\a.pdf`))
	require.Equal(t, "b.pdf", search.DisplayName("x/y/b.pdf"))
}
