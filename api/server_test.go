package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fabfab/makrai/api"
	"github.com/fabfab/makrai/catalog"
	"github.com/fabfab/makrai/chat"
	"github.com/fabfab/makrai/links"
	"github.com/fabfab/makrai/llm"
	"github.com/fabfab/makrai/search"
	"github.com/fabfab/makrai/session"
)

const base = "https://promondocs.blob.core.windows.net"

type fixedSearcher []search.Fragment

func (f fixedSearcher) Search(context.Context, string, string, int) ([]search.Fragment, error) {
	return f, nil
}

type sliceStream struct {
	deltas []string
	err    error
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.deltas) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *sliceStream) Close() error { return nil }

type fakeCompleter struct {
	deltas []string
	err    error
}

func (f fakeCompleter) Complete(context.Context, []llm.Message, string) (llm.Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sliceStream{deltas: append([]string(nil), f.deltas...)}, nil
}

func newServer(t *testing.T, completer chat.Completer, fragments []search.Fragment, mutate ...func(*api.Deps)) *api.Server {
	t.Helper()
	cat := catalog.New(nil, base, nil)
	svc := chat.NewService(chat.NewRetriever(fixedSearcher(fragments), nil), completer, links.NewResolver(base), nil)

	deps := api.Deps{Chat: svc, Catalog: cat, Store: session.NewMemoryStore()}
	for _, m := range mutate {
		m(&deps)
	}
	return api.New(deps)
}

func post(t *testing.T, srv http.Handler, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, srv http.Handler, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies[0]
}

func TestHealthz(t *testing.T) {
	srv := newServer(t, fakeCompleter{}, nil)

	rec := get(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"ok"}`, rec.Body.String())

	rec = post(t, srv, "/healthz", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestRootServesUI(t *testing.T) {
	srv := newServer(t, fakeCompleter{}, nil)

	rec := get(t, srv, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "/assets/app.js")

	rec = get(t, srv, "/assets/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "/v1/chat/stream")

	require.Equal(t, http.StatusNotFound, get(t, srv, "/nope").Code)
	require.Equal(t, http.StatusOK, get(t, srv, "/openapi.yaml").Code)
}

func TestUIShowsDisclaimerAndGuardsLinks(t *testing.T) {
	srv := newServer(t, fakeCompleter{}, nil)

	index := get(t, srv, "/").Body.String()
	require.Contains(t, index, `class="disclaimer"`)
	require.Contains(t, index, "único objetivo disponibilizar dados")

	script := get(t, srv, "/assets/app.js").Body.String()
	require.Contains(t, script, `const safeScheme = /^https?:\/\//i;`)
	require.Contains(t, script, "safeScheme.test(href)")
}

func TestCollections(t *testing.T) {
	srv := newServer(t, fakeCompleter{}, nil)

	rec := get(t, srv, "/v1/collections")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []catalog.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 4)
	require.Equal(t, catalog.Descriptor{ID: "epotl-dp", Name: "E.POTL001 - Projeto GLP/C5+"}, got[0])
}

func TestChatPersistsTurns(t *testing.T) {
	fragments := []search.Fragment{{Title: "Cronograma_Projeto_XYZ-7.pdf"}}
	srv := newServer(t, fakeCompleter{deltas: []string{"Junho ", "de 2025."}}, fragments)

	rec := post(t, srv, "/v1/chat", `{"collection":"E.POTL001 - Projeto GLP/C5+","message":"prazo de entrega do Projeto XYZ"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(t, rec)

	var resp struct {
		Answer    string          `json:"answer"`
		Citations []chat.Citation `json:"citations"`
		Turns     int             `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Turns)
	require.Contains(t, resp.Answer, "1. [Cronograma_Projeto_XYZ.pdf]("+base+"/epotl-documentos/Cronograma_Projeto_XYZ.pdf)")
	require.Len(t, resp.Citations, 1)

	rec = get(t, srv, "/v1/session", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var sess struct {
		ID    string         `json:"id"`
		Turns []session.Turn `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	require.Equal(t, cookie.Value, sess.ID)
	require.Len(t, sess.Turns, 2)
	require.Equal(t, session.RoleUser, sess.Turns[0].Role)
	require.Equal(t, session.RoleAssistant, sess.Turns[1].Role)
}

func TestChatCompletionFailure(t *testing.T) {
	srv := newServer(t, fakeCompleter{err: errors.New("401 unauthorized")}, nil)

	rec := post(t, srv, "/v1/chat", `{"collection":"normativos","message":"pergunta"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	cookie := sessionCookie(t, rec)

	var sess struct {
		Turns []session.Turn `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(get(t, srv, "/v1/session", cookie).Body.Bytes(), &sess))
	require.Len(t, sess.Turns, 1)
}

func TestChatValidation(t *testing.T) {
	srv := newServer(t, fakeCompleter{}, nil)

	require.Equal(t, http.StatusBadRequest, post(t, srv, "/v1/chat", `{"message":"oi"}`).Code)
	require.Equal(t, http.StatusBadRequest, post(t, srv, "/v1/chat", `{"collection":"normativos","message":"  "}`).Code)
	require.Equal(t, http.StatusBadRequest, post(t, srv, "/v1/chat", `{"collection":"normativos","message":"oi","extra":1}`).Code)
	require.Equal(t, http.StatusMethodNotAllowed, get(t, srv, "/v1/chat").Code)
}

type event struct {
	name string
	data string
}

func readEvents(t *testing.T, body io.Reader) []event {
	t.Helper()
	var (
		events  []event
		current event
	)
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.name != "" {
				events = append(events, current)
			}
			current = event{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestChatStreamEmitsDoneWithCitations(t *testing.T) {
	fragments := []search.Fragment{{Title: "a.pdf"}, {Title: "b-1.pdf"}}
	srv := newServer(t, fakeCompleter{deltas: []string{"Olá", " mundo"}}, fragments)

	rec := post(t, srv, "/v1/chat/stream", `{"collection":"vopak-dp","message":"oi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := readEvents(t, rec.Body)
	var names []string
	for _, e := range events {
		names = append(names, e.name)
	}
	require.Equal(t, []string{"state", "state", "delta", "delta", "state", "state", "done"}, names)
	require.JSONEq(t, `{"state":"awaiting_retrieval"}`, events[0].data)
	require.JSONEq(t, `{"delta":" mundo"}`, events[3].data)

	var done struct {
		Answer    string          `json:"answer"`
		Citations []chat.Citation `json:"citations"`
		Turns     int             `json:"turns"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].data), &done))
	require.Equal(t, 2, done.Turns)
	require.Equal(t, []chat.Citation{
		{Ordinal: 1, Name: "a.pdf", URL: base + "/vopak-documentos/a.pdf", Found: true},
		{Ordinal: 2, Name: "b.pdf", URL: base + "/vopak-documentos/b.pdf", Found: true},
	}, done.Citations)
	require.True(t, strings.HasPrefix(done.Answer, "Olá mundo\n\nReferências:\n"))
}

func TestChatStreamError(t *testing.T) {
	srv := newServer(t, fakeCompleter{err: errors.New("boom")}, nil)

	rec := post(t, srv, "/v1/chat/stream", `{"collection":"vopak-dp","message":"oi"}`)
	events := readEvents(t, rec.Body)
	require.Equal(t, "error", events[len(events)-1].name)
}

type blockingChat struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingChat) Run(ctx context.Context, transcript session.Transcript, _, prompt string, _ chat.Observer) (chat.Result, session.Transcript, error) {
	close(b.started)
	<-b.release
	updated := transcript.Append(
		session.Turn{Role: session.RoleUser, Text: prompt},
		session.Turn{Role: session.RoleAssistant, Text: "ok"},
	)
	return chat.Result{Answer: "ok"}, updated, nil
}

func TestConcurrentSubmissionConflicts(t *testing.T) {
	blocker := &blockingChat{started: make(chan struct{}), release: make(chan struct{})}
	srv := api.New(api.Deps{Chat: blocker, Store: session.NewMemoryStore()})

	cookie := sessionCookie(t, get(t, srv, "/v1/session"))

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- post(t, srv, "/v1/chat", `{"collection":"normativos","message":"um"}`, cookie)
	}()

	select {
	case <-blocker.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first exchange never started")
	}

	second := post(t, srv, "/v1/chat", `{"collection":"normativos","message":"dois"}`, cookie)
	require.Equal(t, http.StatusConflict, second.Code)

	req := httptest.NewRequest(http.MethodDelete, "/v1/session", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)

	close(blocker.release)
	require.Equal(t, http.StatusOK, (<-done).Code)
}

func TestRateLimitPerSession(t *testing.T) {
	srv := newServer(t, fakeCompleter{deltas: []string{"ok"}}, nil, func(d *api.Deps) {
		d.RateLimit = 0.001
		d.RateBurst = 1
	})

	first := post(t, srv, "/v1/chat", `{"collection":"normativos","message":"um"}`)
	require.Equal(t, http.StatusOK, first.Code)
	cookie := sessionCookie(t, first)

	require.Equal(t, http.StatusTooManyRequests,
		post(t, srv, "/v1/chat", `{"collection":"normativos","message":"dois"}`, cookie).Code)

	require.Equal(t, http.StatusOK,
		post(t, srv, "/v1/chat", `{"collection":"normativos","message":"outra sessão"}`).Code)
}

func TestDeleteSessionStartsFresh(t *testing.T) {
	srv := newServer(t, fakeCompleter{deltas: []string{"ok"}}, nil)

	cookie := sessionCookie(t, post(t, srv, "/v1/chat", `{"collection":"normativos","message":"um"}`))

	req := httptest.NewRequest(http.MethodDelete, "/v1/session", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	fresh := sessionCookie(t, rec)
	require.NotEqual(t, cookie.Value, fresh.Value)

	var sess struct {
		Turns []session.Turn `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(get(t, srv, "/v1/session", cookie).Body.Bytes(), &sess))
	require.Empty(t, sess.Turns)
}
