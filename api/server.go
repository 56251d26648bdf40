package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fabfab/makrai/catalog"
	"github.com/fabfab/makrai/chat"
	"github.com/fabfab/makrai/session"
)

// ChatService runs one exchange against a transcript.
type ChatService interface {
	Run(ctx context.Context, transcript session.Transcript, collection, prompt string, obs chat.Observer) (chat.Result, session.Transcript, error)
}

type Catalog interface {
	Collections(ctx context.Context) []catalog.Descriptor
	IDFor(name string) string
}

type Deps struct {
	Chat    ChatService
	Catalog Catalog
	Store   session.Store
	Logger  *slog.Logger

	// RateLimit is the sustained chat submissions per second allowed per
	// session; zero disables limiting.
	RateLimit float64
	RateBurst int
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
	// IdleTTL drops rate buckets, and the default in-memory store's
	// transcripts, left idle this long. Zero keeps them.
	IdleTTL time.Duration
}

// Server exposes the chat workflow over HTTP.
type Server struct {
	chat     ChatService
	catalog  Catalog
	store    session.Store
	guard    *session.Guard
	limiters *limiterSet
	secure   bool
	logger   *slog.Logger
	handler  http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type chatRequest struct {
	Collection string `json:"collection"`
	Message    string `json:"message"`
}

type chatResponse struct {
	Answer    string          `json:"answer"`
	Citations []chat.Citation `json:"citations"`
	Turns     int             `json:"turns"`
}

type sessionResponse struct {
	ID    string         `json:"id"`
	Turns []session.Turn `json:"turns"`
}

func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := deps.Store
	if store == nil {
		store = session.NewMemoryStore(session.WithIdleTTL(deps.IdleTTL))
	}

	s := &Server{
		chat:     deps.Chat,
		catalog:  deps.Catalog,
		store:    store,
		guard:    session.NewGuard(),
		limiters: newLimiterSet(deps.RateLimit, deps.RateBurst, deps.IdleTTL),
		secure:   deps.SecureCookies,
		logger:   logger,
	}
	s.handler = withLogging(logger, s.routes())
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.Handle("/assets/", s.staticHandler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	mux.HandleFunc("/v1/collections", s.handleCollections)
	mux.HandleFunc("/v1/session", s.handleSession)
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/chat/stream", s.handleChatStream)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.catalog == nil {
		s.writeJSON(w, http.StatusOK, []catalog.Descriptor{})
		return
	}

	s.writeJSON(w, http.StatusOK, s.catalog.Collections(r.Context()))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		id := s.sessionID(w, r)
		transcript, err := s.store.Transcript(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("load session: %w", err))
			return
		}
		turns := []session.Turn(transcript)
		if turns == nil {
			turns = []session.Turn{}
		}
		s.writeJSON(w, http.StatusOK, sessionResponse{ID: id, Turns: turns})

	case http.MethodDelete:
		if id, ok := existingSessionID(r); ok {
			release, err := s.guard.Acquire(id)
			if err != nil {
				s.writeError(w, http.StatusConflict, err)
				return
			}
			defer release()
			if err := s.store.Reset(r.Context(), id); err != nil {
				s.writeError(w, http.StatusInternalServerError, fmt.Errorf("reset session: %w", err))
				return
			}
			s.limiters.forget(id)
		}
		s.issueSession(w)
		s.writeJSON(w, http.StatusOK, messageResponse{Message: "session cleared"})

	default:
		w.Header().Set("Allow", "GET, DELETE")
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use GET or DELETE"))
	}
}

// exchange is the request-scoped part shared by the JSON and SSE chat
// endpoints.
type exchange struct {
	id         string
	collection string
	message    string
	transcript session.Transcript
	release    func()
}

// beginExchange validates a chat submission and takes the session guard.
// On failure it has already written the response.
func (s *Server) beginExchange(w http.ResponseWriter, r *http.Request) (*exchange, bool) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return nil, false
	}
	if s.chat == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("chat is not configured"))
		return nil, false
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return nil, false
	}

	collection := strings.TrimSpace(req.Collection)
	if collection == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("collection is required"))
		return nil, false
	}
	if s.catalog != nil {
		collection = s.catalog.IDFor(collection)
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, chat.ErrEmptyPrompt)
		return nil, false
	}

	id := s.sessionID(w, r)
	if !s.limiters.allow(id) {
		s.writeError(w, http.StatusTooManyRequests, fmt.Errorf("too many messages, slow down"))
		return nil, false
	}

	release, err := s.guard.Acquire(id)
	if err != nil {
		s.writeError(w, http.StatusConflict, err)
		return nil, false
	}

	transcript, err := s.store.Transcript(r.Context(), id)
	if err != nil {
		release()
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("load session: %w", err))
		return nil, false
	}

	return &exchange{
		id:         id,
		collection: collection,
		message:    req.Message,
		transcript: transcript,
		release:    release,
	}, true
}

// persist stores the turns the exchange added, even when the client has gone.
func (s *Server) persist(ctx context.Context, ex *exchange, updated session.Transcript) {
	added := updated.Since(ex.transcript.Len())
	if len(added) == 0 {
		return
	}
	if err := s.store.Append(context.WithoutCancel(ctx), ex.id, added...); err != nil {
		s.logger.Error("persist session turns", "session", ex.id, "error", err)
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ex, ok := s.beginExchange(w, r)
	if !ok {
		return
	}
	defer ex.release()

	ctx := r.Context()
	result, updated, err := s.chat.Run(ctx, ex.transcript, ex.collection, ex.message, chat.Observer{})
	s.persist(ctx, ex, updated)

	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, chat.ErrEmptyPrompt) {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, fmt.Errorf("chat failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, newChatResponse(result, updated))
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	ex, ok := s.beginExchange(w, r)
	if !ok {
		return
	}
	defer ex.release()

	events, err := newEventWriter(w)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	ctx := r.Context()
	result, updated, err := s.chat.Run(ctx, ex.transcript, ex.collection, ex.message, chat.Observer{
		State: func(state chat.State) {
			if sendErr := events.send("state", stateEvent{State: state.String()}); sendErr != nil {
				s.logger.Debug("send state event", "error", sendErr)
			}
		},
		Delta: func(delta, _ string) error {
			return events.send("delta", deltaEvent{Delta: delta})
		},
	})
	s.persist(ctx, ex, updated)

	if err != nil {
		s.logger.Error("chat stream failed", "session", ex.id, "error", err)
		_ = events.send("error", errorResponse{Error: err.Error()})
		return
	}

	if err := events.send("done", newChatResponse(result, updated)); err != nil {
		s.logger.Debug("send done event", "error", err)
	}
}

func newChatResponse(result chat.Result, updated session.Transcript) chatResponse {
	citations := result.Citations
	if citations == nil {
		citations = []chat.Citation{}
	}
	return chatResponse{
		Answer:    result.Answer,
		Citations: citations,
		Turns:     updated.Len(),
	}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("api error", "status", status, "error", err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
