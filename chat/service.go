package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fabfab/makrai/links"
	"github.com/fabfab/makrai/llm"
	"github.com/fabfab/makrai/search"
	"github.com/fabfab/makrai/session"
)

const (
	referencesHeader = "\n\nReferências:\n"
	missingBlobNote  = "não encontrado no Blob Storage"
)

type Service struct {
	retriever *Retriever
	completer Completer
	resolver  LinkResolver
	blobs     BlobChecker
	logger    *slog.Logger
}

type Option func(*Service)

// WithBlobChecker verifies every citation against the object store.
func WithBlobChecker(checker BlobChecker) Option {
	return func(s *Service) { s.blobs = checker }
}

func NewService(retriever *Retriever, completer Completer, resolver LinkResolver, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		retriever: retriever,
		completer: completer,
		resolver:  resolver,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exchange answers prompt in collection, calling onDelta after each streamed
// delta with the answer accumulated so far.
func (s *Service) Exchange(
	ctx context.Context,
	transcript session.Transcript,
	collection, prompt string,
	onDelta func(delta, answer string) error,
) (Result, session.Transcript, error) {
	return s.Run(ctx, transcript, collection, prompt, Observer{Delta: onDelta})
}

// Run is Exchange with state reporting. The returned transcript holds the
// user turn even when the completion fails; the input transcript is never
// modified.
func (s *Service) Run(
	ctx context.Context,
	transcript session.Transcript,
	collection, prompt string,
	obs Observer,
) (Result, session.Transcript, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Result{}, transcript, ErrEmptyPrompt
	}
	if s.completer == nil {
		return Result{}, transcript, fmt.Errorf("completer is not configured")
	}

	report := func(state State) {
		if obs.State != nil {
			obs.State(state)
		}
	}
	defer report(Idle)

	withUser := transcript.Append(session.Turn{Role: session.RoleUser, Text: prompt})

	report(AwaitingRetrieval)
	fragments := s.retriever.Fragments(ctx, prompt, collection)

	report(AwaitingCompletion)
	answer, err := s.stream(ctx, withUser, collection, fragments, obs.Delta)
	if err != nil {
		s.logger.Error("completion failed", "collection", collection, "error", err)
		return Result{}, withUser, err
	}

	report(Finalizing)
	citations := s.citations(ctx, fragments, collection)
	answer += renderReferences(citations)

	final := withUser.Append(session.Turn{Role: session.RoleAssistant, Text: answer})
	return Result{Answer: answer, Citations: citations}, final, nil
}

func (s *Service) stream(
	ctx context.Context,
	transcript session.Transcript,
	collection string,
	fragments []search.Fragment,
	onDelta func(string, string) error,
) (string, error) {
	var (
		stream llm.Stream
		err    error
	)
	if grounded, ok := s.completer.(FragmentCompleter); ok {
		stream, err = grounded.CompleteWith(ctx, toMessages(transcript), fragments)
	} else {
		stream, err = s.completer.Complete(ctx, toMessages(transcript), collection)
	}
	if err != nil {
		return "", fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return answer.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("receive completion delta: %w", err)
		}
		if delta == "" {
			continue
		}
		answer.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta, answer.String()); err != nil {
				return "", fmt.Errorf("deliver completion delta: %w", err)
			}
		}
	}
}

func (s *Service) citations(ctx context.Context, fragments []search.Fragment, collection string) []Citation {
	if len(fragments) == 0 || s.resolver == nil {
		return nil
	}

	citations := make([]Citation, 0, len(fragments))
	for i, fragment := range fragments {
		target := collection
		if fragment.Collection != "" {
			target = fragment.Collection
		}
		name := links.Normalize(fragment.Title)

		citations = append(citations, Citation{
			Ordinal: i + 1,
			Name:    name,
			URL:     s.resolver.Resolve(fragment.Title, target),
			Found:   s.exists(ctx, target, name),
		})
	}
	return citations
}

func (s *Service) exists(ctx context.Context, collection, name string) bool {
	if s.blobs == nil {
		return true
	}
	found, err := s.blobs.Exists(ctx, s.resolver.Segment(collection), name)
	if err != nil {
		s.logger.Warn("blob check failed, citing as missing", "name", name, "error", err)
		return false
	}
	return found
}

func renderReferences(citations []Citation) string {
	if len(citations) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(referencesHeader)
	for _, c := range citations {
		if c.Found {
			fmt.Fprintf(&sb, "%d. [%s](%s)\n", c.Ordinal, c.Name, c.URL)
		} else {
			fmt.Fprintf(&sb, "%d. %s (%s)\n", c.Ordinal, c.Name, missingBlobNote)
		}
	}
	return sb.String()
}

func toMessages(transcript session.Transcript) []llm.Message {
	messages := make([]llm.Message, 0, len(transcript))
	for _, turn := range transcript {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Text})
	}
	return messages
}
