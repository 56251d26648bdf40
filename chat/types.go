package chat

import (
	"context"
	"errors"

	"github.com/fabfab/makrai/llm"
	"github.com/fabfab/makrai/search"
)

var ErrEmptyPrompt = errors.New("prompt cannot be empty")

// State is the step an exchange is in.
type State int

const (
	Idle State = iota
	AwaitingRetrieval
	AwaitingCompletion
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingRetrieval:
		return "awaiting_retrieval"
	case AwaitingCompletion:
		return "awaiting_completion"
	case Finalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Completer opens an answer stream for history grounded in collection.
type Completer interface {
	Complete(ctx context.Context, history []llm.Message, collection string) (llm.Stream, error)
}

// FragmentCompleter is a Completer that grounds on fragments the caller
// already retrieved instead of searching again.
type FragmentCompleter interface {
	Completer
	CompleteWith(ctx context.Context, history []llm.Message, fragments []search.Fragment) (llm.Stream, error)
}

type LinkResolver interface {
	Resolve(name, collection string) string
	Segment(collection string) string
}

type BlobChecker interface {
	Exists(ctx context.Context, container, name string) (bool, error)
}

type Citation struct {
	Ordinal int    `json:"ordinal"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Found   bool   `json:"found"`
}

// Result is a finished exchange. Answer is the assistant turn as stored,
// citations included.
type Result struct {
	Answer    string
	Citations []Citation
}

// Observer receives progress while an exchange runs. Either field may be nil.
// A Delta error aborts the exchange.
type Observer struct {
	State func(State)
	Delta func(delta, answer string) error
}
