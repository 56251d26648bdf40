package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/fabfab/makrai/llm"
	"github.com/fabfab/makrai/search"
)

// InlineCompleter grounds providers without a server side retrieval
// extension by placing the retrieved fragments in the system message.
type InlineCompleter struct {
	client    llm.Client
	retriever *Retriever
}

var _ FragmentCompleter = (*InlineCompleter)(nil)

func NewInlineCompleter(client llm.Client, retriever *Retriever) *InlineCompleter {
	return &InlineCompleter{client: client, retriever: retriever}
}

func (c *InlineCompleter) Complete(ctx context.Context, history []llm.Message, collection string) (llm.Stream, error) {
	var question string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleUser {
			question = history[i].Content
			break
		}
	}

	return c.CompleteWith(ctx, history, c.retriever.Fragments(ctx, question, collection))
}

// CompleteWith streams an answer grounded on fragments without searching.
func (c *InlineCompleter) CompleteWith(ctx context.Context, history []llm.Message, fragments []search.Fragment) (llm.Stream, error) {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: groundingPrompt(fragments)})
	messages = append(messages, history...)

	stream, err := c.client.Stream(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("open inline stream: %w", err)
	}
	return stream, nil
}

func groundingPrompt(fragments []search.Fragment) string {
	var sb strings.Builder
	sb.WriteString(llm.RoleInformation)
	sb.WriteString("\n\nDocumentos disponíveis:\n")
	if len(fragments) == 0 {
		sb.WriteString("(nenhum documento encontrado)\n")
	}
	for i, fragment := range fragments {
		fmt.Fprintf(&sb, "\n[%d] %s\n%s\n", i+1, fragment.Title, strings.TrimSpace(fragment.Snippet))
	}
	return sb.String()
}
