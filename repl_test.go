package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fabfab/makrai/catalog"
	"github.com/fabfab/makrai/chat"
	"github.com/fabfab/makrai/llm"
	"github.com/fabfab/makrai/search"
)

type oneFragment struct{}

func (oneFragment) Search(context.Context, string, string, int) ([]search.Fragment, error) {
	return []search.Fragment{{Title: "Cronograma_Projeto_XYZ-7.pdf"}}, nil
}

type deltaStream struct{ deltas []string }

func (s *deltaStream) Recv() (string, error) {
	if len(s.deltas) == 0 {
		return "", io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *deltaStream) Close() error { return nil }

type replCompleter struct{ err error }

func (c replCompleter) Complete(context.Context, []llm.Message, string) (llm.Stream, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &deltaStream{deltas: []string{"Junho ", "de 2025."}}, nil
}

func newTestRepl(completer chat.Completer, out io.Writer) *repl {
	cat := catalog.New(nil, "https://promondocs.blob.core.windows.net", nil)
	svc := chat.NewService(chat.NewRetriever(oneFragment{}, nil), completer, cat, nil)
	return &repl{
		app:        &application{catalog: cat, chat: svc},
		out:        out,
		collection: "epotl-dp",
	}
}

func TestReplAskStreamsAnswerThenReferences(t *testing.T) {
	var out bytes.Buffer
	r := newTestRepl(replCompleter{}, &out)

	require.NoError(t, r.ask(context.Background(), "prazo de entrega do Projeto XYZ"))

	require.Equal(t,
		"Junho de 2025.\n\n\nReferências:\n"+
			"1. [Cronograma_Projeto_XYZ.pdf](https://promondocs.blob.core.windows.net/epotl-documentos/Cronograma_Projeto_XYZ.pdf)\n",
		out.String())
	require.Equal(t, 2, r.transcript.Len())
}

func TestReplAskKeepsQuestionOnFailure(t *testing.T) {
	var out bytes.Buffer
	r := newTestRepl(replCompleter{err: errors.New("timeout")}, &out)

	require.Error(t, r.ask(context.Background(), "pergunta"))
	require.Contains(t, out.String(), "Erro ao gerar a resposta")
	require.Equal(t, 1, r.transcript.Len())
}
