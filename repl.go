package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/peterh/liner"

	"github.com/fabfab/makrai/chat"
	"github.com/fabfab/makrai/config"
	"github.com/fabfab/makrai/session"
)

const replHelp = `Comandos:
  /indice <id>  trocar de índice
  /limpar       começar uma nova conversa
  /sair         encerrar`

type repl struct {
	app        *application
	out        io.Writer
	renderer   *glamour.TermRenderer
	collection string
	transcript session.Transcript
}

func chatCmd(cfg config.Config, args []string) {
	logger := newLogger(cfg, false)

	flags := flag.NewFlagSet("chat", flag.ExitOnError)
	collection := flags.String("collection", "", "collection id or display name to chat with")
	question := flags.String("question", "", "ask a single question and exit")
	plain := flags.Bool("plain", false, "print answers without markdown rendering")
	if err := flags.Parse(args); err != nil {
		fatal(logger, "parse chat flags", err)
	}

	if err := cfg.Validate(); err != nil {
		fatal(logger, "invalid configuration", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "startup failed", err)
	}
	defer app.Close()

	r := &repl{app: app, out: os.Stdout}
	if !*plain {
		renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
		if err != nil {
			logger.Warn("markdown rendering disabled", "error", err)
		} else {
			r.renderer = renderer
		}
	}

	r.collection = strings.TrimSpace(*collection)
	if r.collection == "" {
		collections := app.catalog.Collections(ctx)
		if len(collections) == 0 {
			fatal(logger, "pick collection", errors.New("no collections available"))
		}
		r.collection = collections[0].ID
	}
	r.collection = app.catalog.IDFor(r.collection)

	if strings.TrimSpace(*question) != "" {
		if err := r.ask(ctx, *question); err != nil {
			os.Exit(1)
		}
		return
	}

	r.loop(ctx)
}

func (r *repl) loop(ctx context.Context) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Fprintln(r.out, replHelp)
	for {
		input, err := line.Prompt(fmt.Sprintf("[%s] > ", r.app.catalog.DisplayName(r.collection)))
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			r.app.logger.Error("read prompt", "error", err)
			return
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		switch {
		case input == "/sair":
			return
		case input == "/limpar":
			r.transcript = nil
			fmt.Fprintln(r.out, "Nova conversa.")
			continue
		case strings.HasPrefix(input, "/indice"):
			if id := strings.TrimSpace(strings.TrimPrefix(input, "/indice")); id != "" {
				r.collection = r.app.catalog.IDFor(id)
			}
			continue
		case strings.HasPrefix(input, "/"):
			fmt.Fprintln(r.out, replHelp)
			continue
		}

		_ = r.ask(ctx, input)
		if ctx.Err() != nil {
			return
		}
	}
}

// ask streams the answer to stdout, then prints the references section,
// rendered when a renderer is available.
func (r *repl) ask(ctx context.Context, question string) error {
	var streamed strings.Builder
	result, updated, err := r.app.chat.Exchange(ctx, r.transcript, r.collection, question,
		func(delta, _ string) error {
			streamed.WriteString(delta)
			_, err := io.WriteString(r.out, delta)
			return err
		})
	r.transcript = updated
	if err != nil {
		if errors.Is(err, chat.ErrEmptyPrompt) {
			return err
		}
		fmt.Fprintf(r.out, "\nErro ao gerar a resposta: %v\n", err)
		return err
	}

	fmt.Fprintln(r.out)
	references := strings.TrimPrefix(result.Answer, streamed.String())
	if strings.TrimSpace(references) == "" {
		return nil
	}
	if r.renderer != nil {
		if rendered, err := r.renderer.Render(references); err == nil {
			references = rendered
		}
	}
	fmt.Fprint(r.out, references)
	return nil
}
