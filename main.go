package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fabfab/makrai/api"
	"github.com/fabfab/makrai/config"
	"github.com/fabfab/makrai/database"
	"github.com/fabfab/makrai/embeddings"
	"github.com/fabfab/makrai/ingestion"
	"github.com/fabfab/makrai/session"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serveCmd(cfg, os.Args[2:])
	case "chat":
		chatCmd(cfg, os.Args[2:])
	case "collections":
		collectionsCmd(cfg, os.Args[2:])
	case "ingest":
		ingestCmd(cfg, os.Args[2:])
	case "clear":
		clearCmd(cfg, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func newLogger(cfg config.Config, jsonOutput bool) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if jsonOutput || cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

func serveCmd(cfg config.Config, args []string) {
	logger := newLogger(cfg, true)

	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.Addr, "listen address")
	if err := flags.Parse(args); err != nil {
		fatal(logger, "parse serve flags", err)
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

	store, err := app.sessionStore(ctx)
	if err != nil {
		fatal(logger, "session store", err)
	}

	if memory, ok := store.(*session.MemoryStore); ok && cfg.Sessions.IdleTTL > 0 {
		go sweepSessions(ctx, memory, cfg.Sessions.IdleTTL, logger)
	}

	if app.blobs != nil && cfg.Azure.StorageContainer != "" {
		if err := app.blobs.Ping(ctx, cfg.Azure.StorageContainer); err != nil {
			logger.Warn("blob storage unreachable, citations will be marked missing", "error", err)
		}
	}
	if cfg.CatalogFile != "" {
		if err := app.catalog.Watch(ctx, cfg.CatalogFile); err != nil {
			logger.Warn("catalog hot reload disabled", "error", err)
		}
	}

	server := &http.Server{
		Addr: *addr,
		Handler: api.New(api.Deps{
			Chat:          app.chat,
			Catalog:       app.catalog,
			Store:         store,
			Logger:        logger,
			RateLimit:     cfg.ChatRateLimit,
			RateBurst:     cfg.ChatRateBurst,
			SecureCookies: cfg.SecureCookies,
			IdleTTL:       cfg.Sessions.IdleTTL,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", *addr, "llm", cfg.LLM.Provider, "search", cfg.Search.Backend, "sessions", cfg.Sessions.Store)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server failed", err)
		}
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
		defer stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
		logger.Info("server stopped")
	}
}

func sweepSessions(ctx context.Context, store *session.MemoryStore, ttl time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := store.Sweep(); dropped > 0 {
				logger.Debug("dropped idle sessions", "count", dropped, "remaining", store.Len())
			}
		}
	}
}

func collectionsCmd(cfg config.Config, args []string) {
	logger := newLogger(cfg, false)

	flags := flag.NewFlagSet("collections", flag.ExitOnError)
	if err := flags.Parse(args); err != nil {
		fatal(logger, "parse collections flags", err)
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

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSEGMENT")
	for _, d := range app.catalog.Collections(ctx) {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Name, app.catalog.Segment(d.ID))
	}
	_ = tw.Flush()
}

func ingestCmd(cfg config.Config, args []string) {
	logger := newLogger(cfg, false)

	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	dataDir := flags.String("dir", cfg.DataDir, "path to directory containing documents")
	collection := flags.String("collection", "", "collection the documents belong to")
	if err := flags.Parse(args); err != nil {
		fatal(logger, "parse ingest flags", err)
	}
	if strings.TrimSpace(*collection) == "" {
		fatal(logger, "parse ingest flags", errors.New("-collection is required"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		fatal(logger, "postgres connection", err)
	}
	defer pgPool.Close()

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		fatal(logger, "embedder setup", err)
	}

	svc := ingestion.NewService(pgPool, embedder, logger, cfg.Embeddings.Dimension)
	logger.Info("ingesting documents",
		"dir", *dataDir,
		"collection", *collection,
		"embeddings", strings.ToUpper(cfg.Embeddings.Provider)+"/"+cfg.Embeddings.Model)

	report, err := svc.IngestDirectory(ctx, *dataDir, *collection)
	if err != nil {
		fatal(logger, "ingestion failed", err)
	}
	logger.Info("ingestion complete",
		"ingested", report.Ingested,
		"unchanged", report.Unchanged,
		"skipped", report.Skipped,
		"failed", report.Failed)
}

func clearCmd(cfg config.Config, args []string) {
	logger := newLogger(cfg, false)

	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	collection := flags.String("collection", "", "collection to remove")
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	if err := flags.Parse(args); err != nil {
		fatal(logger, "parse clear flags", err)
	}
	if strings.TrimSpace(*collection) == "" {
		fatal(logger, "parse clear flags", errors.New("-collection is required"))
	}

	if !*confirmed {
		fmt.Printf("This will permanently delete the ingested documents of %q. Continue? [y/N]: ", *collection)
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				fatal(logger, "read confirmation", err)
			}
			logger.Info("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			logger.Info("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		fatal(logger, "postgres connection", err)
	}
	defer pgPool.Close()

	svc := ingestion.NewService(pgPool, nil, logger, cfg.Embeddings.Dimension)
	removed, err := svc.ClearCollection(ctx, *collection)
	if err != nil {
		fatal(logger, "clear collection", err)
	}
	logger.Info("collection cleared", "collection", *collection, "documents", removed)
}

func printUsage() {
	fmt.Println("Usage: makrai <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve        Run the web UI and HTTP API")
	fmt.Println("  chat         Chat with a collection from the terminal (-collection, -question)")
	fmt.Println("  collections  List the collections available for chat")
	fmt.Println("  ingest       Load a directory into the pgvector backend (-dir, -collection)")
	fmt.Println("  clear        Remove a collection from the pgvector backend (-collection)")
}
