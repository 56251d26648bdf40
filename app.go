package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fabfab/makrai/blob"
	"github.com/fabfab/makrai/catalog"
	"github.com/fabfab/makrai/chat"
	"github.com/fabfab/makrai/config"
	"github.com/fabfab/makrai/database"
	"github.com/fabfab/makrai/embeddings"
	"github.com/fabfab/makrai/links"
	"github.com/fabfab/makrai/llm"
	"github.com/fabfab/makrai/search"
	"github.com/fabfab/makrai/session"
)

const searchTimeout = 30 * time.Second

// application holds the components shared by the serve, chat and
// collections commands.
type application struct {
	cfg     config.Config
	logger  *slog.Logger
	catalog *catalog.Catalog
	chat    *chat.Service
	blobs   *blob.Checker

	pool    *pgxpool.Pool
	closers []func()
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{cfg: cfg, logger: logger}

	searcher, lister, err := app.searchBackend(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.catalog = catalog.New(lister, links.BaseURLForAccount(cfg.Azure.StorageAccount), logger,
		catalog.WithStrictEncoding(cfg.StrictEncoding))
	if cfg.CatalogFile != "" {
		if err := app.catalog.LoadFile(cfg.CatalogFile); err != nil {
			app.Close()
			return nil, err
		}
	}

	retriever := chat.NewRetriever(searcher, logger)

	var completer chat.Completer
	if cfg.LLM.Provider == config.ProviderAzure {
		completer = llm.NewAzureClient(llm.AzureOptions{
			Endpoint:       cfg.Azure.OpenAIEndpoint,
			Key:            cfg.Azure.OpenAIKey,
			Deployment:     cfg.Azure.Deployment,
			APIVersion:     cfg.Azure.OpenAIAPIVersion,
			SearchEndpoint: cfg.Azure.SearchEndpoint,
			SearchKey:      cfg.Azure.SearchKey,
		})
	} else {
		client, err := llm.NewClient(cfg)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("llm setup: %w", err)
		}
		completer = chat.NewInlineCompleter(client, retriever)
	}

	var opts []chat.Option
	if cfg.VerifyLinks {
		checker, err := blob.NewChecker(links.BaseURLForAccount(cfg.Azure.StorageAccount),
			cfg.Azure.StorageAccount, cfg.Azure.StorageKey, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.blobs = checker
		opts = append(opts, chat.WithBlobChecker(checker))
	}

	app.chat = chat.NewService(retriever, completer, app.catalog, logger, opts...)
	return app, nil
}

func (a *application) searchBackend(ctx context.Context) (search.Searcher, search.Lister, error) {
	switch a.cfg.Search.Backend {
	case config.SearchPgvector:
		pool, err := a.postgres(ctx)
		if err != nil {
			return nil, nil, err
		}
		embedder, err := embeddings.NewEmbedder(a.cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("embedder setup: %w", err)
		}
		if err := database.EnsureRAGSchema(ctx, pool, a.cfg.Embeddings.Dimension); err != nil {
			return nil, nil, fmt.Errorf("ensure rag schema: %w", err)
		}
		index := search.NewPostgresIndex(pool, embedder, a.logger)
		return index, index, nil

	default:
		client := search.NewAzureClient(search.AzureOptions{
			Endpoint:   a.cfg.Azure.SearchEndpoint,
			Key:        a.cfg.Azure.SearchKey,
			APIVersion: a.cfg.Azure.SearchAPIVersion,
			Fields: search.Fields{
				Title:   a.cfg.Search.TitleField,
				ID:      a.cfg.Search.IDField,
				Content: a.cfg.Search.ContentField,
			},
			Timeout: searchTimeout,
		}, a.logger)
		return client, client, nil
	}
}

func (a *application) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := database.NewPostgresPool(ctx, a.cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	return pool, nil
}

func (a *application) sessionStore(ctx context.Context) (session.Store, error) {
	switch a.cfg.Sessions.Store {
	case config.StoreSQLite:
		db, err := database.OpenSQLite(ctx, a.cfg.Sessions.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		return session.NewSQLiteStore(ctx, db)

	case config.StorePostgres:
		pool, err := a.postgres(ctx)
		if err != nil {
			return nil, err
		}
		if err := database.EnsureSessionSchema(ctx, pool); err != nil {
			return nil, fmt.Errorf("ensure session schema: %w", err)
		}
		return session.NewPostgresStore(pool), nil

	default:
		return session.NewMemoryStore(session.WithIdleTTL(a.cfg.Sessions.IdleTTL)), nil
	}
}

func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
