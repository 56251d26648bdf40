package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/makrai/embeddings"
)

// PostgresIndex searches collections ingested into pgvector tables.
type PostgresIndex struct {
	pool     *pgxpool.Pool
	embedder embeddings.Embedder
	logger   *slog.Logger
}

func NewPostgresIndex(pool *pgxpool.Pool, embedder embeddings.Embedder, logger *slog.Logger) *PostgresIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresIndex{pool: pool, embedder: embedder, logger: logger}
}

func (s *PostgresIndex) Search(ctx context.Context, query, collection string, limit int) ([]Fragment, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("embedder is not configured")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := limit * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT
			rd.source_path,
			rc.content,
			(rc.embedding <-> $1::vector) AS distance
		FROM rag_chunks rc
		JOIN rag_documents rd ON rd.id = rc.document_id
		WHERE rd.collection = $2
		ORDER BY rc.embedding <-> $1::vector
		LIMIT $3
	`, pgvector.NewVector(vectors[0]), collection, limit)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	fragments := make([]Fragment, 0, limit)
	for rows.Next() {
		var (
			sourcePath string
			content    string
			distance   float64
		)
		if err := rows.Scan(&sourcePath, &content, &distance); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		fragments = append(fragments, Fragment{
			Title:      DisplayName(sourcePath),
			Snippet:    content,
			Collection: collection,
			Score:      1 / (1 + distance),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar chunks: %w", err)
	}

	s.logger.Debug("pgvector search", "collection", collection, "returned", len(fragments))
	return fragments, nil
}

func (s *PostgresIndex) ListCollections(ctx context.Context) ([]string, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := s.pool.Query(ctx, "SELECT DISTINCT collection FROM rag_documents ORDER BY collection")
	if err != nil {
		return nil, fmt.Errorf("query collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

var (
	_ Searcher = (*PostgresIndex)(nil)
	_ Lister   = (*PostgresIndex)(nil)
)
