package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureRAGSchema creates the tables backing the pgvector search backend.
func EnsureRAGSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS rag_documents (
			id UUID PRIMARY KEY,
			collection TEXT NOT NULL,
			source_path TEXT NOT NULL,
			title TEXT,
			sha256 TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(collection, source_path)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rag_chunks (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES rag_documents(id) ON DELETE CASCADE,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(document_id, chunk_index)
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_rag_documents_collection ON rag_documents(collection)",
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_document ON rag_chunks(document_id)",
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_embedding ON rag_chunks USING ivfflat (embedding vector_l2_ops)",
	}

	return execAll(ctx, pool, stmts)
}

// EnsureSessionSchema creates the transcript table used by session.PostgresStore.
func EnsureSessionSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return execAll(ctx, pool, []string{
		`CREATE TABLE IF NOT EXISTS chat_turns (
			session_id TEXT NOT NULL,
			seq INT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (session_id, seq)
		)`,
	})
}

func execAll(ctx context.Context, pool *pgxpool.Pool, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}
