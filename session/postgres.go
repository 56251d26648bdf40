package session

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore shares transcripts between server replicas.
// The chat_turns table is created by database.EnsureSessionSchema.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Transcript(ctx context.Context, id string) (Transcript, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT role, text FROM chat_turns WHERE session_id = $1 ORDER BY seq", id)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}

	turns, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Turn])
	if err != nil {
		return nil, fmt.Errorf("collect turns: %w", err)
	}
	return Transcript(turns), nil
}

func (s *PostgresStore) Append(ctx context.Context, id string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var next int
		if err := tx.QueryRow(ctx,
			"SELECT COALESCE(MAX(seq) + 1, 0) FROM chat_turns WHERE session_id = $1", id).Scan(&next); err != nil {
			return fmt.Errorf("next turn seq: %w", err)
		}

		batch := &pgx.Batch{}
		for i, turn := range turns {
			batch.Queue(
				"INSERT INTO chat_turns (session_id, seq, role, text) VALUES ($1, $2, $3, $4)",
				id, next+i, turn.Role, turn.Text)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert turns: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Reset(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM chat_turns WHERE session_id = $1", id); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
