package session

import (
	"context"
	"database/sql"
	"fmt"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_turns (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	role       TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (session_id, seq)
)`

// SQLiteStore keeps transcripts in a single-file database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("create sqlite session schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Transcript(ctx context.Context, id string) (Transcript, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role, text FROM chat_turns WHERE session_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var transcript Transcript
	for rows.Next() {
		var turn Turn
		if err := rows.Scan(&turn.Role, &turn.Text); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		transcript = append(transcript, turn)
	}
	return transcript, rows.Err()
}

func (s *SQLiteStore) Append(ctx context.Context, id string, turns ...Turn) (err error) {
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var next int
	if err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq) + 1, 0) FROM chat_turns WHERE session_id = ?", id).Scan(&next); err != nil {
		return fmt.Errorf("next turn seq: %w", err)
	}

	for i, turn := range turns {
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO chat_turns (session_id, seq, role, text) VALUES (?, ?, ?, ?)",
			id, next+i, turn.Role, turn.Text); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit turns: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Reset(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chat_turns WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
