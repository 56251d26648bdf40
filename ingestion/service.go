package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/makrai/database"
	"github.com/fabfab/makrai/embeddings"
)

type Service struct {
	pool      *pgxpool.Pool
	embedder  embeddings.Embedder
	logger    *slog.Logger
	dimension int
}

// Report counts the outcome of one directory run.
type Report struct {
	Ingested  int
	Unchanged int
	Skipped   int
	Failed    int
}

func NewService(pool *pgxpool.Pool, embedder embeddings.Embedder, logger *slog.Logger, dimension int) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		pool:      pool,
		embedder:  embedder,
		logger:    logger,
		dimension: dimension,
	}
}

// IngestDirectory loads every supported file under dir into collection.
// Files whose content hash is unchanged are left alone. A file that fails is
// logged and counted; the run continues.
func (s *Service) IngestDirectory(ctx context.Context, dir, collection string) (Report, error) {
	var report Report
	if collection == "" {
		return report, fmt.Errorf("collection is required")
	}
	if s.embedder == nil {
		return report, fmt.Errorf("embedder not configured")
	}
	if err := database.EnsureRAGSchema(ctx, s.pool, s.dimension); err != nil {
		return report, fmt.Errorf("ensure schema: %w", err)
	}

	if _, err := os.Stat(dir); err != nil {
		return report, fmt.Errorf("data directory: %w", err)
	}

	var entries []string
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if DetectFormat(path) == FormatUnknown {
			report.Skipped++
			return nil
		}
		entries = append(entries, path)
		return nil
	}); err != nil {
		return report, fmt.Errorf("walk data directory: %w", err)
	}

	if len(entries) == 0 {
		s.logger.Info("no supported documents found", "dir", dir)
		return report, nil
	}

	for _, path := range entries {
		changed, err := s.ingestFile(ctx, dir, path, collection)
		switch {
		case err != nil:
			report.Failed++
			s.logger.Error("ingest failed", "path", path, "error", err)
		case changed:
			report.Ingested++
		default:
			report.Unchanged++
		}
	}

	return report, nil
}

// ClearCollection removes every document of collection and returns how many
// were deleted. Chunks go with them through the foreign key cascade.
func (s *Service) ClearCollection(ctx context.Context, collection string) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM rag_documents WHERE collection = $1", collection)
	if err != nil {
		return 0, fmt.Errorf("delete collection %s: %w", collection, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Service) ingestFile(ctx context.Context, root, path, collection string) (changed bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read file: %w", err)
	}

	parser, ok := parserFor(DetectFormat(path))
	if !ok {
		return false, fmt.Errorf("unsupported format: %s", path)
	}
	doc, err := parser.Parse(ctx, path, data)
	if err != nil {
		return false, err
	}

	relPath, relErr := filepath.Rel(root, path)
	if relErr != nil {
		relPath = path
	}
	relPath = filepath.ToSlash(relPath)

	if len(doc.Chunks) == 0 {
		s.logger.Info("skip empty document", "path", relPath)
		return false, nil
	}

	hash := sha256.Sum256(data)
	hashHex := hex.EncodeToString(hash[:])

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Warn("rollback error", "error", rbErr)
			}
		}
	}()

	docID, changed, err := upsertDocument(ctx, tx, collection, relPath, doc.Title, hashHex)
	if err != nil {
		return false, err
	}
	if !changed {
		if err = tx.Commit(ctx); err != nil {
			return false, fmt.Errorf("commit transaction: %w", err)
		}
		s.logger.Debug("no updates required", "path", relPath)
		return false, nil
	}

	vectors, err := s.embedder.Embed(ctx, doc.Chunks)
	if err != nil {
		return false, fmt.Errorf("generate embeddings: %w", err)
	}
	if len(vectors) != len(doc.Chunks) {
		return false, fmt.Errorf("embedding count mismatch: have %d chunks, %d embeddings", len(doc.Chunks), len(vectors))
	}

	if _, err = tx.Exec(ctx, "DELETE FROM rag_chunks WHERE document_id = $1", docID); err != nil {
		return false, fmt.Errorf("clear existing chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for idx, text := range doc.Chunks {
		batch.Queue(`
			INSERT INTO rag_chunks (id, document_id, chunk_index, content, embedding)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.New(), docID, idx, text, pgvector.NewVector(vectors[idx]))
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return false, fmt.Errorf("insert chunks: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("ingested document", "collection", collection, "path", relPath, "chunks", len(doc.Chunks))
	return true, nil
}

func upsertDocument(ctx context.Context, tx pgx.Tx, collection, path, title, sha string) (uuid.UUID, bool, error) {
	var (
		docID        uuid.UUID
		existingHash string
	)

	err := tx.QueryRow(ctx,
		"SELECT id, sha256 FROM rag_documents WHERE collection = $1 AND source_path = $2",
		collection, path,
	).Scan(&docID, &existingHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			newID := uuid.New()
			if _, execErr := tx.Exec(ctx, `
				INSERT INTO rag_documents (id, collection, source_path, title, sha256)
				VALUES ($1, $2, $3, $4, $5)
			`, newID, collection, path, title, sha); execErr != nil {
				return uuid.Nil, false, fmt.Errorf("insert document: %w", execErr)
			}
			return newID, true, nil
		}
		return uuid.Nil, false, fmt.Errorf("query document: %w", err)
	}

	if existingHash == sha {
		return docID, false, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE rag_documents
		SET title = $2,
		    sha256 = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, docID, title, sha); err != nil {
		return uuid.Nil, false, fmt.Errorf("update document: %w", err)
	}

	return docID, true, nil
}
