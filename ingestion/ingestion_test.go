package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fabfab/makrai/config"
	"github.com/fabfab/makrai/database"
)

func TestDetectFormat(t *testing.T) {
	require.Equal(t, FormatMarkdown, DetectFormat("a/b/Notas.MD"))
	require.Equal(t, FormatPDF, DetectFormat("Cronograma_Projeto_XYZ-7.pdf"))
	require.Equal(t, FormatCSV, DetectFormat("tabela.csv"))
	require.Equal(t, FormatUnknown, DetectFormat("imagem.png"))
}

func TestExtractTitle(t *testing.T) {
	require.Equal(t, "Política de Férias", ExtractTitle("texto\n## Política de Férias\n", "fallback.md"))
	require.Equal(t, "fallback.md", ExtractTitle("sem título", "fallback.md"))
}

func TestChunkMarkdownOverlap(t *testing.T) {
	paragraphs := []string{
		strings.Repeat("a", 40),
		strings.Repeat("b", 40),
		strings.Repeat("c", 40),
	}
	content := strings.Join(paragraphs, "\n\n")

	chunks := ChunkMarkdown(content, 60, 10)
	require.Equal(t, []string{
		paragraphs[0],
		paragraphs[0] + "\n\n" + paragraphs[1],
		paragraphs[1] + "\n\n" + paragraphs[2],
	}, chunks)

	require.Equal(t, paragraphs, ChunkMarkdown(content, 60, 0))
	require.Empty(t, ChunkMarkdown("\n\n  \n\n", 60, 0))
}

func TestCSVParser(t *testing.T) {
	doc, err := csvParser{}.Parse(context.Background(), "dir/ramais.csv", []byte("nome,ramal\nAna,123\nBeto,456,extra\n"))
	require.NoError(t, err)

	require.Equal(t, "ramais.csv", doc.Title)
	require.Len(t, doc.Chunks, 1)
	require.Equal(t, "Linha 1\nnome: Ana\nramal: 123\n\nLinha 2\nnome: Beto\nramal: 456\nColuna 3: extra", doc.Chunks[0])
}

func TestParserForUnknown(t *testing.T) {
	_, ok := parserFor(FormatUnknown)
	require.False(t, ok)
}

type fakeEmbedder struct {
	dimension int
}

func (f fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dimension)
		vec[0] = float32(len(text))
		out[i] = vec
	}
	return out, nil
}

func TestIngestDirectoryIntegration(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database integration tests")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	require.NoError(t, err)
	defer pool.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ferias.md"), []byte("# Férias\n\n30 dias corridos."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foto.png"), []byte{0x89}, 0o600))

	collection := "test-" + time.Now().Format("150405.000000")
	svc := NewService(pool, fakeEmbedder{dimension: cfg.Embeddings.Dimension}, nil, cfg.Embeddings.Dimension)
	t.Cleanup(func() { _, _ = svc.ClearCollection(context.Background(), collection) })

	report, err := svc.IngestDirectory(ctx, dir, collection)
	require.NoError(t, err)
	require.Equal(t, Report{Ingested: 1, Skipped: 1}, report)

	report, err = svc.IngestDirectory(ctx, dir, collection)
	require.NoError(t, err)
	require.Equal(t, Report{Unchanged: 1, Skipped: 1}, report)

	removed, err := svc.ClearCollection(ctx, collection)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}
