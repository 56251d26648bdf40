package ingestion

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

type DocumentParser interface {
	Parse(ctx context.Context, path string, data []byte) (*ParsedDocument, error)
}

type ParsedDocument struct {
	Title  string
	Chunks []string
}

func parserFor(format DocumentFormat) (DocumentParser, bool) {
	switch format {
	case FormatMarkdown:
		return markdownParser{}, true
	case FormatPDF:
		return pdfParser{}, true
	case FormatCSV:
		return csvParser{}, true
	default:
		return nil, false
	}
}

type markdownParser struct{}

func (markdownParser) Parse(_ context.Context, path string, data []byte) (*ParsedDocument, error) {
	content := string(data)
	return &ParsedDocument{
		Title:  ExtractTitle(content, filepath.Base(path)),
		Chunks: ChunkMarkdown(content, defaultChunkSize, defaultChunkOverlap),
	}, nil
}

type pdfParser struct{}

func (pdfParser) Parse(_ context.Context, path string, data []byte) (*ParsedDocument, error) {
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	plain, err := doc.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, plain); err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}

	content := normalizePlainText(buf.String())
	title := firstNonEmptyLine(content)
	if title == "" {
		title = filepath.Base(path)
	}

	return &ParsedDocument{
		Title:  title,
		Chunks: ChunkMarkdown(content, defaultChunkSize, defaultChunkOverlap),
	}, nil
}

type csvParser struct{}

func (csvParser) Parse(_ context.Context, path string, data []byte) (*ParsedDocument, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	doc := &ParsedDocument{Title: filepath.Base(path)}
	if len(records) == 0 {
		return doc, nil
	}

	headers := records[0]
	rows := make([]string, 0, len(records)-1)
	for idx, row := range records[1:] {
		rows = append(rows, formatCSVRow(headers, row, idx))
	}
	doc.Chunks = ChunkMarkdown(strings.Join(rows, "\n\n"), defaultChunkSize, defaultChunkOverlap)
	return doc, nil
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func firstNonEmptyLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func formatCSVRow(headers, row []string, idx int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Linha %d", idx+1)

	for i, value := range row {
		header := ""
		if i < len(headers) {
			header = strings.TrimSpace(headers[i])
		}
		if header == "" {
			header = fmt.Sprintf("Coluna %d", i+1)
		}
		fmt.Fprintf(&sb, "\n%s: %s", header, strings.TrimSpace(value))
	}
	return sb.String()
}
