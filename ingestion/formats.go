// Package ingestion loads local documents into the pgvector tables searched
// by the pgvector backend.
package ingestion

import (
	"path/filepath"
	"strings"
)

// DocumentFormat enumerates supported document payload formats.
type DocumentFormat string

const (
	FormatUnknown  DocumentFormat = ""
	FormatMarkdown DocumentFormat = "markdown"
	FormatPDF      DocumentFormat = "pdf"
	FormatCSV      DocumentFormat = "csv"
)

// DetectFormat infers a document format from the provided path's extension.
func DetectFormat(path string) DocumentFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".pdf":
		return FormatPDF
	case ".csv":
		return FormatCSV
	default:
		return FormatUnknown
	}
}
