package ingestion

import "strings"

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// ExtractTitle returns the first markdown heading, or fallback.
func ExtractTitle(content, fallback string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return fallback
}

// ChunkMarkdown groups blank-line separated paragraphs into chunks of about
// target bytes. With overlap set, each chunk repeats the last paragraph of
// the previous one.
func ChunkMarkdown(content string, target, overlap int) []string {
	clean := strings.ReplaceAll(content, "\r\n", "\n")
	chunks := make([]string, 0)
	current := make([]string, 0)
	currentLen := 0

	for _, paragraph := range strings.Split(clean, "\n\n") {
		p := strings.TrimSpace(paragraph)
		if p == "" {
			continue
		}

		if currentLen+len(p) > target && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			if overlap > 0 {
				last := current[len(current)-1]
				current = []string{last}
				currentLen = len(last)
			} else {
				current = current[:0]
				currentLen = 0
			}
		}

		current = append(current, p)
		currentLen += len(p)
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}
	return chunks
}
