// Package search queries document collections and returns the fragments
// used to build citations.
package search

import (
	"context"
	"path"
	"strings"
)

// Placeholder names a fragment whose metadata carries no usable title.
const Placeholder = "Documento sem nome"

// DefaultLimit is the number of fragments requested per query.
const DefaultLimit = 5

type Fragment struct {
	Title      string
	Snippet    string
	Collection string
	Score      float64
}

type Searcher interface {
	Search(ctx context.Context, query, collection string, limit int) ([]Fragment, error)
}

// Lister enumerates the collections a backend can search.
type Lister interface {
	ListCollections(ctx context.Context) ([]string, error)
}

// Fields names the index fields read from each search result.
type Fields struct {
	Title   string
	ID      string
	Content string
}

func (f Fields) selectList() string {
	parts := make([]string, 0, 3)
	for _, name := range []string{f.Title, f.ID, f.Content} {
		if name != "" {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ",")
}

// DisplayName reduces a stored title or path to the bare file name.
func DisplayName(title string) string {
	title = strings.TrimSpace(strings.ReplaceAll(title, "\\", "/"))
	title = strings.TrimRight(title, "/")
	if title == "" {
		return Placeholder
	}
	return path.Base(title)
}
