package chat

import (
	"context"
	"log/slog"

	"github.com/fabfab/makrai/search"
)

// Retriever fetches citation fragments. Search failures are logged and
// reported as no fragments.
type Retriever struct {
	searcher search.Searcher
	limit    int
	logger   *slog.Logger
}

func NewRetriever(searcher search.Searcher, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{searcher: searcher, limit: search.DefaultLimit, logger: logger}
}

func (r *Retriever) Fragments(ctx context.Context, query, collection string) []search.Fragment {
	if r == nil || r.searcher == nil {
		return nil
	}

	fragments, err := r.searcher.Search(ctx, query, collection, r.limit)
	if err != nil {
		r.logger.Error("search failed, continuing without citations",
			"collection", collection, "error", err)
		return nil
	}
	if len(fragments) > r.limit {
		fragments = fragments[:r.limit]
	}
	return fragments
}
