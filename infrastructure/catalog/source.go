package catalog

import (
	"context"
	"fmt"
	"strings"

	"chat-relay/domain/catalog"
	"chat-relay/domain/chat"
)

const defaultExcerptRunes = 280

// Source answers context queries from the catalog repository.
type Source struct {
	repo         catalog.Repository
	limit        int
	excerptRunes int
}

func NewSource(repo catalog.Repository, limit int) *Source {
	if limit <= 0 {
		limit = 5
	}
	return &Source{repo: repo, limit: limit, excerptRunes: defaultExcerptRunes}
}

// FetchContext implements chat.ContextSource.
func (s *Source) FetchContext(ctx context.Context, query string) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	pages, err := s.repo.Search(ctx, query, s.limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", chat.ErrContextRetrieval, err)
	}
	snippets := make([]string, 0, len(pages))
	for _, p := range pages {
		snippets = append(snippets, p.Snippet(s.excerptRunes))
	}
	return snippets, nil
}
