package catalog

import (
	"context"
	"time"
)

// Repository stores scraped pages and answers keyword queries over them.
type Repository interface {
	// Upsert inserts the page or replaces the stored copy with the same URL.
	Upsert(ctx context.Context, page *Page) error
	// Search returns at most limit pages ranked by keyword hits.
	Search(ctx context.Context, query string, limit int) ([]*Page, error)
	Count(ctx context.Context) (int64, error)
	Health(ctx context.Context) error
}

// CrawlStats summarizes one crawl run.
type CrawlStats struct {
	Discovered int           `json:"discovered"`
	Stored     int           `json:"stored"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
}
