package catalog

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chat-relay/domain/catalog"

	"github.com/sirupsen/logrus"
)

const maxDocumentBytes = 5 << 20

// CrawlerConfig controls sitemap crawling.
type CrawlerConfig struct {
	SitemapURL      string
	Workers         int
	MaxPages        int
	UserAgent       string
	RequestTimeout  time.Duration
	RefreshInterval time.Duration
}

// Crawler fetches every page listed in a sitemap and stores its text.
type Crawler struct {
	config     CrawlerConfig
	repo       catalog.Repository
	httpClient *http.Client

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning atomic.Bool
	crawling  atomic.Bool
	lastStats atomic.Value
}

func NewCrawler(repo catalog.Repository, config CrawlerConfig) *Crawler {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 500
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 15 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "chat-relay-catalog/1.0"
	}

	return &Crawler{
		config: config,
		repo:   repo,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: config.Workers,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// Start crawls once in the background and then on every refresh interval
// until Stop is called or ctx ends.
func (c *Crawler) Start(ctx context.Context) error {
	if c.config.SitemapURL == "" {
		return fmt.Errorf("sitemap URL is required")
	}
	if !c.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("crawler is already running")
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runOnce(ctx)
		if c.config.RefreshInterval <= 0 {
			return
		}
		ticker := time.NewTicker(c.config.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.runOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	logrus.WithFields(logrus.Fields{
		"sitemap":          c.config.SitemapURL,
		"workers":          c.config.Workers,
		"refresh_interval": c.config.RefreshInterval.String(),
	}).Info("Catalog crawler started")
	return nil
}

// Stop cancels any crawl in progress and waits for it to return.
func (c *Crawler) Stop() {
	if !c.isRunning.CompareAndSwap(true, false) {
		return
	}
	c.cancel()
	c.wg.Wait()
	logrus.Info("Catalog crawler stopped")
}

// LastStats returns the result of the most recent completed crawl.
func (c *Crawler) LastStats() (catalog.CrawlStats, bool) {
	stats, ok := c.lastStats.Load().(catalog.CrawlStats)
	return stats, ok
}

func (c *Crawler) runOnce(ctx context.Context) {
	stats, err := c.Crawl(ctx)
	if err != nil {
		logrus.WithError(err).Warn("Catalog crawl failed")
		return
	}
	logrus.WithFields(logrus.Fields{
		"discovered":  stats.Discovered,
		"stored":      stats.Stored,
		"failed":      stats.Failed,
		"duration_ms": stats.Duration.Milliseconds(),
	}).Info("Catalog crawl finished")
}

// Crawl performs one full pass over the sitemap. Individual page failures
// are counted, not returned.
func (c *Crawler) Crawl(ctx context.Context) (catalog.CrawlStats, error) {
	if !c.crawling.CompareAndSwap(false, true) {
		return catalog.CrawlStats{}, fmt.Errorf("crawl already in progress")
	}
	defer c.crawling.Store(false)

	start := time.Now()
	urls, err := c.discover(ctx, c.config.SitemapURL, 1)
	if err != nil {
		return catalog.CrawlStats{}, err
	}
	if len(urls) > c.config.MaxPages {
		urls = urls[:c.config.MaxPages]
	}

	var stored, failed atomic.Int64
	jobs := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < c.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			logger := logrus.WithField("worker_id", workerID)
			for pageURL := range jobs {
				if err := c.fetchAndStore(ctx, pageURL); err != nil {
					failed.Add(1)
					logger.WithError(err).WithField("url", pageURL).Debug("Failed to index page")
					continue
				}
				stored.Add(1)
			}
		}(i)
	}

feed:
	for _, u := range urls {
		select {
		case jobs <- u:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	stats := catalog.CrawlStats{
		Discovered: len(urls),
		Stored:     int(stored.Load()),
		Failed:     int(failed.Load()),
		Duration:   time.Since(start),
	}
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("crawl interrupted: %w", err)
	}
	c.lastStats.Store(stats)
	return stats, nil
}

// sitemapDocument matches both <urlset> and <sitemapindex> roots.
type sitemapDocument struct {
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// discover returns page URLs from a sitemap, following a sitemap index up to
// depth levels deep. Duplicates are removed, order kept.
func (c *Crawler) discover(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	body, err := c.get(ctx, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sitemap %s: %w", sitemapURL, err)
	}
	defer body.Close()

	var doc sitemapDocument
	if err := xml.NewDecoder(body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse sitemap %s: %w", sitemapURL, err)
	}

	seen := make(map[string]struct{})
	var urls []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	for _, loc := range doc.URLs {
		add(loc.Loc)
	}
	if depth > 0 {
		for _, child := range doc.Sitemaps {
			nested, err := c.discover(ctx, strings.TrimSpace(child.Loc), depth-1)
			if err != nil {
				logrus.WithError(err).WithField("sitemap", child.Loc).Warn("Skipping nested sitemap")
				continue
			}
			for _, u := range nested {
				add(u)
			}
		}
	}
	return urls, nil
}

func (c *Crawler) fetchAndStore(ctx context.Context, pageURL string) error {
	body, err := c.get(ctx, pageURL)
	if err != nil {
		return err
	}
	defer body.Close()

	content, err := extractPage(body)
	if err != nil {
		return fmt.Errorf("failed to parse page: %w", err)
	}
	if content.Title == "" && content.Body == "" {
		return fmt.Errorf("page has no readable text")
	}

	return c.repo.Upsert(ctx, &catalog.Page{
		URL:         pageURL,
		Title:       content.Title,
		Description: content.Description,
		Body:        content.Body,
		FetchedAt:   time.Now().UTC(),
	})
}

func (c *Crawler) get(ctx context.Context, target string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return readCloser{Reader: io.LimitReader(resp.Body, maxDocumentBytes), Closer: resp.Body}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}
