package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chat-relay/domain/chat"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
)

// Config configures a Custom Search style JSON API.
type Config struct {
	APIURL     string
	APIKey     string
	EngineID   string
	CacheSize  int
	Timeout    time.Duration
	MaxResults int
}

// errClient marks 4xx answers; they are not retried and do not trip the breaker.
var errClient = errors.New("search request rejected")

// Source implements chat.ContextSource using a web search API
type Source struct {
	config         Config
	httpClient     *http.Client
	cache          *lru.Cache[string, []string]
	circuitBreaker *gobreaker.CircuitBreaker
}

// NewSource creates a new search-backed context source
func NewSource(config Config) (*Source, error) {
	if config.APIURL == "" {
		return nil, fmt.Errorf("search API URL is required")
	}
	if config.APIKey == "" || config.EngineID == "" {
		return nil, fmt.Errorf("search API key and engine id are required")
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 256
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.MaxResults <= 0 || config.MaxResults > 10 {
		config.MaxResults = 5
	}

	cache, err := lru.New[string, []string](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	// Configure circuit breaker for resilience
	cbSettings := gobreaker.Settings{
		Name:        "search-api",
		MaxRequests: 3,                // Allow 3 requests in half-open state
		Interval:    60 * time.Second, // Reset counts every minute
		Timeout:     30 * time.Second, // Stay open for 30 seconds
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errClient) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"service": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Search API circuit breaker state changed")
		},
	}

	return &Source{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          20,
				MaxIdleConnsPerHost:   20,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: config.Timeout,
			},
		},
		cache:          cache,
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
	}, nil
}

// FetchContext implements chat.ContextSource.
func (s *Source) FetchContext(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	cacheKey := s.getCacheKey(query)
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached, nil
	}

	result, err := s.circuitBreaker.Execute(func() (interface{}, error) {
		return s.doSearchRequest(ctx, query)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logrus.Debug("Search API circuit breaker is open, failing fast")
		}
		return nil, fmt.Errorf("%w: %w", chat.ErrContextRetrieval, err)
	}

	snippets := result.([]string)
	s.cache.Add(cacheKey, snippets)
	return snippets, nil
}

// doSearchRequest performs the actual HTTP request
func (s *Source) doSearchRequest(ctx context.Context, query string) ([]string, error) {
	params := url.Values{}
	params.Set("key", s.config.APIKey)
	params.Set("cx", s.config.EngineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(s.config.MaxResults))

	target := s.config.APIURL
	if strings.Contains(target, "?") {
		target += "&" + params.Encode()
	} else {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("%w: status %d: %s", errClient, resp.StatusCode, gjson.GetBytes(body, "error.message").String())
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	return parseItems(body, s.config.MaxResults), nil
}

// parseItems renders items[].title/snippet/link as "title (link): snippet".
func parseItems(body []byte, max int) []string {
	var out []string
	gjson.GetBytes(body, "items").ForEach(func(_, item gjson.Result) bool {
		title := collapse(item.Get("title").String())
		snippet := collapse(item.Get("snippet").String())
		link := strings.TrimSpace(item.Get("link").String())
		if title == "" && snippet == "" {
			return true
		}

		var line string
		switch {
		case link == "":
			line = strings.TrimSpace(title + ": " + snippet)
		case snippet == "":
			line = fmt.Sprintf("%s (%s)", title, link)
		default:
			line = fmt.Sprintf("%s (%s): %s", title, link, snippet)
		}
		out = append(out, line)
		return len(out) < max
	})
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// getCacheKey generates a cache key for the given query
func (s *Source) getCacheKey(query string) string {
	hash := sha256.Sum256([]byte(strings.ToLower(query)))
	return hex.EncodeToString(hash[:16]) // Use first 16 bytes for shorter key
}
