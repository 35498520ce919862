// Package services implements the network-backed capabilities: web
// search, page content extraction, and NTP time.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avollmer/conductor/pkg/config"
	"github.com/avollmer/conductor/pkg/core"
	"github.com/avollmer/conductor/pkg/errors"
	"github.com/avollmer/conductor/pkg/resilience"
)

// SearchName is the registered name of the web search service.
const SearchName = "search"

const defaultMaxResults = 10

// SearchResult is a single search hit.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Searcher queries one search backend.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]SearchResult, error)
}

// Search exposes a search backend as a capability.
type Search struct {
	searcher   Searcher
	maxResults int
	retry      resilience.RetryConfig
}

// NewSearch builds the search service from configuration, selecting the
// provider by name.
func NewSearch(cfg config.SearchConfig) (*Search, error) {
	var searcher Searcher
	switch strings.ToLower(cfg.Provider) {
	case "serper", "":
		searcher = &SerperSearcher{APIKey: cfg.APIKey}
	case "brave":
		searcher = &BraveSearcher{APIKey: cfg.APIKey}
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
	}
	return NewSearchWith(searcher, cfg.MaxResults), nil
}

// NewSearchWith builds the search service around an explicit backend.
func NewSearchWith(searcher Searcher, maxResults int) *Search {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &Search{
		searcher:   searcher,
		maxResults: maxResults,
		retry:      resilience.DefaultRetryConfig(),
	}
}

func (s *Search) Name() string                     { return SearchName }
func (s *Search) Kind() core.CapabilityKind        { return core.KindService }
func (s *Search) Initialize(context.Context) error { return nil }
func (s *Search) Shutdown(context.Context) error   { return nil }

func (s *Search) Handle(ctx context.Context, data map[string]any) (map[string]any, error) {
	query, _ := data["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, errors.New(errors.CodeInvalidRequest, "missing required field \"query\"", nil)
	}
	max := intField(data, "max_results", s.maxResults)
	if max > s.maxResults {
		max = s.maxResults
	}

	// Backend calls are retried with backoff before the failure is
	// classified for the envelope.
	var results []SearchResult
	err := s.retry.Do(ctx, func() error {
		var serr error
		results, serr = s.searcher.Search(ctx, query, max)
		return serr
	})
	if err != nil {
		return nil, errors.New(errors.CodeCapabilityError, "search failed", err)
	}

	items := make([]map[string]any, 0, len(results))
	var snippets []string
	for _, r := range results {
		items = append(items, map[string]any{
			"title":   r.Title,
			"link":    r.Link,
			"snippet": r.Snippet,
		})
		if r.Snippet != "" {
			snippets = append(snippets, r.Snippet)
		}
	}
	return map[string]any{
		"query":         query,
		"results":       items,
		"total_results": len(items),
		"snippets":      strings.Join(snippets, "\n"),
	}, nil
}

// SerperSearcher queries the Serper API. BaseURL defaults to the public
// endpoint; tests point it at a local server.
type SerperSearcher struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func (s *SerperSearcher) Search(ctx context.Context, query string, max int) ([]SearchResult, error) {
	base := s.BaseURL
	if base == "" {
		base = "https://google.serper.dev"
	}
	payload, err := json.Marshal(map[string]any{"q": query, "num": max})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/search", strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper: unexpected status %d", resp.StatusCode)
	}

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	var out []SearchResult
	for i, item := range raw.Organic {
		if i >= max {
			break
		}
		out = append(out, SearchResult{Title: item.Title, Link: item.Link, Snippet: item.Snippet})
	}
	return out, nil
}

func (s *SerperSearcher) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// BraveSearcher queries the Brave web search API.
type BraveSearcher struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func (s *BraveSearcher) Search(ctx context.Context, query string, max int) ([]SearchResult, error) {
	base := s.BaseURL
	if base == "" {
		base = "https://api.search.brave.com"
	}
	endpoint := fmt.Sprintf("%s/res/v1/web/search?q=%s&count=%d", base, url.QueryEscape(query), max)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.APIKey)

	resp, err := s.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave: unexpected status %d", resp.StatusCode)
	}

	var raw struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	var out []SearchResult
	for i, item := range raw.Web.Results {
		if i >= max {
			break
		}
		out = append(out, SearchResult{Title: item.Title, Link: item.URL, Snippet: item.Description})
	}
	return out, nil
}

func (s *BraveSearcher) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// intField reads a numeric payload field, tolerating JSON float64.
func intField(data map[string]any, key string, def int) int {
	switch v := data[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return def
}
