package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"maestro/internal/domain"
	"maestro/internal/infra/tracer"
)

const (
	defaultSearchCount = 5
	maxSearchCount     = 10
	defaultCacheTTL    = 15 * time.Minute
)

// cacheEntry holds a cached search result with its expiration time.
type cacheEntry struct {
	result    string
	expiresAt time.Time
}

// WebSearchTool performs web searches via a pluggable SearchBackend.
// Results are cached briefly so repeated tool rounds over the same query
// do not hit the backend again.
type WebSearchTool struct {
	backend      SearchBackend
	defaultCount int
	cacheTTL     time.Duration
	logger       *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewWebSearchTool creates a web search tool backed by the given SearchBackend.
func NewWebSearchTool(backend SearchBackend, defaultCount int, logger *slog.Logger) *WebSearchTool {
	if defaultCount <= 0 || defaultCount > maxSearchCount {
		defaultCount = defaultSearchCount
	}
	return &WebSearchTool{
		backend:      backend,
		defaultCount: defaultCount,
		cacheTTL:     defaultCacheTTL,
		logger:       logger,
		cache:        make(map[string]cacheEntry),
	}
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web for information" }

func (t *WebSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"},
				"max_results": {"type": "integer", "minimum": 1, "maximum": 10, "description": "Maximum number of results to return (default: 5)"}
			},
			"required": ["query"],
			"additionalProperties": false
		}`),
	}
}

type webSearchParams struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.web_search", t.logger, params,
		func(ctx context.Context, span trace.Span, p webSearchParams) (any, error) {
			if strings.TrimSpace(p.Query) == "" {
				return nil, fmt.Errorf("query must not be empty")
			}

			span.SetAttributes(tracer.StringAttr("tool.query", p.Query))

			count := p.MaxResults
			if count <= 0 {
				count = t.defaultCount
			}
			if count > maxSearchCount {
				count = maxSearchCount
			}

			cacheKey := fmt.Sprintf("%s|%d", p.Query, count)
			if cached, ok := t.getCached(cacheKey); ok {
				t.logger.Debug("web search cache hit", "query", p.Query)
				span.SetAttributes(tracer.StringAttr("tool.cache", "hit"))
				return cached, nil
			}

			results, err := t.backend.Search(ctx, p.Query, count)
			if err != nil {
				return nil, err
			}
			if len(results) > count {
				results = results[:count]
			}

			content := formatSearchResults(p.Query, results)
			t.putCache(cacheKey, content)

			t.logger.Debug("web search completed", "query", p.Query, "results", len(results))
			return content, nil
		},
	)
}

// formatSearchResults converts search results to a compact text format for LLM consumption.
func formatSearchResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.Snippet)
		if r.URL != "" {
			fmt.Fprintf(&sb, "   URL: %s\n", r.URL)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// getCached returns a cached result if it exists and has not expired.
func (t *WebSearchTool) getCached(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.cache[key]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		delete(t.cache, key)
		return "", false
	}
	return entry.result, true
}

// putCache stores a result in the cache with the configured TTL.
func (t *WebSearchTool) putCache(key, result string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cache[key] = cacheEntry{
		result:    result,
		expiresAt: time.Now().Add(t.cacheTTL),
	}

	// Lazy eviction: remove expired entries if the cache grows large.
	if len(t.cache) > 100 {
		now := time.Now()
		for k, v := range t.cache {
			if now.After(v.expiresAt) {
				delete(t.cache, k)
			}
		}
	}
}
