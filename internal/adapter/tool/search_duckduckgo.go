package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultDuckDuckGoURL     = "https://api.duckduckgo.com/"
	defaultDuckDuckGoTimeout = 10 * time.Second
	maxSearchBodySize        = 512 * 1024
)

// ddgResponse models the relevant portion of the DuckDuckGo instant-answer
// JSON. RelatedTopics mixes plain topics with nested category groups; group
// entries decode with an empty Text and are skipped.
type ddgResponse struct {
	Heading       string `json:"Heading"`
	Abstract      string `json:"Abstract"`
	AbstractURL   string `json:"AbstractURL"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// DuckDuckGoBackend searches the web via the DuckDuckGo instant-answer API.
type DuckDuckGoBackend struct {
	client  *http.Client
	baseURL string
	logger  *slog.Logger
}

// NewDuckDuckGoBackend creates a search backend for the DuckDuckGo
// instant-answer API. Empty baseURL and zero timeout select the defaults.
func NewDuckDuckGoBackend(baseURL string, timeout time.Duration, logger *slog.Logger) *DuckDuckGoBackend {
	if baseURL == "" {
		baseURL = defaultDuckDuckGoURL
	}
	if timeout <= 0 {
		timeout = defaultDuckDuckGoTimeout
	}
	return &DuckDuckGoBackend{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/") + "/",
		logger:  logger,
	}
}

func (b *DuckDuckGoBackend) Name() string { return "duckduckgo" }

func (b *DuckDuckGoBackend) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	q := req.URL.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed (HTTP %d)", resp.StatusCode)
	}

	var ddg ddgResponse
	if err := json.Unmarshal(body, &ddg); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	results := make([]SearchResult, 0, count)
	if ddg.Abstract != "" {
		results = append(results, SearchResult{
			Title:   ddg.Heading,
			URL:     ddg.AbstractURL,
			Snippet: ddg.Abstract,
		})
	}
	for _, topic := range ddg.RelatedTopics {
		if len(results) >= count {
			break
		}
		if topic.Text == "" {
			continue
		}
		results = append(results, SearchResult{
			Title:   topicTitle(topic.FirstURL),
			URL:     topic.FirstURL,
			Snippet: topic.Text,
		})
	}

	b.logger.Debug("duckduckgo search completed", "query", query, "results", len(results))
	return results, nil
}

// topicTitle derives a readable title from a topic URL's last path segment.
func topicTitle(firstURL string) string {
	if firstURL == "" {
		return ""
	}
	segment := firstURL
	if i := strings.LastIndex(segment, "/"); i >= 0 {
		segment = segment[i+1:]
	}
	return strings.ReplaceAll(segment, "_", " ")
}
