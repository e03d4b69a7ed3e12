package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

// stubBackend returns scripted results and counts Search invocations.
type stubBackend struct {
	results   []SearchResult
	err       error
	calls     int
	lastQuery string
	lastCount int
}

func (b *stubBackend) Search(_ context.Context, query string, count int) ([]SearchResult, error) {
	b.calls++
	b.lastQuery = query
	b.lastCount = count
	if b.err != nil {
		return nil, b.err
	}
	return b.results, nil
}

func (b *stubBackend) Name() string { return "stub" }

func searchArgs(t *testing.T, p webSearchParams) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestWebSearchFormatting(t *testing.T) {
	backend := &stubBackend{results: []SearchResult{
		{Title: "Go", URL: "https://go.dev", Snippet: "The Go programming language"},
		{Title: "No link", Snippet: "A result without a URL"},
	}}
	tool := NewWebSearchTool(backend, 5, nopLogger())

	res, err := tool.Execute(context.Background(), searchArgs(t, webSearchParams{Query: "golang"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}

	want := "1. Go\n   The Go programming language\n   URL: https://go.dev\n\n2. No link\n   A result without a URL"
	if res.Content != want {
		t.Errorf("Content = %q, want %q", res.Content, want)
	}
	if backend.lastQuery != "golang" || backend.lastCount != 5 {
		t.Errorf("backend saw query=%q count=%d", backend.lastQuery, backend.lastCount)
	}
}

func TestWebSearchCountClamp(t *testing.T) {
	backend := &stubBackend{}
	tool := NewWebSearchTool(backend, 5, nopLogger())

	if _, err := tool.Execute(context.Background(), searchArgs(t, webSearchParams{Query: "a", MaxResults: 99})); err != nil {
		t.Fatal(err)
	}
	if backend.lastCount != maxSearchCount {
		t.Errorf("count = %d, want %d", backend.lastCount, maxSearchCount)
	}

	if _, err := tool.Execute(context.Background(), searchArgs(t, webSearchParams{Query: "b"})); err != nil {
		t.Fatal(err)
	}
	if backend.lastCount != 5 {
		t.Errorf("count = %d, want default 5", backend.lastCount)
	}
}

func TestWebSearchTruncatesBackendResults(t *testing.T) {
	var many []SearchResult
	for i := 0; i < 8; i++ {
		many = append(many, SearchResult{Title: fmt.Sprintf("r%d", i), Snippet: "s"})
	}
	tool := NewWebSearchTool(&stubBackend{results: many}, 5, nopLogger())

	res, err := tool.Execute(context.Background(), searchArgs(t, webSearchParams{Query: "q", MaxResults: 2}))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(res.Content, "3.") {
		t.Errorf("results not capped to 2:\n%s", res.Content)
	}
}

func TestWebSearchEmptyResults(t *testing.T) {
	tool := NewWebSearchTool(&stubBackend{}, 5, nopLogger())
	res, err := tool.Execute(context.Background(), searchArgs(t, webSearchParams{Query: "nothing here"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if res.Content != `No results found for "nothing here".` {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestWebSearchEmptyQuery(t *testing.T) {
	backend := &stubBackend{}
	tool := NewWebSearchTool(backend, 5, nopLogger())
	res, err := tool.Execute(context.Background(), searchArgs(t, webSearchParams{Query: "   "}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || res.Content != "query must not be empty" {
		t.Errorf("result = %+v", res)
	}
	if backend.calls != 0 {
		t.Error("backend must not be called for an empty query")
	}
}

func TestWebSearchBackendError(t *testing.T) {
	tool := NewWebSearchTool(&stubBackend{err: fmt.Errorf("backend down")}, 5, nopLogger())
	res, err := tool.Execute(context.Background(), searchArgs(t, webSearchParams{Query: "q"}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || res.Content != "backend down" {
		t.Errorf("result = %+v", res)
	}
}

func TestWebSearchCache(t *testing.T) {
	backend := &stubBackend{results: []SearchResult{{Title: "T", Snippet: "S"}}}
	tool := NewWebSearchTool(backend, 5, nopLogger())
	args := searchArgs(t, webSearchParams{Query: "repeat"})

	first, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	second, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want 1 (second hit served from cache)", backend.calls)
	}
	if first.Content != second.Content {
		t.Errorf("cached content differs: %q vs %q", first.Content, second.Content)
	}

	// A different count is a different cache key.
	if _, err := tool.Execute(context.Background(), searchArgs(t, webSearchParams{Query: "repeat", MaxResults: 3})); err != nil {
		t.Fatal(err)
	}
	if backend.calls != 2 {
		t.Errorf("backend calls = %d, want 2", backend.calls)
	}
}

func TestWebSearchErrorsNotCached(t *testing.T) {
	backend := &stubBackend{err: fmt.Errorf("flaky")}
	tool := NewWebSearchTool(backend, 5, nopLogger())
	args := searchArgs(t, webSearchParams{Query: "q"})

	if _, err := tool.Execute(context.Background(), args); err != nil {
		t.Fatal(err)
	}
	backend.err = nil
	backend.results = []SearchResult{{Title: "T", Snippet: "S"}}

	res, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("retry after backend recovery failed: %s", res.Content)
	}
	if backend.calls != 2 {
		t.Errorf("backend calls = %d, want 2", backend.calls)
	}
}
