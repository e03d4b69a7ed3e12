package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"maestro/internal/domain"
	"maestro/internal/infra/tracer"
)

const (
	defaultKnowledgeCount  = 5
	maxKnowledgeCount      = 10
	knowledgeSnippetLength = 400
)

// KnowledgeStore is the document search surface the knowledge_search tool
// exposes to agents.
type KnowledgeStore interface {
	Search(ctx context.Context, query string, scopes []string, limit int) ([]domain.Document, error)
}

// KnowledgeSearchTool searches the knowledge base directly, as opposed to
// the automatic context injection agents get from their knowledge scopes.
type KnowledgeSearchTool struct {
	store  KnowledgeStore
	logger *slog.Logger
}

// NewKnowledgeSearchTool creates a knowledge search tool over the given store.
func NewKnowledgeSearchTool(store KnowledgeStore, logger *slog.Logger) *KnowledgeSearchTool {
	return &KnowledgeSearchTool{store: store, logger: logger}
}

func (t *KnowledgeSearchTool) Name() string { return "knowledge_search" }
func (t *KnowledgeSearchTool) Description() string {
	return "Search the internal knowledge base for documentation"
}

func (t *KnowledgeSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"},
				"scope": {"type": "string", "description": "Restrict the search to one knowledge scope (optional)"},
				"max_results": {"type": "integer", "minimum": 1, "maximum": 10, "description": "Maximum number of results to return (default: 5)"}
			},
			"required": ["query"],
			"additionalProperties": false
		}`),
	}
}

type knowledgeSearchParams struct {
	Query      string `json:"query"`
	Scope      string `json:"scope,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

func (t *KnowledgeSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.knowledge_search", t.logger, params,
		func(ctx context.Context, span trace.Span, p knowledgeSearchParams) (any, error) {
			if strings.TrimSpace(p.Query) == "" {
				return nil, fmt.Errorf("query must not be empty")
			}

			span.SetAttributes(tracer.StringAttr("tool.query", p.Query))

			count := p.MaxResults
			if count <= 0 {
				count = defaultKnowledgeCount
			}
			if count > maxKnowledgeCount {
				count = maxKnowledgeCount
			}

			var scopes []string
			if p.Scope != "" {
				scopes = []string{p.Scope}
			}

			docs, err := t.store.Search(ctx, p.Query, scopes, count)
			if err != nil {
				return nil, fmt.Errorf("knowledge search: %w", err)
			}

			t.logger.Debug("knowledge search completed", "query", p.Query, "results", len(docs))
			return formatKnowledgeResults(p.Query, docs), nil
		},
	)
}

func formatKnowledgeResults(query string, docs []domain.Document) string {
	if len(docs) == 0 {
		return fmt.Sprintf("No knowledge base entries found for %q.", query)
	}

	var sb strings.Builder
	for i, doc := range docs {
		snippet := doc.Content
		if len(snippet) > knowledgeSnippetLength {
			snippet = snippet[:knowledgeSnippetLength] + "..."
		}
		fmt.Fprintf(&sb, "%d. [%s] %s\n   %s\n\n", i+1, doc.Scope, doc.Title, snippet)
	}
	return strings.TrimRight(sb.String(), "\n")
}
