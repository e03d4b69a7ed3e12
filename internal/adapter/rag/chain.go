package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"maestro/internal/domain"
)

const (
	defaultRetrieveK     = 5
	defaultContextTokens = 2000
	defaultEncoding      = "cl100k_base"

	// minTruncatedTokens is the smallest budget remainder worth filling
	// with a truncated document.
	minTruncatedTokens = 50
)

// contextTemplate frames retrieved documents for injection into an agent's
// system prompt.
const contextTemplate = `You have access to the following relevant context from the knowledge base:

<context>
%s
</context>

Use this context to help answer the user's question. If the context doesn't contain relevant information, you can still answer based on your general knowledge, but mention that you couldn't find specific documentation on the topic.

User Question: %s`

// tokenCodec is the slice of the tiktoken API the chain uses.
type tokenCodec interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
	Decode(tokens []int) string
}

// Chain builds prompt context from the document store under a token
// budget.
type Chain struct {
	store     *Store
	enc       tokenCodec
	maxTokens int
	retrieveK int
	logger    *slog.Logger
}

// NewChain creates a context chain over the given store. Zero
// maxContextTokens and empty encoding select the defaults (2000,
// cl100k_base).
func NewChain(store *Store, maxContextTokens int, encoding string, logger *slog.Logger) (*Chain, error) {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultContextTokens
	}
	if encoding == "" {
		encoding = defaultEncoding
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tiktoken encoding %q: %w", encoding, err)
	}

	return &Chain{
		store:     store,
		enc:       enc,
		maxTokens: maxContextTokens,
		retrieveK: defaultRetrieveK,
		logger:    logger,
	}, nil
}

// BuildContext retrieves documents for the query and formats them into a
// context section under the token budget. It returns ("", false) when
// nothing relevant is stored or retrieval fails, so the caller keeps its
// plain prompt either way. Zero maxTokens selects the chain's default.
func (c *Chain) BuildContext(ctx context.Context, query string, scopes []string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	docs, err := c.store.Search(ctx, query, scopes, c.retrieveK)
	if err != nil {
		c.logger.Warn("knowledge retrieval failed", "error", err, "scopes", scopes)
		return "", false
	}
	if len(docs) == 0 {
		return "", false
	}

	var parts []string
	used := 0
	for _, doc := range docs {
		text := formatDocument(doc)
		n := c.CountTokens(text)
		if used+n > maxTokens {
			remaining := maxTokens - used
			if remaining > minTruncatedTokens {
				parts = append(parts, c.truncateTokens(text, remaining)+"...")
				used = maxTokens
			}
			break
		}
		parts = append(parts, text)
		used += n
	}
	if len(parts) == 0 {
		return "", false
	}

	c.logger.Debug("knowledge context built",
		"documents", len(parts), "retrieved", len(docs), "tokens", used)
	return fmt.Sprintf(contextTemplate, strings.Join(parts, "\n\n---\n\n"), query), true
}

// CountTokens reports the token count of text under the chain's encoding.
func (c *Chain) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

func (c *Chain) truncateTokens(text string, maxTokens int) string {
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return c.enc.Decode(tokens[:maxTokens])
}

func formatDocument(doc domain.Document) string {
	return fmt.Sprintf("[Source: %s | Scope: %s]\n%s", doc.Title, doc.Scope, doc.Content)
}
