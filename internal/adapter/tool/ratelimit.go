package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/time/rate"

	"maestro/internal/domain"
)

// rateLimitedTool throttles a tool through a shared token bucket. Tools
// constructed from the same limiter share one budget, which caps the total
// execution rate across the whole tool set.
type rateLimitedTool struct {
	inner   domain.Tool
	limiter *rate.Limiter
}

// WithRateLimit wraps a tool so each Execute consumes one token from the
// limiter. When no token is available the call is rejected with an error
// ToolResult instead of blocking the agent loop.
func WithRateLimit(t domain.Tool, limiter *rate.Limiter) domain.Tool {
	if limiter == nil {
		return t
	}
	return &rateLimitedTool{inner: t, limiter: limiter}
}

func (r *rateLimitedTool) Name() string              { return r.inner.Name() }
func (r *rateLimitedTool) Description() string       { return r.inner.Description() }
func (r *rateLimitedTool) Schema() domain.ToolSchema { return r.inner.Schema() }

func (r *rateLimitedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	if !r.limiter.Allow() {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("rate limit exceeded for tool %q, try again shortly", r.inner.Name()),
		}, nil
	}
	return r.inner.Execute(ctx, params)
}
