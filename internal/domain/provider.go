package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LLMProvider is the interface all LLM backends implement.
type LLMProvider interface {
	// Name returns the provider identifier (e.g. "ollama", "openai").
	Name() string

	// Chat sends a chat request and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Models lists the models this provider can serve.
	Models(ctx context.Context) ([]string, error)
}

// StreamingLLMProvider is implemented by providers that support
// token streaming.
type StreamingLLMProvider interface {
	LLMProvider

	// ChatStream sends a chat request and streams deltas over the
	// returned channel. The channel is closed when the stream ends.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}

// HealthCheckedProvider is implemented by providers that can answer a
// cheap liveness probe without issuing a full completion.
type HealthCheckedProvider interface {
	LLMProvider

	// HealthCheck returns nil when the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// StreamDelta is a single chunk from a streaming response. A delta with
// Err set is terminal: the stream failed after it was established and no
// further deltas follow.
type StreamDelta struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Done      bool       `json:"done"`
	Usage     *Usage     `json:"usage,omitempty"`
	Err       error      `json:"-"`
}

// ProviderStatus is a point-in-time health snapshot of one provider
// as observed by the gateway.
type ProviderStatus struct {
	Name                string    `json:"name"`
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastChecked         time.Time `json:"last_checked"`
}

// ProviderError wraps a failure from a specific provider backend.
// Retriable controls whether the gateway may fall back to another
// provider after this error.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
	Retriable  bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError builds a retriable provider error.
func NewProviderError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Err: err, Retriable: true}
}

// NewFatalProviderError builds a non-retriable provider error, used for
// failures that another attempt cannot fix (bad credentials, unknown
// model, malformed request).
func NewFatalProviderError(provider string, statusCode int, err error) *ProviderError {
	return &ProviderError{Provider: provider, StatusCode: statusCode, Err: err, Retriable: false}
}

// IsRetriableProviderError reports whether the gateway may try another
// provider after err. Only an explicit non-retriable ProviderError stops
// fallback; timeouts, connection errors and unclassified failures are
// all considered transient.
func IsRetriableProviderError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retriable
	}
	return true
}
