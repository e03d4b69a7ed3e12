package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"maestro/internal/domain"
	"maestro/internal/infra/tracer"
)

// maxResponseBody is the maximum response body size we read from LLM APIs.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// maxErrorDetail caps how much of an error response body is kept in the
// classified error.
const maxErrorDetail = 512

// doJSONRequest performs a JSON POST request and returns the response body.
// It handles: create request, set headers, execute, read body (with limit),
// and check HTTP status code. Non-200 responses come back classified as a
// domain.ProviderError attributed to provider.
func doJSONRequest(ctx context.Context, client *http.Client, provider, url string, body []byte, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(provider, httpResp.StatusCode, respBody)
	}

	return respBody, nil
}

// doStreamRequest performs a JSON POST request for SSE streaming.
// It returns the open *http.Response (caller must close Body).
// Non-200 responses come back classified as a domain.ProviderError.
func doStreamRequest(ctx context.Context, client *http.Client, provider, url string, body []byte, headers map[string]string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, mapHTTPError(provider, httpResp.StatusCode, respBody)
	}

	return httpResp, nil
}

// doGETRequest performs a GET request and returns the response body.
// Used by the model-listing and health endpoints.
func doGETRequest(ctx context.Context, client *http.Client, provider, url string, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(provider, httpResp.StatusCode, respBody)
	}

	return respBody, nil
}

// logChatCompleted logs the standard debug message after a successful LLM chat.
func logChatCompleted(logger *slog.Logger, providerName string, result *domain.ChatResponse) {
	logger.Debug("llm chat completed",
		"provider", providerName,
		"model", result.Model,
		"tokens", result.Usage.TotalTokens,
	)
}

// setUsageAttrs adds token usage attributes to a trace span.
func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
	)
}

// chatProbe issues a minimal one-token completion to verify a provider can
// actually serve requests. Used as the health probe for providers without a
// native liveness endpoint.
func chatProbe(ctx context.Context, p domain.LLMProvider) error {
	_, err := p.Chat(ctx, domain.ChatRequest{
		Messages:  []domain.Message{{Role: domain.RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

// mapHTTPError classifies a non-200 status into a domain.ProviderError.
// The Retriable flag tells the gateway whether falling back to another
// provider can help: auth failures, unknown models and malformed requests
// cannot be fixed by retrying elsewhere, everything else can.
func mapHTTPError(provider string, statusCode int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > maxErrorDetail {
		detail = detail[:maxErrorDetail]
	}
	if detail == "" {
		detail = http.StatusText(statusCode)
	}

	var cause error
	retriable := true
	switch {
	case statusCode == http.StatusTooManyRequests: // 429
		cause = fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden: // 401, 403
		cause = fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
		retriable = false
	case statusCode == http.StatusNotFound: // 404
		cause = fmt.Errorf("%w: %s", domain.ErrModelNotFound, detail)
		retriable = false
	case statusCode == http.StatusBadRequest || statusCode == http.StatusRequestEntityTooLarge: // 400, 413
		cause = fmt.Errorf("%w: %s", domain.ErrInvalidInput, detail)
		retriable = false
	default:
		// 5xx and anything unrecognized: the next provider may do better.
		cause = fmt.Errorf("%s", detail)
	}

	return &domain.ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Err:        cause,
		Retriable:  retriable,
	}
}
