package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"maestro/internal/domain"
	"maestro/internal/infra/config"
)

// Compile-time interface assertions.
var (
	_ domain.LLMProvider           = (*OllamaProvider)(nil)
	_ domain.StreamingLLMProvider  = (*OllamaProvider)(nil)
	_ domain.HealthCheckedProvider = (*OllamaProvider)(nil)
)

// Default Ollama timeouts: short connect (local), long response (model loading).
const (
	ollamaDefaultConnTimeout = 5 * time.Second
	ollamaDefaultRespTimeout = 300 * time.Second
)

// OllamaProvider wraps OpenAIProvider to work with the Ollama API.
// Ollama exposes an OpenAI-compatible endpoint at /v1, so chat and stream
// are delegated to the inner OpenAI provider. Model listing, the health
// probe, and model warmup use the native API.
type OllamaProvider struct {
	inner   *OpenAIProvider
	baseURL string // native Ollama API base (without /v1)
	client  *http.Client
	logger  *slog.Logger
}

// ollamaModel is one entry of the native /api/tags listing.
type ollamaModel struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// NewOllamaProvider creates an Ollama provider that delegates chat/stream
// to OpenAIProvider via Ollama's OpenAI-compatible /v1 endpoint.
func NewOllamaProvider(cfg config.ProviderConfig, logger *slog.Logger) *OllamaProvider {
	// Apply Ollama-specific timeout defaults.
	ollamaCfg := cfg
	if ollamaCfg.ConnTimeout == 0 {
		ollamaCfg.ConnTimeout = ollamaDefaultConnTimeout
	}
	if ollamaCfg.RespTimeout == 0 {
		ollamaCfg.RespTimeout = ollamaDefaultRespTimeout
	}

	client := NewHTTPClient(ollamaCfg)

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &OllamaProvider{
		inner: &OpenAIProvider{
			name:    cfg.Name,
			model:   cfg.Model,
			apiKey:  "", // Ollama doesn't need an API key
			baseURL: baseURL + "/v1",
			client:  client,
			logger:  logger,
		},
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}
}

// Name implements domain.LLMProvider.
func (p *OllamaProvider) Name() string { return p.inner.Name() }

// Chat implements domain.LLMProvider.
func (p *OllamaProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return p.inner.Chat(ctx, req)
}

// ChatStream implements domain.StreamingLLMProvider.
func (p *OllamaProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	return p.inner.ChatStream(ctx, req)
}

// Models implements domain.LLMProvider using the native /api/tags listing.
func (p *OllamaProvider) Models(ctx context.Context) ([]string, error) {
	respBody, err := doGETRequest(ctx, p.client, p.Name(), p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Models []ollamaModel `json:"models"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// HealthCheck implements domain.HealthCheckedProvider. Ollama answers GET /
// with a plain 200 when the server is up.
func (p *OllamaProvider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama unhealthy: status %d", httpResp.StatusCode)
	}
	return nil
}

// Warmup sends a lightweight request to pre-load the configured model.
// This prevents the first real request from incurring model load latency.
func (p *OllamaProvider) Warmup(ctx context.Context) error {
	if err := p.HealthCheck(ctx); err != nil {
		return fmt.Errorf("ollama server not reachable at %s: %w", p.baseURL, err)
	}

	p.logger.Info("warming up Ollama model", "model", p.inner.model, "base_url", p.baseURL)

	// Use the generate endpoint with keep_alive to load the model without generating.
	payload := fmt.Sprintf(`{"model":%q,"keep_alive":"5m"}`, p.inner.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate",
		strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create warmup request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("warmup request: %w", err)
	}
	defer httpResp.Body.Close()
	io.Copy(io.Discard, httpResp.Body)

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("warmup failed: status %d", httpResp.StatusCode)
	}

	p.logger.Info("Ollama model warmed up", "model", p.inner.model)
	return nil
}
