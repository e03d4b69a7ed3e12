package main

import (
	"context"
	"fmt"
	"log/slog"

	"maestro/internal/adapter/llm"
	"maestro/internal/domain"
	"maestro/internal/infra/config"
	"maestro/internal/usecase"
)

// LLMComponents holds the provider registry, the failover gateway on
// top of it, and the usecase-facing bridge around the gateway.
type LLMComponents struct {
	Registry *llm.Registry
	Gateway  *llm.Gateway
	Bridge   usecase.ProviderGateway
}

// initLLM initializes LLM providers, registry, and the failover gateway.
func initLLM(cfg *config.Config, bus domain.EventBus, log *slog.Logger) (*LLMComponents, error) {
	// 1. Create the provider registry
	registry := llm.NewRegistry()

	// 2. Register all configured providers
	providers := cfg.LLM.Providers
	if len(providers) == 0 && cfg.LLM.DefaultProvider == "ollama" {
		// Zero-config start: a local Ollama needs no credentials.
		providers = []config.ProviderConfig{{Name: "ollama", Type: "ollama"}}
		log.Info("no providers configured, assuming local ollama")
	}

	cbCfg := cfg.LLM.CircuitBreaker
	for _, pc := range providers {
		provider, err := createLLMProvider(pc, log)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}

		// Wrap with circuit breaker if enabled (per-provider).
		if cbCfg.Enabled {
			provider = llm.NewCircuitBreakerProvider(provider, cbCfg, log)
		}

		if err := registry.Register(provider); err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
	}

	if cbCfg.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cbCfg.MaxFailures,
			"timeout", cbCfg.Timeout,
			"interval", cbCfg.Interval,
		)
	}

	// 3. Build the failover gateway on top
	gw := llm.NewGateway(registry, llm.GatewayConfig{
		DefaultProvider: cfg.LLM.DefaultProvider,
		FallbackEnabled: cfg.LLM.Fallback.Enabled,
		FallbackOrder:   cfg.LLM.Fallback.Order,
		MaxFailures:     cfg.LLM.Fallback.MaxFailures,
		RequestTimeout:  cfg.LLM.RequestTimeout,
		HealthInterval:  cfg.LLM.Fallback.HealthInterval,
	}, bus, log)

	if cfg.LLM.Fallback.Enabled {
		log.Info("provider fallback enabled", "order", cfg.LLM.Fallback.Order)
	}

	return &LLMComponents{
		Registry: registry,
		Gateway:  gw,
		Bridge:   gatewayBridge{gw: gw},
	}, nil
}

// createLLMProvider constructs one provider from its config entry.
func createLLMProvider(pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	switch pc.Type {
	case "openai", "":
		return llm.NewOpenAIProvider(pc, log), nil
	case "anthropic":
		return llm.NewAnthropicProvider(pc, log), nil
	case "openrouter":
		return llm.NewOpenRouterProvider(pc, log), nil
	case "ollama":
		return llm.NewOllamaProvider(pc, log), nil
	case "bedrock":
		return createBedrockProvider(pc, log)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", pc.Type)
	}
}

// gatewayBridge adapts the gateway's option-style provider pinning to
// the plain provider-name form the usecase layer speaks. An empty name
// means the default failover chain.
type gatewayBridge struct {
	gw *llm.Gateway
}

func (b gatewayBridge) Chat(ctx context.Context, req domain.ChatRequest, provider string) (*domain.ChatResponse, error) {
	if provider == "" {
		return b.gw.Chat(ctx, req)
	}
	return b.gw.Chat(ctx, req, llm.WithProvider(provider))
}

func (b gatewayBridge) ChatStream(ctx context.Context, req domain.ChatRequest, provider string) (<-chan domain.StreamDelta, error) {
	if provider == "" {
		return b.gw.ChatStream(ctx, req)
	}
	return b.gw.ChatStream(ctx, req, llm.WithProvider(provider))
}
