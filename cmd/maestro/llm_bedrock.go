//go:build bedrock

package main

import (
	"log/slog"

	"maestro/internal/adapter/llm"
	"maestro/internal/domain"
	"maestro/internal/infra/config"
)

func createBedrockProvider(pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	return llm.NewBedrockProvider(pc, log)
}
