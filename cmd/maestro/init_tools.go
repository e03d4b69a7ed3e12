package main

import (
	"log/slog"

	"golang.org/x/time/rate"

	"maestro/internal/adapter/rag"
	"maestro/internal/adapter/tool"
	"maestro/internal/domain"
	"maestro/internal/infra/config"
)

// ToolComponents holds the tool registry and the executor built on it.
type ToolComponents struct {
	Registry *tool.Registry
	Executor *tool.Executor
}

// initTools registers every enabled tool and wraps them in an executor.
// store may be nil; knowledge_search is only registered when the
// knowledge store is open.
func initTools(cfg *config.Config, store *rag.Store, bus domain.EventBus, log *slog.Logger) (*ToolComponents, error) {
	registry := tool.NewRegistry(log)

	wrap := func(t domain.Tool) domain.Tool { return t }
	if cfg.Tools.RateLimit.Enabled {
		rl := cfg.Tools.RateLimit
		wrap = func(t domain.Tool) domain.Tool {
			// One limiter per tool, not a shared budget.
			return tool.WithRateLimit(t, rate.NewLimiter(rate.Limit(rl.PerSecond), rl.Burst))
		}
		log.Info("tool rate limit enabled", "per_second", rl.PerSecond, "burst", rl.Burst)
	}

	register := func(t domain.Tool) error {
		return registry.Register(wrap(t))
	}

	if cfg.Tools.Code.Enabled {
		if err := register(tool.NewCodeExecuteTool(cfg.Tools.Code.Timeout, cfg.Tools.Code.MaxOutput, log)); err != nil {
			return nil, err
		}
	}
	if cfg.Tools.HTTP.Enabled {
		if err := register(tool.NewHTTPRequestTool(cfg.Tools.HTTP.AllowedDomains, cfg.Tools.HTTP.Timeout, cfg.Tools.HTTP.MaxBodySize, log)); err != nil {
			return nil, err
		}
	}
	if cfg.Tools.Search.Enabled {
		backend := tool.NewDuckDuckGoBackend(cfg.Tools.Search.BaseURL, cfg.Tools.Search.Timeout, log)
		if err := register(tool.NewWebSearchTool(backend, cfg.Tools.Search.MaxResults, log)); err != nil {
			return nil, err
		}
	}
	if cfg.Tools.Files.Enabled {
		if err := register(tool.NewFileReadTool(cfg.Tools.Files.AllowedDirs, cfg.Tools.Files.MaxFileSize, cfg.Tools.Files.MaxLines, log)); err != nil {
			return nil, err
		}
	}
	if store != nil {
		if err := register(tool.NewKnowledgeSearchTool(store, log)); err != nil {
			return nil, err
		}
	}

	return &ToolComponents{
		Registry: registry,
		Executor: tool.NewExecutor(registry, bus, log),
	}, nil
}

// toolSource narrows the executor to an agent's allowed tool list.
type toolSource struct {
	exec domain.ToolExecutor
}

func (s toolSource) Scoped(names []string) domain.ToolExecutor {
	return tool.NewScoped(s.exec, names)
}
