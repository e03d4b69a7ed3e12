package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateLLM(cfg, ve)
	validateBlueprints(cfg, ve)
	validateAgent(cfg, ve)
	validateSessions(cfg, ve)
	validateKnowledge(cfg, ve)
	validateTools(cfg, ve)
	validateScheduler(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if !cfg.Server.Enabled {
		return
	}
	if cfg.Server.Addr == "" {
		ve.Add("server.addr is required when server is enabled")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is not a valid host:port", cfg.Server.Addr)
	}
	if cfg.Server.Auth.Type != "" && cfg.Server.Auth.Type != "static" {
		ve.Add("server.auth.type %q is invalid (want: static or empty)", cfg.Server.Auth.Type)
	}
	if cfg.Server.Auth.Type == "static" && len(cfg.Server.Auth.Tokens) == 0 {
		ve.Add("server.auth.tokens must not be empty when auth type is static")
	}
	if cfg.Server.RateLimit.Enabled {
		if cfg.Server.RateLimit.RequestsPerMinute <= 0 {
			ve.Add("server.rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if cfg.Server.RateLimit.Burst <= 0 {
			ve.Add("server.rate_limit.burst must be > 0 when rate limiting is enabled")
		}
	}
}

var validProviderTypes = map[string]bool{
	"openai":     true,
	"ollama":     true,
	"anthropic":  true,
	"openrouter": true,
	"bedrock":    true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}
	if cfg.LLM.RequestTimeout <= 0 {
		ve.Add("llm.request_timeout must be > 0")
	}
	if cfg.LLM.Fallback.Enabled && cfg.LLM.Fallback.MaxFailures <= 0 {
		ve.Add("llm.fallback.max_failures must be > 0 when fallback is enabled")
	}

	if len(cfg.LLM.Providers) == 0 {
		return
	}

	seen := make(map[string]bool)
	foundDefault := false
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.Type != "" && !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, ollama, anthropic, openrouter, bedrock)", i, p.Type)
		}
		if p.APIKey == "" && (p.Type == "openai" || p.Type == "anthropic" || p.Type == "openrouter") {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via MAESTRO_LLM_PROVIDER_%s_API_KEY)",
				i, p.Name, strings.ToUpper(p.Name))
		}
		if p.Type == "bedrock" && p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required for bedrock provider", i, p.Name)
		}
		if p.Name == cfg.LLM.DefaultProvider {
			foundDefault = true
		}
	}

	if !foundDefault && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}

	for i, name := range cfg.LLM.Fallback.Order {
		if !seen[name] {
			ve.Add("llm.fallback.order[%d] %q does not match any configured provider", i, name)
		}
	}
}

func validateBlueprints(cfg *Config, ve *ValidationError) {
	if cfg.Blueprints.Dir == "" {
		ve.Add("blueprints.dir must not be empty")
	}
	if cfg.Blueprints.Default == "" {
		ve.Add("blueprints.default must not be empty")
	}
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.MaxToolRounds <= 0 {
		ve.Add("agent.max_tool_rounds must be > 0")
	}
	if cfg.Agent.HistoryMessages < 0 {
		ve.Add("agent.history_messages must be >= 0")
	}
}

func validateSessions(cfg *Config, ve *ValidationError) {
	if cfg.Sessions.TTL <= 0 {
		ve.Add("sessions.ttl must be > 0")
	}
	if cfg.Sessions.Persist && cfg.Sessions.DataDir == "" {
		ve.Add("sessions.data_dir must not be empty when persistence is enabled")
	}
}

func validateKnowledge(cfg *Config, ve *ValidationError) {
	if !cfg.Knowledge.Enabled {
		return
	}
	if cfg.Knowledge.DBPath == "" {
		ve.Add("knowledge.db_path must not be empty when knowledge is enabled")
	}
	if cfg.Knowledge.MaxResults <= 0 {
		ve.Add("knowledge.max_results must be > 0 when knowledge is enabled")
	}
	if cfg.Knowledge.MaxContextTokens <= 0 {
		ve.Add("knowledge.max_context_tokens must be > 0 when knowledge is enabled")
	}
}

func validateTools(cfg *Config, ve *ValidationError) {
	if cfg.Tools.Code.Enabled {
		if cfg.Tools.Code.Timeout <= 0 {
			ve.Add("tools.code.timeout must be > 0 when code tool is enabled")
		}
		if cfg.Tools.Code.MaxOutput <= 0 {
			ve.Add("tools.code.max_output must be > 0 when code tool is enabled")
		}
	}
	if cfg.Tools.HTTP.Enabled {
		if cfg.Tools.HTTP.Timeout <= 0 {
			ve.Add("tools.http.timeout must be > 0 when http tool is enabled")
		}
		if cfg.Tools.HTTP.MaxBodySize <= 0 {
			ve.Add("tools.http.max_body_size must be > 0 when http tool is enabled")
		}
		if len(cfg.Tools.HTTP.AllowedDomains) == 0 {
			ve.Add("tools.http.allowed_domains must not be empty when http tool is enabled")
		}
	}
	if cfg.Tools.Search.Enabled {
		if cfg.Tools.Search.BaseURL == "" {
			ve.Add("tools.search.base_url must not be empty when search tool is enabled")
		}
		if cfg.Tools.Search.Timeout <= 0 {
			ve.Add("tools.search.timeout must be > 0 when search tool is enabled")
		}
	}
	if cfg.Tools.Files.Enabled {
		if len(cfg.Tools.Files.AllowedDirs) == 0 {
			ve.Add("tools.files.allowed_dirs must not be empty when files tool is enabled")
		}
		if cfg.Tools.Files.MaxFileSize <= 0 {
			ve.Add("tools.files.max_file_size must be > 0 when files tool is enabled")
		}
	}
	if cfg.Tools.RateLimit.Enabled {
		if cfg.Tools.RateLimit.PerSecond <= 0 {
			ve.Add("tools.rate_limit.per_second must be > 0 when tool rate limiting is enabled")
		}
		if cfg.Tools.RateLimit.Burst <= 0 {
			ve.Add("tools.rate_limit.burst must be > 0 when tool rate limiting is enabled")
		}
	}
}

var validSchedulerActions = map[string]bool{
	"health_check": true,
	"session_reap": true,
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	seen := make(map[string]bool)
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		} else if seen[t.Name] {
			ve.Add("scheduler.tasks[%d].name %q is duplicate", i, t.Name)
		}
		seen[t.Name] = true
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule is required", i)
		}
		if !validSchedulerActions[t.Action] {
			ve.Add("scheduler.tasks[%d].action %q is invalid (want: health_check, session_reap)", i, t.Action)
		}
	}
}
