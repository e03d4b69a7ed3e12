package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	Blueprints BlueprintsConfig `yaml:"blueprints"`
	Router     RouterConfig     `yaml:"router"`
	Agent      AgentConfig      `yaml:"agent"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	Tools      ToolsConfig      `yaml:"tools"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
	Includes   []string         `yaml:"includes,omitempty"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Addr      string          `yaml:"addr"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single API auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// RateLimitConfig holds per-client request rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// LLMConfig holds LLM provider and gateway settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Fallback        FallbackConfig       `yaml:"fallback"`
	RequestTimeout  time.Duration        `yaml:"request_timeout"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// FallbackConfig holds provider failover settings.
type FallbackConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Order          []string      `yaml:"order"`
	MaxFailures    int           `yaml:"max_failures"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// BlueprintsConfig holds blueprint loading settings.
type BlueprintsConfig struct {
	Dir     string `yaml:"dir"`
	Default string `yaml:"default"`
}

// RouterConfig holds query routing settings.
type RouterConfig struct {
	ClassifierProvider string        `yaml:"classifier_provider"` // empty = default provider
	ClassifierModel    string        `yaml:"classifier_model"`
	ClassifierTimeout  time.Duration `yaml:"classifier_timeout"`
}

// AgentConfig holds agent loop settings.
type AgentConfig struct {
	MaxToolRounds   int `yaml:"max_tool_rounds"`
	HistoryMessages int `yaml:"history_messages"`
}

// SessionsConfig holds session persistence settings.
type SessionsConfig struct {
	DataDir string        `yaml:"data_dir"`
	TTL     time.Duration `yaml:"ttl"`
	Persist bool          `yaml:"persist"`
}

// KnowledgeConfig holds knowledge base retrieval settings.
type KnowledgeConfig struct {
	Enabled          bool   `yaml:"enabled"`
	DBPath           string `yaml:"db_path"`
	MaxResults       int    `yaml:"max_results"`
	MaxContextTokens int    `yaml:"max_context_tokens"`
	Encoding         string `yaml:"encoding"` // tiktoken encoding name
}

// ToolsConfig holds tool system settings.
type ToolsConfig struct {
	Code      CodeToolConfig      `yaml:"code"`
	HTTP      HTTPToolConfig      `yaml:"http"`
	Search    SearchToolConfig    `yaml:"search"`
	Files     FileToolConfig      `yaml:"files"`
	RateLimit ToolRateLimitConfig `yaml:"rate_limit"`
}

// CodeToolConfig holds code execution tool settings.
type CodeToolConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxOutput int           `yaml:"max_output"`
}

// HTTPToolConfig holds HTTP request tool settings.
type HTTPToolConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxBodySize    int64         `yaml:"max_body_size"`
	AllowedDomains []string      `yaml:"allowed_domains"`
}

// SearchToolConfig holds web search tool settings.
type SearchToolConfig struct {
	Enabled    bool          `yaml:"enabled"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxResults int           `yaml:"max_results"`
}

// FileToolConfig holds file reading tool settings.
type FileToolConfig struct {
	Enabled     bool     `yaml:"enabled"`
	AllowedDirs []string `yaml:"allowed_dirs"`
	MaxFileSize int64    `yaml:"max_file_size"`
	MaxLines    int      `yaml:"max_lines"`
}

// ToolRateLimitConfig throttles tool executions per session.
type ToolRateLimitConfig struct {
	Enabled   bool    `yaml:"enabled"`
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// SchedulerConfig holds cron/scheduler settings.
type SchedulerConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Tasks   []ScheduledTaskConfig `yaml:"tasks"`
}

// ScheduledTaskConfig defines a single scheduled task.
type ScheduledTaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression
	Action   string `yaml:"action"`   // "health_check" or "session_reap"
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under $HOME/.maestro/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".maestro", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":8090",
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             10,
			},
		},
		LLM: LLMConfig{
			DefaultProvider: "ollama",
			Fallback: FallbackConfig{
				Enabled:        true,
				MaxFailures:    3,
				HealthInterval: 60 * time.Second,
			},
			RequestTimeout: 120 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     false,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Blueprints: BlueprintsConfig{
			Dir:     "./blueprints",
			Default: "devassist",
		},
		Router: RouterConfig{
			ClassifierModel:   "qwen2.5:7b",
			ClassifierTimeout: 15 * time.Second,
		},
		Agent: AgentConfig{
			MaxToolRounds:   5,
			HistoryMessages: 20,
		},
		Sessions: SessionsConfig{
			DataDir: filepath.Join(dataDir, "sessions"),
			TTL:     24 * time.Hour,
			Persist: true,
		},
		Knowledge: KnowledgeConfig{
			Enabled:          false,
			DBPath:           filepath.Join(dataDir, "knowledge.db"),
			MaxResults:       5,
			MaxContextTokens: 2000,
			Encoding:         "cl100k_base",
		},
		Tools: ToolsConfig{
			Code: CodeToolConfig{
				Enabled:   true,
				Timeout:   10 * time.Second,
				MaxOutput: 10000,
			},
			HTTP: HTTPToolConfig{
				Enabled:     true,
				Timeout:     30 * time.Second,
				MaxBodySize: 1024 * 1024,
				AllowedDomains: []string{
					"api.github.com",
					"pypi.org",
					"registry.npmjs.org",
					"crates.io",
					"hub.docker.com",
					"api.duckduckgo.com",
				},
			},
			Search: SearchToolConfig{
				Enabled:    true,
				BaseURL:    "https://api.duckduckgo.com/",
				Timeout:    10 * time.Second,
				MaxResults: 5,
			},
			Files: FileToolConfig{
				Enabled:     true,
				AllowedDirs: []string{"."},
				MaxFileSize: 1024 * 1024,
				MaxLines:    500,
			},
			RateLimit: ToolRateLimitConfig{
				Enabled:   false,
				PerSecond: 1,
				Burst:     5,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled: false,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Process includes (merges included files into cfg).
	hasIncludes := len(cfg.Includes) > 0
	if hasIncludes {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: re-unmarshal main config so it takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("MAESTRO_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps MAESTRO_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MAESTRO_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("MAESTRO_SERVER_ENABLED"); v == "false" {
		cfg.Server.Enabled = false
	}
	if v := os.Getenv("MAESTRO_SERVER_AUTH_TOKEN"); v != "" {
		cfg.Server.Auth.Type = "static"
		cfg.Server.Auth.Tokens = append(cfg.Server.Auth.Tokens, TokenConfig{
			Token: v,
			Name:  "env",
		})
	}

	if v := os.Getenv("MAESTRO_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("MAESTRO_LLM_FALLBACK_ENABLED"); v == "false" {
		cfg.LLM.Fallback.Enabled = false
	}
	if v := os.Getenv("MAESTRO_LLM_FALLBACK_ORDER"); v != "" {
		cfg.LLM.Fallback.Order = splitAndTrim(v, ",")
	}
	if v := os.Getenv("MAESTRO_LLM_FALLBACK_MAX_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LLM.Fallback.MaxFailures = n
		}
	}
	if v := os.Getenv("MAESTRO_LLM_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.LLM.RequestTimeout = d
		}
	}

	if v := os.Getenv("MAESTRO_BLUEPRINTS_DIR"); v != "" {
		cfg.Blueprints.Dir = v
	}
	if v := os.Getenv("MAESTRO_BLUEPRINTS_DEFAULT"); v != "" {
		cfg.Blueprints.Default = v
	}

	if v := os.Getenv("MAESTRO_ROUTER_CLASSIFIER_MODEL"); v != "" {
		cfg.Router.ClassifierModel = v
	}
	if v := os.Getenv("MAESTRO_ROUTER_CLASSIFIER_PROVIDER"); v != "" {
		cfg.Router.ClassifierProvider = v
	}

	if v := os.Getenv("MAESTRO_AGENT_MAX_TOOL_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.MaxToolRounds = n
		}
	}

	if v := os.Getenv("MAESTRO_SESSIONS_DATA_DIR"); v != "" {
		cfg.Sessions.DataDir = v
	}
	if v := os.Getenv("MAESTRO_SESSIONS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Sessions.TTL = d
		}
	}
	if v := os.Getenv("MAESTRO_SESSIONS_PERSIST"); v == "false" {
		cfg.Sessions.Persist = false
	}

	if v := os.Getenv("MAESTRO_KNOWLEDGE_ENABLED"); v == "true" {
		cfg.Knowledge.Enabled = true
	}
	if v := os.Getenv("MAESTRO_KNOWLEDGE_DB_PATH"); v != "" {
		cfg.Knowledge.DBPath = v
	}

	if v := os.Getenv("MAESTRO_TOOLS_HTTP_ALLOWED_DOMAINS"); v != "" {
		cfg.Tools.HTTP.AllowedDomains = splitAndTrim(v, ",")
	}
	if v := os.Getenv("MAESTRO_TOOLS_FILES_ALLOWED_DIRS"); v != "" {
		cfg.Tools.Files.AllowedDirs = splitAndTrim(v, ",")
	}
	if v := os.Getenv("MAESTRO_TOOLS_CODE_ENABLED"); v == "false" {
		cfg.Tools.Code.Enabled = false
	}

	if v := os.Getenv("MAESTRO_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("MAESTRO_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("MAESTRO_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("MAESTRO_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}

	// Per-provider API key overrides: MAESTRO_LLM_PROVIDER_<NAME>_API_KEY
	for i := range cfg.LLM.Providers {
		envKey := fmt.Sprintf("MAESTRO_LLM_PROVIDER_%s_API_KEY",
			strings.ToUpper(cfg.LLM.Providers[i].Name))
		if v := os.Getenv(envKey); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets finds "enc:..." values in secret fields and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.LLM.Providers {
		key := cfg.LLM.Providers[i].APIKey
		if strings.HasPrefix(key, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(key, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("provider %s api_key: %w", cfg.LLM.Providers[i].Name, err)
			}
			cfg.LLM.Providers[i].APIKey = decrypted
		}
	}

	for i := range cfg.Server.Auth.Tokens {
		tok := cfg.Server.Auth.Tokens[i].Token
		if strings.HasPrefix(tok, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(tok, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("server auth token %s: %w", cfg.Server.Auth.Tokens[i].Name, err)
			}
			cfg.Server.Auth.Tokens[i].Token = decrypted
		}
	}

	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
