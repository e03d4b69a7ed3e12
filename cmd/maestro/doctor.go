package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"maestro/internal/adapter/rag"
	"maestro/internal/infra/config"
	"maestro/internal/infra/logger"
	"maestro/internal/usecase"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()

	// Some checks still work when loading fails.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Provider credentials", Fn: checkProviderKeys},
		{Name: "Provider connectivity", Fn: checkProviderConnectivity},
		{Name: "Blueprints", Fn: checkBlueprints},
		{Name: "Session storage", Fn: checkSessionStorage},
		{Name: "Knowledge store", Fn: checkKnowledgeStore},
		{Name: "Python runtime", Fn: checkPython},
		{Name: "Disk space", Fn: checkDiskSpace},
		{Name: "Network", Fn: checkNetwork},
	}

	fmt.Println("maestro doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Println("\nFix the FAIL issues above to ensure maestro runs correctly.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Println("\nmaestro should work, but consider addressing the warnings.")
	} else {
		fmt.Println("\nAll checks passed! maestro is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile returns a check that verifies the config file exists
// and parses correctly. Loading substitutes defaults when the file is
// missing, so a missing file is a warning rather than a failure.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config file error: %v", cfgErr),
				Fix:     "Check config.yaml syntax, or start over from config.example.yaml",
			}
		}

		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, running on defaults", cfgPath),
				Fix:     "Copy config.example.yaml to config.yaml and edit it",
			}
		}

		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// keylessTypes are provider types that authenticate without an API key.
var keylessTypes = map[string]bool{
	"ollama":  true,
	"bedrock": true,
}

// checkProviderKeys verifies every configured provider that needs an
// API key has one.
func checkProviderKeys(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check: config not loaded",
		}
	}

	if len(cfg.LLM.Providers) == 0 {
		if cfg.LLM.DefaultProvider == "ollama" {
			return CheckResult{
				Status:  StatusWarn,
				Message: "no providers configured, engine will assume a local ollama",
			}
		}
		return CheckResult{
			Status:  StatusFail,
			Message: "no LLM providers configured",
			Fix:     "Add at least one provider in config.yaml under llm.providers",
		}
	}

	var ready, missing []string
	for _, p := range cfg.LLM.Providers {
		if p.APIKey != "" || keylessTypes[p.Type] {
			ready = append(ready, p.Name)
		} else {
			missing = append(missing, p.Name)
		}
	}

	if len(ready) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no API keys found for providers: %s", strings.Join(missing, ", ")),
			Fix:     "Set API keys via environment variables (e.g., MAESTRO_LLM_PROVIDER_OPENAI_API_KEY)",
		}
	}

	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("credentials ready for [%s]; missing for [%s]", strings.Join(ready, ", "), strings.Join(missing, ", ")),
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("credentials ready for: %s", strings.Join(ready, ", ")),
	}
}

// checkProviderConnectivity tests if the default LLM provider is reachable.
func checkProviderConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check: config not loaded",
		}
	}

	// Find the default provider config.
	var provider *config.ProviderConfig
	for i := range cfg.LLM.Providers {
		if cfg.LLM.Providers[i].Name == cfg.LLM.DefaultProvider {
			provider = &cfg.LLM.Providers[i]
			break
		}
	}
	if provider == nil {
		if cfg.LLM.DefaultProvider == "ollama" {
			// The zero-config local default.
			provider = &config.ProviderConfig{Name: "ollama", Type: "ollama"}
		} else {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("default provider %q not found in config", cfg.LLM.DefaultProvider),
			}
		}
	}

	if provider.APIKey == "" && !keylessTypes[provider.Type] {
		return CheckResult{
			Status:  StatusWarn,
			Message: "skipped: no API key for default provider",
		}
	}

	endpoint := providerEndpoint(provider)
	if endpoint == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("no known endpoint for provider type %q, skipping connectivity test", provider.Type),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}

	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check your internet connection and firewall settings",
		}
	}
	resp.Body.Close()

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", provider.Name, latency.Milliseconds()),
	}
}

// providerEndpoint returns a health/ping URL for the given provider.
func providerEndpoint(p *config.ProviderConfig) string {
	switch p.Type {
	case "openai", "":
		if p.BaseURL != "" {
			return strings.TrimRight(p.BaseURL, "/")
		}
		return "https://api.openai.com/v1/models"
	case "anthropic":
		if p.BaseURL != "" {
			return strings.TrimRight(p.BaseURL, "/")
		}
		return "https://api.anthropic.com/"
	case "openrouter":
		if p.BaseURL != "" {
			return strings.TrimRight(p.BaseURL, "/")
		}
		return "https://openrouter.ai/api/v1/models"
	case "ollama":
		baseURL := "http://localhost:11434"
		if p.BaseURL != "" {
			baseURL = strings.TrimRight(p.BaseURL, "/")
		}
		return baseURL + "/api/tags"
	default:
		if p.BaseURL != "" {
			return strings.TrimRight(p.BaseURL, "/")
		}
		return ""
	}
}

// checkBlueprints verifies the blueprint directory exists and the
// default blueprint loads.
func checkBlueprints(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check: config not loaded",
		}
	}

	absDir, _ := filepath.Abs(cfg.Blueprints.Dir)
	if _, err := os.Stat(absDir); os.IsNotExist(err) {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("blueprint directory %s does not exist", absDir),
			Fix:     fmt.Sprintf("Create %s with at least the %q blueprint", absDir, cfg.Blueprints.Default),
		}
	}

	registry := usecase.NewBlueprintRegistry(cfg.Blueprints.Dir, logger.Discard())
	bp, err := registry.Load(cfg.Blueprints.Default)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("default blueprint %q failed to load: %v", cfg.Blueprints.Default, err),
			Fix:     "Check the blueprint's config.yaml and agents/ directory",
		}
	}

	supervisor := bp.Supervisor
	if supervisor == "" {
		supervisor = "none"
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("blueprint %q loaded: %d agent(s), supervisor %s", bp.Slug, len(bp.Agents), supervisor),
	}
}

// checkSessionStorage verifies the session data directory is writable
// when persistence is on.
func checkSessionStorage(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check: config not loaded",
		}
	}

	if !cfg.Sessions.Persist {
		return CheckResult{
			Status:  StatusPass,
			Message: "session persistence disabled, history is in-memory only",
		}
	}

	absDir, _ := filepath.Abs(cfg.Sessions.DataDir)

	info, err := os.Stat(absDir)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(absDir, 0o755); mkErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("session directory %s does not exist and cannot be created: %v", absDir, mkErr),
				Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", absDir),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("session directory created at %s", absDir),
		}
	}
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot stat session directory: %v", err),
		}
	}
	if !info.IsDir() {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s exists but is not a directory", absDir),
		}
	}

	// Check writability by creating a temp file.
	testFile := filepath.Join(absDir, ".doctor-check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("session directory %s is not writable: %v", absDir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 755 %s", absDir),
		}
	}
	os.Remove(testFile)

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("session directory %s writable", absDir),
	}
}

// checkKnowledgeStore opens the knowledge database when enabled.
func checkKnowledgeStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check: config not loaded",
		}
	}

	if !cfg.Knowledge.Enabled {
		return CheckResult{
			Status:  StatusPass,
			Message: "knowledge store disabled",
		}
	}

	store, err := rag.Open(cfg.Knowledge.DBPath, logger.Discard())
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open knowledge store at %s: %v", cfg.Knowledge.DBPath, err),
			Fix:     "Check knowledge.db_path and the directory's permissions",
		}
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := store.Count(ctx)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("knowledge store opened but count failed: %v", err),
		}
	}
	if count == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "knowledge store is empty, agents will get no retrieved context",
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("knowledge store holds %d document(s)", count),
	}
}

// checkPython verifies python3 is available for the code tool.
func checkPython(cfg *config.Config) CheckResult {
	if cfg != nil && !cfg.Tools.Code.Enabled {
		return CheckResult{
			Status:  StatusPass,
			Message: "code tool disabled, Python not required",
		}
	}

	path, err := exec.LookPath("python3")
	if err != nil {
		status := StatusWarn
		if cfg != nil && cfg.Tools.Code.Enabled {
			status = StatusFail
		}
		return CheckResult{
			Status:  status,
			Message: "python3 not found but the code tool is enabled",
			Fix:     "Install Python 3 (or set tools.code.enabled: false)",
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("found python3 at %s", path),
	}
}

// checkDiskSpace checks available disk space in the session data directory.
func checkDiskSpace(cfg *config.Config) CheckResult {
	dataDir := "./data"
	if cfg != nil && cfg.Sessions.DataDir != "" {
		dataDir = cfg.Sessions.DataDir
	}

	absDir, _ := filepath.Abs(dataDir)

	info, err := os.Stat(absDir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusPass,
			Message: "data directory does not exist yet, space check skipped",
		}
	}

	out, err := exec.Command("df", "-h", absDir).Output()
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "could not determine disk space (df command failed)",
		}
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "unexpected df output format",
		}
	}

	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "unexpected df output format",
		}
	}

	available := fields[3]
	usePercent := fields[4]

	pctStr := strings.TrimSuffix(usePercent, "%")
	var pct int
	fmt.Sscanf(pctStr, "%d", &pct)

	if pct >= 95 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("disk almost full: %s used, %s available", usePercent, available),
			Fix:     "Free up disk space or move data_dir to a different partition",
		}
	}
	if pct >= 85 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("disk usage high: %s used, %s available", usePercent, available),
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("disk usage: %s used, %s available", usePercent, available),
	}
}

// checkNetwork verifies basic internet connectivity.
func checkNetwork(_ *config.Config) CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", "1.1.1.1:443")
	if err != nil {
		// Try Google DNS as fallback.
		conn2, err2 := d.DialContext(ctx, "tcp", "8.8.8.8:443")
		if err2 != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: "no internet connectivity detected",
				Fix:     "Check your network connection and firewall settings",
			}
		}
		conn2.Close()
	} else {
		conn.Close()
	}

	return CheckResult{
		Status:  StatusPass,
		Message: "internet connectivity OK",
	}
}
