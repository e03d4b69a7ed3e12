package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"maestro/internal/adapter/api"
	"maestro/internal/adapter/rag"
	"maestro/internal/infra/config"
	"maestro/internal/infra/logger"
	"maestro/internal/infra/middleware"
	"maestro/internal/infra/tracer"
	"maestro/internal/usecase"
	"maestro/internal/usecase/eventbus"
	"maestro/internal/usecase/scheduling"
)

// version is stamped at build time via -ldflags "-X main.version=".
var version = "dev"

func main() {
	// Handle help flag first
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	case "encrypt":
		if err := runEncrypt(); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Println("maestro " + version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'maestro --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`maestro - Multi-agent orchestration engine

USAGE:
    maestro [COMMAND] [FLAGS]

COMMANDS:
    doctor      Run health checks on your setup
    encrypt     Encrypt a secret for use in config files
    version     Print the version

    (no command) - Start the engine with existing config

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)
    --provider NAME    LLM provider (openai, anthropic, ollama, openrouter)
    --model NAME       Model name (e.g. gpt-4o, llama3.2)
    --key KEY          API key for the provider

CONFIGURATION:
    Config file: ./config.yaml
    Environment: MAESTRO_* variables override config

EXAMPLES:
    maestro                                      # Start with config.yaml
    maestro --config /etc/maestro/config.yaml    # Start with custom config
    maestro --provider ollama --model llama3.2   # Quick start on local Ollama
    maestro doctor                               # Check system health
    MAESTRO_CONFIG_KEY=pass maestro encrypt      # Encrypt an API key`)
}

func showFirstRunMessage() {
	fmt.Println(`Welcome to maestro!

No configuration found. To get started:

Option 1: Quick Start with a local Ollama
  Run: maestro --provider ollama --model llama3.2

Option 2: Manual Configuration
  Copy config.example.yaml to config.yaml, edit it, then run: maestro

Option 3: Environment Variables
  Set these environment variables:
    MAESTRO_LLM_DEFAULT_PROVIDER=openai
    MAESTRO_LLM_PROVIDER_OPENAI_API_KEY=sk-...
  Then run: maestro

Run 'maestro doctor' at any time to check your setup.`)
}

// cliFlags holds optional CLI flags that can bypass the config file.
type cliFlags struct {
	Provider string
	Model    string
	APIKey   string
}

// parseFlags extracts --provider, --model, --key from os.Args.
func parseFlags() cliFlags {
	var flags cliFlags
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--provider" && i+1 < len(os.Args):
			flags.Provider = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--provider="):
			flags.Provider = strings.TrimPrefix(os.Args[i], "--provider=")
		case os.Args[i] == "--model" && i+1 < len(os.Args):
			flags.Model = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--model="):
			flags.Model = strings.TrimPrefix(os.Args[i], "--model=")
		case os.Args[i] == "--key" && i+1 < len(os.Args):
			flags.APIKey = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--key="):
			flags.APIKey = strings.TrimPrefix(os.Args[i], "--key=")
		}
	}
	return flags
}

// buildQuickConfig creates a minimal config from CLI flags, bypassing the
// config file. Ollama runs locally and needs no API key.
func buildQuickConfig(flags cliFlags) (*config.Config, error) {
	if flags.Provider == "" || flags.Model == "" {
		return nil, fmt.Errorf("--provider and --model must both be specified")
	}
	if flags.APIKey == "" && flags.Provider != "ollama" {
		return nil, fmt.Errorf("--key is required for provider %q", flags.Provider)
	}

	cfg := config.Defaults()
	cfg.LLM.DefaultProvider = flags.Provider
	cfg.LLM.Providers = []config.ProviderConfig{
		{
			Name:   flags.Provider,
			Type:   flags.Provider,
			Model:  flags.Model,
			APIKey: flags.APIKey,
		},
	}

	config.ApplyEnvOverrides(cfg)
	return cfg, nil
}

func run() error {
	// 1. Config
	flags := parseFlags()

	var cfg *config.Config
	var err error

	if flags.Provider != "" {
		// Quick start via CLI flags, skip the config file.
		cfg, err = buildQuickConfig(flags)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
	} else {
		cfgPath := configPath()

		// Check for first run (no config file, no env quick start)
		if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) && os.Getenv("MAESTRO_LLM_DEFAULT_PROVIDER") == "" {
			showFirstRunMessage()
			return nil
		}

		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	// 2. Logger
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()

	// 3. Tracer
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 4. Event bus
	bus := eventbus.New(log)
	defer bus.Close()

	// 5. LLM providers and gateway
	llmComp, err := initLLM(cfg, bus, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	// 6. Knowledge store
	var store *rag.Store
	var retriever usecase.Retriever
	if cfg.Knowledge.Enabled {
		store, err = rag.Open(cfg.Knowledge.DBPath, log)
		if err != nil {
			return fmt.Errorf("knowledge: %w", err)
		}
		defer store.Close()

		chain, err := rag.NewChain(store, cfg.Knowledge.MaxContextTokens, cfg.Knowledge.Encoding, log)
		if err != nil {
			return fmt.Errorf("knowledge: %w", err)
		}
		retriever = chain
	}

	// 7. Tools
	tools, err := initTools(cfg, store, bus, log)
	if err != nil {
		return fmt.Errorf("tools: %w", err)
	}

	// 8. Core engine
	blueprints := usecase.NewBlueprintRegistry(cfg.Blueprints.Dir, log)
	if _, err := blueprints.Load(cfg.Blueprints.Default); err != nil {
		return fmt.Errorf("blueprints: %w", err)
	}

	dataDir := ""
	if cfg.Sessions.Persist {
		dataDir = cfg.Sessions.DataDir
	}
	sessions := usecase.NewSessionStore(dataDir)
	enablement := usecase.NewEnablement()
	cancels := usecase.NewCancelRegistry()
	tracker := usecase.NewTracker(bus, log)

	classifier := usecase.NewClassifier(llmComp.Bridge,
		cfg.Router.ClassifierProvider, cfg.Router.ClassifierModel, cfg.Router.ClassifierTimeout, log)
	router := usecase.NewRouter(classifier, log)

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Blueprints: blueprints,
		Sessions:   sessions,
		Enablement: enablement,
		Cancels:    cancels,
		Router:     router,
		Gateway:    llmComp.Bridge,
		Tools:      toolSource{exec: tools.Executor},
		Retriever:  retriever,
		Tracker:    tracker,
		Bus:        bus,
		Logger:     log,

		DefaultBlueprint: cfg.Blueprints.Default,
		HistoryLimit:     cfg.Agent.HistoryMessages,
		MaxToolRounds:    cfg.Agent.MaxToolRounds,
	})

	// 9. Scheduler
	var sched *scheduling.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduling.New(log)
		sched.RegisterAction(scheduling.ActionHealthCheck, func(ctx context.Context) error {
			llmComp.Gateway.HealthCheck(ctx)
			return nil
		})
		sched.RegisterAction(scheduling.ActionSessionReap, func(ctx context.Context) error {
			if n := sessions.Reap(cfg.Sessions.TTL); n > 0 {
				log.Info("idle sessions reaped", "count", n)
			}
			return nil
		})
		sched.RegisterAction(scheduling.ActionBlueprintRescan, func(context.Context) error {
			return blueprints.RefreshLoaded()
		})
		for _, tc := range cfg.Scheduler.Tasks {
			if err := sched.AddTask(scheduling.Task{
				Name:     tc.Name,
				Schedule: tc.Schedule,
				Action:   scheduling.Action(tc.Action),
			}); err != nil {
				return fmt.Errorf("scheduler: %w", err)
			}
		}
	}

	// 10. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 11. API server
	var srv *api.Server
	if cfg.Server.Enabled {
		var auth api.Authenticator = api.OpenAuth{}
		if cfg.Server.Auth.Type == "static" {
			entries := make([]struct {
				Token string
				Name  string
			}, len(cfg.Server.Auth.Tokens))
			for i, tok := range cfg.Server.Auth.Tokens {
				entries[i].Token = tok.Token
				entries[i].Name = tok.Name
			}
			auth = api.NewStaticTokenAuth(entries)
		} else {
			log.Warn("api auth disabled, any client is accepted")
		}

		srv = api.NewServer(bus, auth, cfg.Server.Addr, log)
		srv.Use(middleware.RequestID, middleware.SecurityHeaders)
		if cfg.Server.RateLimit.Enabled {
			srv.Use(middleware.RateLimit(ctx, cfg.Server.RateLimit.RequestsPerMinute, cfg.Server.RateLimit.Burst))
		}

		deps := api.HandlerDeps{
			Orchestrator: orchestrator,
			Sessions:     sessions,
			Enablement:   enablement,
			Blueprints:   blueprints,
			Cancels:      cancels,
			Providers:    llmComp.Gateway,
			Tools:        tools.Executor,
			Bus:          bus,
			Logger:       log,

			DefaultBlueprint: cfg.Blueprints.Default,
		}
		api.RegisterHandlers(srv, deps)
		api.RegisterRESTHandlers(srv, deps, version)
	}

	// 12. Start scheduler
	if sched != nil {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		defer sched.Stop()
	}

	// 13. Start
	log.Info("maestro starting",
		"version", version,
		"provider", cfg.LLM.DefaultProvider,
		"blueprint", cfg.Blueprints.Default,
		"tools", len(tools.Registry.List()),
		"knowledge", cfg.Knowledge.Enabled,
		"addr", cfg.Server.Addr,
	)

	if srv == nil {
		log.Warn("api server disabled, running until signalled")
		<-ctx.Done()
		return nil
	}

	return srv.Start(ctx)
}

func configPath() string {
	// Check --config flag in os.Args.
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("MAESTRO_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// runEncrypt encrypts one secret with the passphrase from
// MAESTRO_CONFIG_KEY and prints a value ready to paste into a config
// file. The secret comes from the first argument, or stdin when absent.
func runEncrypt() error {
	passphrase := os.Getenv("MAESTRO_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("MAESTRO_CONFIG_KEY must be set")
	}

	var secret string
	if len(os.Args) >= 3 {
		secret = os.Args[2]
	} else {
		fmt.Fprint(os.Stderr, "Secret: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read secret: %w", err)
		}
		secret = strings.TrimSpace(line)
	}
	if secret == "" {
		return fmt.Errorf("empty secret")
	}

	enc, err := config.EncryptValue(secret, passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}
