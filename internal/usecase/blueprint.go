package usecase

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"

	"maestro/internal/domain"
)

// Descriptor defaults applied when an agent file omits the field.
const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 4096
)

// blueprintSchema validates a blueprint's config.yaml document.
const blueprintSchema = `{
	"type": "object",
	"required": ["title"],
	"properties": {
		"title":         {"type": "string", "minLength": 1},
		"description":   {"type": "string"},
		"supervisor":    {"type": "string"},
		"default_agent": {"type": "string"}
	},
	"additionalProperties": false
}`

// agentSchema validates one agent YAML document.
const agentSchema = `{
	"type": "object",
	"required": ["name", "description"],
	"properties": {
		"name":             {"type": "string", "minLength": 1},
		"agent_id":         {"type": "string"},
		"description":      {"type": "string", "minLength": 1},
		"model":            {"type": "string"},
		"provider":         {"type": "string"},
		"system_prompt":    {"type": "string"},
		"temperature":      {"type": "number", "minimum": 0, "maximum": 2},
		"max_tokens":       {"type": "integer", "minimum": 1},
		"tools":            {"type": "array", "items": {"type": "string"}},
		"knowledge_scopes": {"type": "array", "items": {"type": "string"}},
		"streaming":        {"type": "boolean"},
		"icon":             {"type": "string"},
		"color":            {"type": "string"}
	},
	"additionalProperties": false
}`

var (
	compiledBlueprintSchema = mustSchema(blueprintSchema)
	compiledAgentSchema     = mustSchema(agentSchema)
)

func mustSchema(src string) *jsonschema.Schema {
	s, err := jsonschema.NewCompiler().Compile([]byte(src))
	if err != nil {
		panic(fmt.Sprintf("compile blueprint schema: %v", err))
	}
	return s
}

// blueprintFile mirrors a blueprint's config.yaml on disk.
type blueprintFile struct {
	Title        string `yaml:"title"`
	Description  string `yaml:"description"`
	Supervisor   string `yaml:"supervisor"`
	DefaultAgent string `yaml:"default_agent"`
}

// agentFile mirrors one agent YAML document on disk. Defaultable fields
// are pointers so an absent key and an explicit zero stay distinct.
type agentFile struct {
	Name            string   `yaml:"name"`
	ID              string   `yaml:"agent_id"`
	Description     string   `yaml:"description"`
	Model           string   `yaml:"model"`
	Provider        string   `yaml:"provider"`
	SystemPrompt    string   `yaml:"system_prompt"`
	Temperature     *float64 `yaml:"temperature"`
	MaxTokens       *int     `yaml:"max_tokens"`
	Tools           []string `yaml:"tools"`
	KnowledgeScopes []string `yaml:"knowledge_scopes"`
	Streaming       *bool    `yaml:"streaming"`
	Icon            string   `yaml:"icon"`
	Color           string   `yaml:"color"`
}

// LoadedBlueprint is one blueprint's immutable, fully-validated agent
// team. Agents are keyed by lowercase name; descriptors keep the
// display name.
type LoadedBlueprint struct {
	Slug         string
	Title        string
	Description  string
	Supervisor   string // lowercase name, empty when the team has none
	DefaultAgent string // lowercase name, empty when the team has none
	Agents       map[string]*domain.AgentDescriptor
	names        []string // sorted lowercase names
}

// Get looks up an agent by name, case-insensitively.
func (b *LoadedBlueprint) Get(name string) (*domain.AgentDescriptor, bool) {
	d, ok := b.Agents[strings.ToLower(name)]
	return d, ok
}

// Names returns the sorted lowercase agent names.
func (b *LoadedBlueprint) Names() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// Collaborators returns the agents minus the supervisor.
func (b *LoadedBlueprint) Collaborators() map[string]*domain.AgentDescriptor {
	out := make(map[string]*domain.AgentDescriptor, len(b.Agents))
	for name, d := range b.Agents {
		if name == b.Supervisor {
			continue
		}
		out[name] = d
	}
	return out
}

// Info returns the wire-facing summary.
func (b *LoadedBlueprint) Info() domain.BlueprintInfo {
	agents := make([]string, 0, len(b.names))
	for _, name := range b.names {
		agents = append(agents, b.Agents[name].Name)
	}
	return domain.BlueprintInfo{
		Name:        b.Title,
		Slug:        b.Slug,
		Description: b.Description,
		AgentCount:  len(b.Agents),
		Agents:      agents,
	}
}

// BlueprintRegistry loads blueprints from a directory tree of the form
//
//	<dir>/<slug>/config.yaml
//	<dir>/<slug>/agents/*.yaml
//
// Blueprints load lazily and are cached; Reload re-reads one from disk
// and swaps it atomically, so readers never observe a half-loaded team.
// Malformed blueprint files fail the load outright.
type BlueprintRegistry struct {
	mu     sync.RWMutex
	dir    string
	loaded map[string]*LoadedBlueprint
	logger *slog.Logger
}

// NewBlueprintRegistry creates a registry over dir.
func NewBlueprintRegistry(dir string, logger *slog.Logger) *BlueprintRegistry {
	return &BlueprintRegistry{
		dir:    dir,
		loaded: make(map[string]*LoadedBlueprint),
		logger: logger,
	}
}

// Load returns the blueprint for slug, reading it from disk on first
// use.
func (r *BlueprintRegistry) Load(slug string) (*LoadedBlueprint, error) {
	r.mu.RLock()
	bp, ok := r.loaded[slug]
	r.mu.RUnlock()
	if ok {
		return bp, nil
	}
	return r.Reload(slug)
}

// Reload re-reads the blueprint from disk and swaps the cached copy in
// one step. On error the previous copy stays in place.
func (r *BlueprintRegistry) Reload(slug string) (*LoadedBlueprint, error) {
	bp, err := r.loadFromDisk(slug)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.loaded[slug] = bp
	r.mu.Unlock()

	r.logger.Info("blueprint loaded",
		"blueprint", slug,
		"agents", len(bp.Agents),
		"supervisor", bp.Supervisor,
	)
	return bp, nil
}

// RefreshLoaded re-reads every cached blueprint from disk. A blueprint
// that fails to parse keeps its previous copy; the first error comes
// back after the rest have been attempted.
func (r *BlueprintRegistry) RefreshLoaded() error {
	r.mu.RLock()
	slugs := make([]string, 0, len(r.loaded))
	for slug := range r.loaded {
		slugs = append(slugs, slug)
	}
	r.mu.RUnlock()
	sort.Strings(slugs)

	var firstErr error
	for _, slug := range slugs {
		if _, err := r.Reload(slug); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Slugs lists the blueprint directories on disk.
func (r *BlueprintRegistry) Slugs() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read blueprints dir: %w", err)
	}
	var slugs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.dir, e.Name(), "config.yaml")); err != nil {
			continue
		}
		slugs = append(slugs, e.Name())
	}
	sort.Strings(slugs)
	return slugs, nil
}

// List loads every blueprint on disk and returns their summaries.
func (r *BlueprintRegistry) List() ([]domain.BlueprintInfo, error) {
	slugs, err := r.Slugs()
	if err != nil {
		return nil, err
	}
	infos := make([]domain.BlueprintInfo, 0, len(slugs))
	for _, slug := range slugs {
		bp, err := r.Load(slug)
		if err != nil {
			return nil, err
		}
		infos = append(infos, bp.Info())
	}
	return infos, nil
}

func (r *BlueprintRegistry) loadFromDisk(slug string) (*LoadedBlueprint, error) {
	root := filepath.Join(r.dir, slug)
	configPath := filepath.Join(root, "config.yaml")
	if _, err := os.Stat(configPath); err != nil {
		return nil, domain.NewDomainError("BlueprintRegistry.Load", domain.ErrBlueprintNotFound, slug)
	}

	var cfg blueprintFile
	if err := decodeValidated(configPath, compiledBlueprintSchema, &cfg); err != nil {
		return nil, fmt.Errorf("blueprint %s: %w", slug, err)
	}

	paths, err := filepath.Glob(filepath.Join(root, "agents", "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("blueprint %s: %w", slug, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("blueprint %s: no agent files under %s", slug, filepath.Join(root, "agents"))
	}

	agents := make(map[string]*domain.AgentDescriptor, len(paths))
	for _, path := range paths {
		var af agentFile
		if err := decodeValidated(path, compiledAgentSchema, &af); err != nil {
			return nil, fmt.Errorf("blueprint %s: agent %s: %w", slug, filepath.Base(path), err)
		}
		desc := af.descriptor()
		key := strings.ToLower(desc.Name)
		if _, dup := agents[key]; dup {
			return nil, fmt.Errorf("blueprint %s: duplicate agent name %q", slug, desc.Name)
		}
		agents[key] = desc
	}

	names := make([]string, 0, len(agents))
	for name := range agents {
		names = append(names, name)
	}
	sort.Strings(names)

	supervisor := strings.ToLower(cfg.Supervisor)
	if supervisor == "" {
		supervisor = "supervisor"
	}
	if _, ok := agents[supervisor]; !ok {
		if cfg.Supervisor != "" {
			return nil, fmt.Errorf("blueprint %s: supervisor %q has no agent file", slug, cfg.Supervisor)
		}
		supervisor = ""
	}
	defaultAgent := strings.ToLower(cfg.DefaultAgent)
	if defaultAgent != "" {
		if _, ok := agents[defaultAgent]; !ok {
			return nil, fmt.Errorf("blueprint %s: default agent %q has no agent file", slug, cfg.DefaultAgent)
		}
	}

	return &LoadedBlueprint{
		Slug:         slug,
		Title:        cfg.Title,
		Description:  cfg.Description,
		Supervisor:   supervisor,
		DefaultAgent: defaultAgent,
		Agents:       agents,
		names:        names,
	}, nil
}

// decodeValidated reads a YAML file, checks it against schema and
// decodes it into out.
func decodeValidated(path string, schema *jsonschema.Schema, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if result := schema.Validate(doc); !result.IsValid() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, result.Error())
	}

	return yaml.Unmarshal(data, out)
}

// descriptor builds the immutable descriptor with defaults applied.
func (af agentFile) descriptor() *domain.AgentDescriptor {
	desc := &domain.AgentDescriptor{
		Name:            af.Name,
		ID:              af.ID,
		Description:     af.Description,
		Model:           af.Model,
		Provider:        af.Provider,
		SystemPrompt:    af.SystemPrompt,
		Temperature:     defaultTemperature,
		MaxTokens:       defaultMaxTokens,
		Tools:           af.Tools,
		KnowledgeScopes: af.KnowledgeScopes,
		Streaming:       true,
		Icon:            af.Icon,
		Color:           af.Color,
	}
	if desc.ID == "" {
		desc.ID = strings.ReplaceAll(strings.ToLower(af.Name), " ", "-")
	}
	if af.Temperature != nil {
		desc.Temperature = *af.Temperature
	}
	if af.MaxTokens != nil {
		desc.MaxTokens = *af.MaxTokens
	}
	if af.Streaming != nil {
		desc.Streaming = *af.Streaming
	}
	return desc
}
