package domain

// AgentDescriptor declares a specialist agent: its identity, the model
// it runs on, and the capabilities it is allowed to use. Descriptors
// are loaded from blueprint files and are immutable once built.
type AgentDescriptor struct {
	Name            string   `json:"name" yaml:"name"`
	ID              string   `json:"agent_id" yaml:"agent_id"`
	Description     string   `json:"description" yaml:"description"`
	Model           string   `json:"model" yaml:"model"`
	Provider        string   `json:"provider,omitempty" yaml:"provider,omitempty"`
	SystemPrompt    string   `json:"system_prompt" yaml:"system_prompt"`
	Temperature     float64  `json:"temperature" yaml:"temperature"`
	MaxTokens       int      `json:"max_tokens" yaml:"max_tokens"`
	Tools           []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	KnowledgeScopes []string `json:"knowledge_scopes,omitempty" yaml:"knowledge_scopes,omitempty"`
	Streaming       bool     `json:"streaming" yaml:"streaming"`
	Icon            string   `json:"icon,omitempty" yaml:"icon,omitempty"`
	Color           string   `json:"color,omitempty" yaml:"color,omitempty"`
}

// Blueprint is a named team of agents with a designated supervisor.
type Blueprint struct {
	Slug        string            `json:"slug" yaml:"slug"`
	Title       string            `json:"title" yaml:"title"`
	Description string            `json:"description" yaml:"description"`
	Supervisor  string            `json:"supervisor" yaml:"supervisor"`
	Default     string            `json:"default_agent,omitempty" yaml:"default_agent,omitempty"`
	Agents      []AgentDescriptor `json:"agents" yaml:"agents"`
}

// AgentInfo is the wire-facing summary of one agent, including its
// current enablement state.
type AgentInfo struct {
	Name        string `json:"name"`
	ID          string `json:"agent_id"`
	Description string `json:"description"`
	Model       string `json:"model"`
	Icon        string `json:"icon,omitempty"`
	Color       string `json:"color,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// BlueprintInfo is the wire-facing summary of one blueprint.
type BlueprintInfo struct {
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Description string   `json:"description"`
	AgentCount  int      `json:"agent_count"`
	Agents      []string `json:"agents"`
}
