package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool to the LLM.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a request from the LLM to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of a tool invocation. A failed invocation
// is reported with IsError set, never as a Go error, so the model can
// read the failure and recover.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Tool is an executable capability exposed to agents.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error)
}

// ToolExecutor runs tool calls on behalf of an agent. Run never returns
// a Go error for tool failures; unknown tools, invalid arguments and
// execution faults all come back as ToolResult with IsError set.
type ToolExecutor interface {
	Run(ctx context.Context, call ToolCall) ToolResult
	Schemas() []ToolSchema
}
