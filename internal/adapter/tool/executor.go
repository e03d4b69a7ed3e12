package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"maestro/internal/domain"
	"maestro/internal/infra/tracer"
)

// Executor runs tool calls on behalf of the agent loop. Every failure mode
// (unknown tool, rejected arguments, execution fault) is reported as an
// error ToolResult, never as a Go error, so the model can read the failure
// and recover in conversation.
type Executor struct {
	registry *Registry
	bus      domain.EventBus
	logger   *slog.Logger
}

// NewExecutor creates an executor over the given registry. The bus may be
// nil to disable tool events.
func NewExecutor(registry *Registry, bus domain.EventBus, logger *slog.Logger) *Executor {
	return &Executor{
		registry: registry,
		bus:      bus,
		logger:   logger,
	}
}

type toolEventPayload struct {
	Tool    string `json:"tool"`
	CallID  string `json:"call_id,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// Run executes one tool call and returns its result. The result carries the
// call's ID so it can be linked back into the conversation as a tool message.
func (e *Executor) Run(ctx context.Context, call domain.ToolCall) domain.ToolResult {
	ctx, span := tracer.StartSpan(ctx, "tool.execute",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	t, err := e.registry.Get(call.Name)
	if err != nil {
		e.logger.Warn("tool not found", "tool", call.Name)
		tracer.RecordError(span, err)
		return errorResult(call, fmt.Sprintf("unknown tool %q", call.Name))
	}

	e.publish(ctx, domain.EventToolCallStarted, toolEventPayload{Tool: call.Name, CallID: call.ID})

	res, err := t.Execute(ctx, call.Arguments)
	if err != nil {
		e.logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		tracer.RecordError(span, err)
		res = &domain.ToolResult{IsError: true, Content: err.Error()}
	}
	if res == nil {
		res = &domain.ToolResult{Content: ""}
	}
	res.ToolCallID = call.ID
	if !res.IsError {
		tracer.SetOK(span)
	}

	e.publish(ctx, domain.EventToolCallFinished, toolEventPayload{
		Tool:    call.Name,
		CallID:  call.ID,
		IsError: res.IsError,
	})
	e.logger.Debug("tool executed", "tool", call.Name, "is_error", res.IsError)

	return *res
}

// Schemas returns the schemas of every registered tool.
func (e *Executor) Schemas() []domain.ToolSchema {
	return e.registry.Schemas()
}

func (e *Executor) publish(ctx context.Context, eventType domain.EventType, payload toolEventPayload) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	e.bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: domain.SessionIDFromContext(ctx),
		Payload:   data,
	})
}

func errorResult(call domain.ToolCall, msg string) domain.ToolResult {
	return domain.ToolResult{
		ToolCallID: call.ID,
		IsError:    true,
		Content:    msg,
	}
}

// scoped restricts an executor to one agent's tool list, preserving the
// list's order in Schemas. Calls to tools outside the list fail the same
// way as calls to unregistered tools.
type scoped struct {
	inner   domain.ToolExecutor
	names   []string
	allowed map[string]bool
}

// NewScoped wraps inner so only the named tools are visible. An empty name
// list yields an executor that exposes no tools at all; such agents chat
// without function-calling.
func NewScoped(inner domain.ToolExecutor, names []string) domain.ToolExecutor {
	allowed := make(map[string]bool, len(names))
	for _, name := range names {
		allowed[name] = true
	}
	return &scoped{inner: inner, names: names, allowed: allowed}
}

func (s *scoped) Run(ctx context.Context, call domain.ToolCall) domain.ToolResult {
	if !s.allowed[call.Name] {
		return errorResult(call, fmt.Sprintf("unknown tool %q", call.Name))
	}
	return s.inner.Run(ctx, call)
}

func (s *scoped) Schemas() []domain.ToolSchema {
	all := s.inner.Schemas()
	byName := make(map[string]domain.ToolSchema, len(all))
	for _, schema := range all {
		byName[schema.Name] = schema
	}

	filtered := make([]domain.ToolSchema, 0, len(s.names))
	for _, name := range s.names {
		if schema, ok := byName[name]; ok {
			filtered = append(filtered, schema)
		}
	}
	return filtered
}
