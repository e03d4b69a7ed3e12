package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"maestro/internal/domain"
	"maestro/internal/infra/tracer"
	"maestro/internal/usecase/eventbus"
)

// defaultMaxToolRounds caps the chat/tool loop when the deps leave it
// unset.
const defaultMaxToolRounds = 5

// ProviderGateway is the slice of the LLM gateway the agent loop calls.
// An empty provider name selects the gateway's default failover chain.
type ProviderGateway interface {
	Chat(ctx context.Context, req domain.ChatRequest, provider string) (*domain.ChatResponse, error)
	ChatStream(ctx context.Context, req domain.ChatRequest, provider string) (<-chan domain.StreamDelta, error)
}

// Retriever injects knowledge-base context into an agent's system
// prompt. ok is false when there is nothing to inject, including on
// store failure.
type Retriever interface {
	BuildContext(ctx context.Context, query string, scopes []string, maxTokens int) (string, bool)
}

// AgentDeps holds one agent's injected dependencies.
type AgentDeps struct {
	Descriptor    *domain.AgentDescriptor
	Gateway       ProviderGateway
	Tools         domain.ToolExecutor // optional, nil = no tools
	Retriever     Retriever           // optional, nil = no knowledge injection
	Tracker       *Tracker            // optional, nil = no usage tracking
	Bus           domain.EventBus     // optional, nil = no events
	Logger        *slog.Logger
	MaxToolRounds int
}

// Agent runs one specialist: a descriptor bound to the gateway, its
// scoped tools and the knowledge retriever.
type Agent struct {
	deps AgentDeps
}

// NewAgent creates an agent from deps.
func NewAgent(deps AgentDeps) *Agent {
	if deps.MaxToolRounds <= 0 {
		deps.MaxToolRounds = defaultMaxToolRounds
	}
	return &Agent{deps: deps}
}

// Name returns the descriptor's display name.
func (a *Agent) Name() string { return a.deps.Descriptor.Name }

// Descriptor returns the agent's immutable descriptor.
func (a *Agent) Descriptor() *domain.AgentDescriptor { return a.deps.Descriptor }

// Respond answers the query synchronously, running tool rounds until
// the model stops calling tools or the round cap is reached. Each round
// is a fresh gateway call with full failover.
func (a *Agent) Respond(ctx context.Context, query string, history []domain.Message) (*domain.Answer, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.respond",
		trace.WithAttributes(tracer.StringAttr("agent.name", a.deps.Descriptor.Name)),
	)
	defer span.End()

	call := a.deps.Tracker.Begin(ctx, a.deps.Descriptor.Name, a.deps.Descriptor.Model, false)

	messages := a.buildMessages(ctx, query, history)
	var total domain.Usage
	var lastContent string

	for round := 0; round < a.deps.MaxToolRounds; round++ {
		if err := ctx.Err(); err != nil {
			call.Finish(ctx, total, err)
			return nil, err
		}
		span.AddEvent("agent.tool_round", trace.WithAttributes(tracer.IntAttr("round", round)))

		resp, err := a.chatOnce(ctx, messages)
		if err != nil {
			tracer.RecordError(span, err)
			call.Finish(ctx, total, err)
			return nil, err
		}

		addUsage(&total, resp.Usage)
		msg := resp.Message
		messages = append(messages, msg)
		lastContent = msg.Content

		a.deps.Logger.Debug("llm response",
			"agent", a.deps.Descriptor.Name,
			"round", round,
			"tool_calls", len(msg.ToolCalls),
			"tokens", resp.Usage.TotalTokens,
		)

		if len(msg.ToolCalls) == 0 || a.deps.Tools == nil {
			tracer.SetOK(span)
			call.Finish(ctx, total, nil)
			return a.answer(msg.Content, total), nil
		}

		// Execute tool calls sequentially in call order; results feed
		// the next round as tool-role messages.
		for _, tc := range msg.ToolCalls {
			result := a.deps.Tools.Run(ctx, tc)
			messages = append(messages, domain.Message{
				Role:       domain.RoleTool,
				Name:       tc.Name,
				Content:    result.Content,
				ToolCallID: result.ToolCallID,
				Timestamp:  time.Now(),
			})
		}
	}

	// Round cap: whatever content the last response carried is the
	// answer. A cap hit with no content at all is a failure.
	if lastContent == "" {
		tracer.RecordError(span, domain.ErrMaxToolRounds)
		call.Finish(ctx, total, domain.ErrMaxToolRounds)
		return nil, domain.WrapOp("agent.respond", domain.ErrMaxToolRounds)
	}
	a.deps.Logger.Warn("tool round cap reached, returning last content",
		"agent", a.deps.Descriptor.Name,
		"rounds", a.deps.MaxToolRounds,
	)
	tracer.SetOK(span)
	call.Finish(ctx, total, nil)
	return a.answer(lastContent, total), nil
}

// RespondStream answers the query as a delta stream. There is no tool
// iteration on this path: when the first response turns out to want
// tools, the stream quietly falls back to a synchronous Respond and
// emits its answer as a single batch.
func (a *Agent) RespondStream(ctx context.Context, query string, history []domain.Message) (<-chan domain.StreamDelta, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.respond_stream",
		trace.WithAttributes(tracer.StringAttr("agent.name", a.deps.Descriptor.Name)),
	)

	call := a.deps.Tracker.Begin(ctx, a.deps.Descriptor.Name, a.deps.Descriptor.Model, true)

	messages := a.buildMessages(ctx, query, history)
	req := a.request(messages)
	req.Stream = true

	a.publish(ctx, domain.EventLLMCallStarted, nil)
	in, err := a.deps.Gateway.ChatStream(ctx, req, a.deps.Descriptor.Provider)
	if err != nil {
		a.publish(ctx, domain.EventLLMCallFailed, map[string]string{"error": err.Error()})
		tracer.RecordError(span, err)
		span.End()
		call.Finish(ctx, domain.Usage{}, err)
		return nil, err
	}

	out := make(chan domain.StreamDelta)
	go func() {
		defer close(out)
		defer span.End()

		acc := newStreamAccumulator()
		for delta := range in {
			if delta.Err != nil {
				a.publish(ctx, domain.EventLLMCallFailed, map[string]string{"error": delta.Err.Error()})
				tracer.RecordError(span, delta.Err)
				call.Finish(ctx, acc.usage, delta.Err)
				sendDelta(ctx, out, domain.StreamDelta{Err: delta.Err, Done: true})
				return
			}
			acc.add(delta)
			if delta.Content != "" {
				call.FirstToken()
				if !sendDelta(ctx, out, domain.StreamDelta{Content: delta.Content}) {
					call.Finish(ctx, acc.usage, ctx.Err())
					return
				}
			}
		}

		msg, usage := acc.message()
		if err := ctx.Err(); err != nil {
			// ctx died mid-stream: close bare and let the caller classify it.
			call.Finish(ctx, usage, err)
			return
		}
		if len(msg.ToolCalls) > 0 && a.deps.Tools != nil {
			a.deps.Logger.Debug("stream requested tools, falling back to synchronous loop",
				"agent", a.deps.Descriptor.Name,
				"tool_calls", len(msg.ToolCalls),
			)
			call.Finish(ctx, usage, nil)
			ans, err := a.Respond(ctx, query, history)
			if err != nil {
				sendDelta(ctx, out, domain.StreamDelta{Err: err, Done: true})
				return
			}
			if sendDelta(ctx, out, domain.StreamDelta{Content: ans.Content}) {
				sendDelta(ctx, out, domain.StreamDelta{Done: true, Usage: &ans.Usage})
			}
			return
		}

		a.publish(ctx, domain.EventLLMCallCompleted, nil)
		tracer.SetOK(span)
		call.Finish(ctx, usage, nil)
		sendDelta(ctx, out, domain.StreamDelta{Done: true, Usage: &usage})
	}()
	return out, nil
}

// chatOnce performs one synchronous gateway call for the current
// message window.
func (a *Agent) chatOnce(ctx context.Context, messages []domain.Message) (*domain.ChatResponse, error) {
	a.publish(ctx, domain.EventLLMCallStarted, nil)
	resp, err := a.deps.Gateway.Chat(ctx, a.request(messages), a.deps.Descriptor.Provider)
	if err != nil {
		a.publish(ctx, domain.EventLLMCallFailed, map[string]string{"error": err.Error()})
		return nil, err
	}
	a.publish(ctx, domain.EventLLMCallCompleted, nil)
	return resp, nil
}

// request builds the chat request for the descriptor's model settings.
func (a *Agent) request(messages []domain.Message) domain.ChatRequest {
	req := domain.ChatRequest{
		Model:       a.deps.Descriptor.Model,
		Messages:    messages,
		MaxTokens:   a.deps.Descriptor.MaxTokens,
		Temperature: a.deps.Descriptor.Temperature,
	}
	if a.deps.Tools != nil {
		req.Tools = a.deps.Tools.Schemas()
	}
	return req
}

// buildMessages assembles system prompt + history + user query. When
// the descriptor has knowledge scopes and the retriever finds context,
// the knowledge section is appended below the agent's own prompt; a
// failed or empty retrieval keeps the plain prompt.
func (a *Agent) buildMessages(ctx context.Context, query string, history []domain.Message) []domain.Message {
	system := a.deps.Descriptor.SystemPrompt
	if a.deps.Retriever != nil && len(a.deps.Descriptor.KnowledgeScopes) > 0 {
		if section, ok := a.deps.Retriever.BuildContext(ctx, query, a.deps.Descriptor.KnowledgeScopes, 0); ok {
			if system == "" {
				system = section
			} else {
				system = system + "\n\n" + section
			}
		}
	}

	messages := make([]domain.Message, 0, len(history)+2)
	if system != "" {
		messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: system, Timestamp: time.Now()})
	}
	messages = append(messages, history...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: query, Timestamp: time.Now()})
	return messages
}

func (a *Agent) answer(content string, usage domain.Usage) *domain.Answer {
	return &domain.Answer{
		Content: content,
		Agent:   a.deps.Descriptor.Name,
		Usage:   usage,
	}
}

func (a *Agent) publish(ctx context.Context, eventType domain.EventType, payload any) {
	eventbus.Emit(ctx, a.deps.Bus, eventType, domain.SessionIDFromContext(ctx), payload)
}

func addUsage(total *domain.Usage, u domain.Usage) {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}

// sendDelta delivers d unless the context dies first. Reports whether
// the send happened.
func sendDelta(ctx context.Context, out chan<- domain.StreamDelta, d domain.StreamDelta) bool {
	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

// maxStreamedToolCalls bounds the tool call slots the accumulator will
// allocate from malformed delta indices.
const maxStreamedToolCalls = 50

// streamAccumulator folds incremental deltas into one assistant
// message. Tool calls are tracked by array index: the first delta for
// an index carries ID and Name, later ones append argument bytes.
type streamAccumulator struct {
	content   strings.Builder
	toolCalls []domain.ToolCall
	usage     domain.Usage
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{}
}

func (acc *streamAccumulator) add(delta domain.StreamDelta) {
	acc.content.WriteString(delta.Content)

	for idx, tc := range delta.ToolCalls {
		if idx >= maxStreamedToolCalls {
			break
		}
		for len(acc.toolCalls) <= idx {
			acc.toolCalls = append(acc.toolCalls, domain.ToolCall{})
		}
		slot := &acc.toolCalls[idx]
		if tc.ID != "" {
			slot.ID = tc.ID
		}
		if tc.Name != "" {
			slot.Name = tc.Name
		}
		if len(tc.Arguments) > 0 {
			slot.Arguments = append(slot.Arguments, tc.Arguments...)
		}
	}

	if delta.Usage != nil {
		acc.usage = *delta.Usage
	}
}

func (acc *streamAccumulator) message() (domain.Message, domain.Usage) {
	return domain.Message{
		Role:      domain.RoleAssistant,
		Content:   acc.content.String(),
		ToolCalls: acc.toolCalls,
		Timestamp: time.Now(),
	}, acc.usage
}
