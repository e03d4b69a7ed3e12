package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"maestro/internal/domain"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type gatewayCall struct {
	req      domain.ChatRequest
	provider string
}

// fakeGateway serves scripted responses in order, then falls back to
// chatFn, then to a canned "ok" answer.
type fakeGateway struct {
	mu        sync.Mutex
	calls     []gatewayCall
	responses []*domain.ChatResponse
	chatFn    func(ctx context.Context, req domain.ChatRequest, provider string) (*domain.ChatResponse, error)
	streamFn  func(ctx context.Context, req domain.ChatRequest, provider string) (<-chan domain.StreamDelta, error)
}

func (g *fakeGateway) Chat(ctx context.Context, req domain.ChatRequest, provider string) (*domain.ChatResponse, error) {
	g.mu.Lock()
	g.calls = append(g.calls, gatewayCall{req: req, provider: provider})
	var resp *domain.ChatResponse
	if len(g.responses) > 0 {
		resp = g.responses[0]
		g.responses = g.responses[1:]
	}
	fn := g.chatFn
	g.mu.Unlock()

	if resp != nil {
		return resp, nil
	}
	if fn != nil {
		return fn(ctx, req, provider)
	}
	return textResponse("ok"), nil
}

func (g *fakeGateway) ChatStream(ctx context.Context, req domain.ChatRequest, provider string) (<-chan domain.StreamDelta, error) {
	g.mu.Lock()
	g.calls = append(g.calls, gatewayCall{req: req, provider: provider})
	fn := g.streamFn
	g.mu.Unlock()

	if fn != nil {
		return fn(ctx, req, provider)
	}
	return deltaChannel("ok"), nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGateway) call(i int) gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[i]
}

func (g *fakeGateway) lastCall() gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[len(g.calls)-1]
}

// fakeToolExec records tool calls and answers each with a canned result.
type fakeToolExec struct {
	mu      sync.Mutex
	ran     []domain.ToolCall
	runFn   func(call domain.ToolCall) domain.ToolResult
	schemas []domain.ToolSchema
}

func (e *fakeToolExec) Run(_ context.Context, call domain.ToolCall) domain.ToolResult {
	e.mu.Lock()
	e.ran = append(e.ran, call)
	fn := e.runFn
	e.mu.Unlock()

	if fn != nil {
		return fn(call)
	}
	return domain.ToolResult{ToolCallID: call.ID, Content: "ran " + call.Name}
}

func (e *fakeToolExec) Schemas() []domain.ToolSchema { return e.schemas }

func (e *fakeToolExec) ranCalls() []domain.ToolCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.ToolCall, len(e.ran))
	copy(out, e.ran)
	return out
}

// fakeRetriever returns a fixed knowledge section and records what it
// was asked for.
type fakeRetriever struct {
	mu        sync.Mutex
	section   string
	ok        bool
	calls     int
	gotQuery  string
	gotScopes []string
}

func (r *fakeRetriever) BuildContext(_ context.Context, query string, scopes []string, _ int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = 1 + r.calls
	r.gotQuery = query
	r.gotScopes = scopes
	return r.section, r.ok
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func textResponse(content string) *domain.ChatResponse {
	return &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: content, Timestamp: time.Now()},
		Usage:   domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func toolCallResponse(content string, calls ...domain.ToolCall) *domain.ChatResponse {
	resp := textResponse(content)
	resp.Message.ToolCalls = calls
	return resp
}

// deltaChannel streams the chunks, then a final usage-bearing Done.
func deltaChannel(chunks ...string) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, len(chunks)+1)
	for _, c := range chunks {
		ch <- domain.StreamDelta{Content: c}
	}
	ch <- domain.StreamDelta{Done: true, Usage: &domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	close(ch)
	return ch
}

func testAgent(name, description string) *domain.AgentDescriptor {
	return &domain.AgentDescriptor{
		Name:        name,
		Description: description,
		Model:       "test-model",
		Temperature: 0.7,
		MaxTokens:   512,
		Streaming:   true,
	}
}

func collectDeltas(t *testing.T, ch <-chan domain.StreamDelta) []domain.StreamDelta {
	t.Helper()
	var out []domain.StreamDelta
	deadline := time.After(2 * time.Second)
	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, d)
		case <-deadline:
			t.Fatal("timed out draining delta stream")
		}
	}
}

func collectEvents(t *testing.T, ch <-chan domain.StreamEvent) []domain.StreamEvent {
	t.Helper()
	var out []domain.StreamEvent
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-deadline:
			t.Fatal("timed out draining event stream")
		}
	}
}
