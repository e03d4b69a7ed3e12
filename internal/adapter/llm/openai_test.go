package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"maestro/internal/domain"
	"maestro/internal/infra/config"
)

func newTestOpenAI(srvURL string) *OpenAIProvider {
	return NewOpenAIProvider(config.ProviderConfig{
		Name:    "openai",
		Type:    "openai",
		Model:   "gpt-test",
		APIKey:  "sk-test",
		BaseURL: srvURL,
	}, newTestLogger())
}

func TestOpenAIChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("authorization = %q", auth)
		}

		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-test" {
			t.Errorf("model = %q, want configured default", req.Model)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "hi" {
			t.Errorf("messages = %+v", req.Messages)
		}

		w.Write([]byte(`{
			"id": "chatcmpl-123",
			"model": "gpt-test",
			"choices": [{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],
			"usage": {"prompt_tokens":5,"completion_tokens":7,"total_tokens":12},
			"created": 1700000000
		}`))
	}))
	defer srv.Close()

	p := newTestOpenAI(srv.URL)
	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.ID != "chatcmpl-123" {
		t.Errorf("id = %q", resp.ID)
	}
	if resp.Message.Role != domain.RoleAssistant || resp.Message.Content != "hello" {
		t.Errorf("message = %+v", resp.Message)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("total tokens = %d, want 12", resp.Usage.TotalTokens)
	}
}

func TestOpenAIChatToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-test",
			"choices": [{"index":0,"message":{
				"role":"assistant",
				"tool_calls":[{"id":"call-1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Paris\"}"}}]
			},"finish_reason":"tool_calls"}],
			"usage": {"prompt_tokens":5,"completion_tokens":7,"total_tokens":12}
		}`))
	}))
	defer srv.Close()

	p := newTestOpenAI(srv.URL)
	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "weather?"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call-1" || tc.Name != "get_weather" {
		t.Errorf("tool call = %+v", tc)
	}
	if string(tc.Arguments) != `{"city":"Paris"}` {
		t.Errorf("arguments = %s", tc.Arguments)
	}
}

func TestOpenAIRequestEncoding(t *testing.T) {
	var captured openaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = openaiRequest{}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(`{"id":"1","model":"gpt-test","choices":[],"usage":{}}`))
	}))
	defer srv.Close()

	p := newTestOpenAI(srv.URL)
	temp := 0.5
	_, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be helpful"},
			{Role: domain.RoleUser, Content: "weather?"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{
				{ID: "call-9", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Oslo"}`)},
			}},
			{Role: domain.RoleTool, Content: "sunny", ToolCallID: "call-9"},
		},
		Tools: []domain.ToolSchema{
			{Name: "get_weather", Description: "weather lookup", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
		MaxTokens:   100,
		Temperature: temp,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(captured.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(captured.Messages))
	}
	asst := captured.Messages[2]
	if len(asst.ToolCalls) != 1 || asst.ToolCalls[0].ID != "call-9" {
		t.Errorf("assistant tool calls = %+v", asst.ToolCalls)
	}
	if asst.ToolCalls[0].Function.Arguments != `{"city":"Oslo"}` {
		t.Errorf("tool call arguments = %q", asst.ToolCalls[0].Function.Arguments)
	}
	toolMsg := captured.Messages[3]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call-9" || toolMsg.Content != "sunny" {
		t.Errorf("tool message = %+v", toolMsg)
	}
	if captured.MaxTokens != 100 {
		t.Errorf("max_tokens = %d", captured.MaxTokens)
	}
	if captured.Temperature == nil || *captured.Temperature != temp {
		t.Errorf("temperature = %v, want %v", captured.Temperature, temp)
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Function.Name != "get_weather" {
		t.Errorf("tools = %+v", captured.Tools)
	}

	// Zero temperature is omitted so the backend default applies.
	_, err = p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if captured.Temperature != nil {
		t.Errorf("temperature = %v, want omitted at zero", captured.Temperature)
	}
}

func TestOpenAIChatErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		sentinel  error
		retriable bool
	}{
		{"unauthorized", http.StatusUnauthorized, domain.ErrAuthInvalid, false},
		{"rate limited", http.StatusTooManyRequests, domain.ErrRateLimit, true},
		{"model not found", http.StatusNotFound, domain.ErrModelNotFound, false},
		{"server error", http.StatusInternalServerError, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer srv.Close()

			p := newTestOpenAI(srv.URL)
			_, err := p.Chat(context.Background(), domain.ChatRequest{
				Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("err = %v, want %v", err, tt.sentinel)
			}
			if got := domain.IsRetriableProviderError(err); got != tt.retriable {
				t.Errorf("retriable = %v, want %v", got, tt.retriable)
			}
		})
	}
}

func TestOpenAIChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("stream flag not set")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		chunks := []string{
			`data: {"id":"1","choices":[{"delta":{"content":"Hel"},"finish_reason":null}]}`,
			`data: {"id":"1","choices":[{"delta":{"content":"lo"},"finish_reason":null}]}`,
			`data: {"id":"1","choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`,
			`data: [DONE]`,
		}
		for _, c := range chunks {
			io.WriteString(w, c+"\n\n")
			flusher.Flush()
		}
	}))
	defer srv.Close()

	p := newTestOpenAI(srv.URL)
	ch, err := p.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	deltas := collectDeltas(t, ch)

	var content strings.Builder
	for _, d := range deltas {
		content.WriteString(d.Content)
	}
	if content.String() != "Hello" {
		t.Errorf("content = %q, want Hello", content.String())
	}
	last := deltas[len(deltas)-1]
	if !last.Done {
		t.Errorf("last delta = %+v, want Done", last)
	}
	if last.Usage == nil || last.Usage.TotalTokens != 3 {
		t.Errorf("usage = %+v, want total 3", last.Usage)
	}
}

func TestOpenAIChatStreamToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		chunks := []string{
			`data: {"id":"1","choices":[{"delta":{"tool_calls":[{"id":"call-1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":"}}]},"finish_reason":null}]}`,
			`data: {"id":"1","choices":[{"delta":{"tool_calls":[{"function":{"arguments":"\"Oslo\"}"}}]},"finish_reason":null}]}`,
			`data: {"id":"1","choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
			`data: [DONE]`,
		}
		for _, c := range chunks {
			io.WriteString(w, c+"\n\n")
			flusher.Flush()
		}
	}))
	defer srv.Close()

	p := newTestOpenAI(srv.URL)
	ch, err := p.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "weather?"}},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	deltas := collectDeltas(t, ch)

	if len(deltas[0].ToolCalls) != 1 {
		t.Fatalf("first delta = %+v, want tool call start", deltas[0])
	}
	tc := deltas[0].ToolCalls[0]
	if tc.ID != "call-1" || tc.Name != "get_weather" {
		t.Errorf("tool call = %+v", tc)
	}

	// Argument fragments arrive across deltas for the caller to accumulate.
	var args strings.Builder
	for _, d := range deltas {
		for _, c := range d.ToolCalls {
			args.Write(c.Arguments)
		}
	}
	if args.String() != `{"city":"Oslo"}` {
		t.Errorf("accumulated arguments = %q", args.String())
	}
	if !deltas[len(deltas)-1].Done {
		t.Errorf("last delta = %+v, want Done", deltas[len(deltas)-1])
	}
}

func TestOpenAIChatStreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	p := newTestOpenAI(srv.URL)
	_, err := p.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if !errors.Is(err, domain.ErrAuthInvalid) {
		t.Fatalf("err = %v, want ErrAuthInvalid", err)
	}
	if domain.IsRetriableProviderError(err) {
		t.Error("auth failure must not be retriable")
	}
}

func TestOpenAIModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("authorization = %q", auth)
		}
		w.Write([]byte(`{"data":[{"id":"gpt-a"},{"id":"gpt-b"}]}`))
	}))
	defer srv.Close()

	p := newTestOpenAI(srv.URL)
	models, err := p.Models(context.Background())
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(models) != 2 || models[0] != "gpt-a" || models[1] != "gpt-b" {
		t.Errorf("models = %v", models)
	}
}
