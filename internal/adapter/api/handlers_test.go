package api

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"maestro/internal/domain"
	"maestro/internal/usecase"
	"maestro/internal/usecase/eventbus"
)

// --- handler test doubles ---

type stubGateway struct {
	mu    sync.Mutex
	resp  string
	calls int
}

func (g *stubGateway) Chat(_ context.Context, _ domain.ChatRequest, _ string) (*domain.ChatResponse, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: g.resp, Timestamp: time.Now()},
		Usage:   domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (g *stubGateway) ChatStream(_ context.Context, _ domain.ChatRequest, _ string) (<-chan domain.StreamDelta, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	ch := make(chan domain.StreamDelta, 2)
	ch <- domain.StreamDelta{Content: g.resp}
	ch <- domain.StreamDelta{Done: true, Usage: &domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	close(ch)
	return ch, nil
}

func (g *stubGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type stubHealth struct {
	mu       sync.Mutex
	probed   bool
	statuses map[string]domain.ProviderStatus
}

func (h *stubHealth) HealthCheck(_ context.Context, _ ...string) map[string]bool {
	h.mu.Lock()
	h.probed = true
	h.mu.Unlock()
	out := make(map[string]bool, len(h.statuses))
	for name, st := range h.statuses {
		out[name] = st.Healthy
	}
	return out
}

func (h *stubHealth) Status() map[string]domain.ProviderStatus { return h.statuses }

func (h *stubHealth) wasProbed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.probed
}

type stubTools struct{}

func (stubTools) Run(_ context.Context, call domain.ToolCall) domain.ToolResult {
	return domain.ToolResult{ToolCallID: call.ID, Content: "ok"}
}

func (stubTools) Schemas() []domain.ToolSchema {
	return []domain.ToolSchema{{Name: "echo", Description: "echo tool"}}
}

// --- fixture ---

const fixtureConfig = `title: DevOps Team
description: Infrastructure specialists
default_agent: KubernetesExpert
`

var fixtureAgents = map[string]string{
	"supervisor.yaml": `name: Supervisor
description: Routes queries to the right specialist
model: llama3.2
system_prompt: You coordinate a team of specialists.
`,
	"kubernetes.yaml": `name: KubernetesExpert
description: Kubernetes and container orchestration
model: llama3.2
provider: ollama
system_prompt: You are a Kubernetes expert.
icon: cloud
color: blue
`,
	"python.yaml": `name: PythonExpert
description: Python development and debugging
model: llama3.2
system_prompt: You are a Python expert.
streaming: false
`,
}

func writeFixtureBlueprint(t *testing.T, dir, slug string) {
	t.Helper()
	root := filepath.Join(dir, slug)
	if err := os.MkdirAll(filepath.Join(root, "agents"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "config.yaml"), []byte(fixtureConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	for name, body := range fixtureAgents {
		if err := os.WriteFile(filepath.Join(root, "agents", name), []byte(body), 0o644); err != nil {
			t.Fatalf("write agent %s: %v", name, err)
		}
	}
}

type handlerFixture struct {
	deps    HandlerDeps
	gateway *stubGateway
	bus     *eventbus.Bus
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	logger := discardLogger()
	dir := t.TempDir()
	writeFixtureBlueprint(t, dir, "devops")

	bus := eventbus.New(logger)
	t.Cleanup(bus.Close)

	gateway := &stubGateway{resp: "hello from maestro"}
	blueprints := usecase.NewBlueprintRegistry(dir, logger)
	sessions := usecase.NewSessionStore("")
	enablement := usecase.NewEnablement()
	cancels := usecase.NewCancelRegistry()
	router := usecase.NewRouter(usecase.NewClassifier(gateway, "", "classifier-model", time.Second, logger), logger)

	orch := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Blueprints:       blueprints,
		Sessions:         sessions,
		Enablement:       enablement,
		Cancels:          cancels,
		Router:           router,
		Gateway:          gateway,
		Bus:              bus,
		Logger:           logger,
		DefaultBlueprint: "devops",
		HistoryLimit:     20,
		MaxToolRounds:    5,
	})

	return &handlerFixture{
		deps: HandlerDeps{
			Orchestrator:     orch,
			Sessions:         sessions,
			Enablement:       enablement,
			Blueprints:       blueprints,
			Cancels:          cancels,
			Bus:              bus,
			Logger:           logger,
			DefaultBlueprint: "devops",
		},
		gateway: gateway,
		bus:     bus,
	}
}

func newTestClient() *Client {
	return &Client{
		Name:   "test",
		sendCh: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
}

func callHandler(t *testing.T, h RPCHandler, payload string) (json.RawMessage, error) {
	t.Helper()
	return h(context.Background(), newTestClient(), json.RawMessage(payload))
}

// --- chat ---

func TestHandlerChat(t *testing.T) {
	fix := newHandlerFixture(t)
	h := chatHandler(fix.deps)

	result, err := callHandler(t, h, `{"session_id":"s1","query":"hello"}`)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	var ans domain.Answer
	if err := json.Unmarshal(result, &ans); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ans.Content != "hello from maestro" {
		t.Errorf("Content = %q", ans.Content)
	}
	if ans.Agent != "Supervisor" {
		t.Errorf("Agent = %q", ans.Agent)
	}
	if ans.SessionID != "s1" {
		t.Errorf("SessionID = %q", ans.SessionID)
	}
	if fix.gateway.callCount() != 1 {
		t.Errorf("gateway calls = %d, want 1", fix.gateway.callCount())
	}
}

func TestHandlerChatGeneratesSession(t *testing.T) {
	fix := newHandlerFixture(t)
	h := chatHandler(fix.deps)

	result, err := callHandler(t, h, `{"query":"hello"}`)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	var ans domain.Answer
	json.Unmarshal(result, &ans)
	if ans.SessionID == "" {
		t.Error("expected generated session ID")
	}
}

func TestHandlerChatInvalidPayload(t *testing.T) {
	fix := newHandlerFixture(t)
	h := chatHandler(fix.deps)

	_, err := callHandler(t, h, `invalid json`)
	if !errors.Is(err, domain.ErrRPCInvalidPayload) {
		t.Fatalf("err = %v, want ErrRPCInvalidPayload", err)
	}
}

func TestHandlerChatEmptyQuery(t *testing.T) {
	fix := newHandlerFixture(t)
	h := chatHandler(fix.deps)

	_, err := callHandler(t, h, `{"session_id":"s1","query":"   "}`)
	if !errors.Is(err, domain.ErrRPCInvalidPayload) {
		t.Fatalf("err = %v, want ErrRPCInvalidPayload", err)
	}
}

func TestHandlerChatUnknownBlueprint(t *testing.T) {
	fix := newHandlerFixture(t)
	h := chatHandler(fix.deps)

	_, err := callHandler(t, h, `{"query":"hello","blueprint":"ghost"}`)
	if !errors.Is(err, domain.ErrBlueprintNotFound) {
		t.Fatalf("err = %v, want ErrBlueprintNotFound", err)
	}
}

// --- cancel ---

func TestHandlerCancelNotFound(t *testing.T) {
	fix := newHandlerFixture(t)
	h := cancelHandler(fix.deps)

	result, err := callHandler(t, h, `{"session_id":"nope"}`)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	var resp cancelResponse
	json.Unmarshal(result, &resp)
	if resp.Status != "not_found" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestHandlerCancelActive(t *testing.T) {
	fix := newHandlerFixture(t)

	ctx, release := fix.deps.Cancels.Register(context.Background(), "sess-c")
	defer release()

	h := cancelHandler(fix.deps)
	result, err := callHandler(t, h, `{"session_id":"sess-c"}`)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	var resp cancelResponse
	json.Unmarshal(result, &resp)
	if resp.Status != "cancelled" {
		t.Errorf("status = %q", resp.Status)
	}

	select {
	case <-ctx.Done():
	default:
		t.Error("registered context should have been cancelled")
	}
}

func TestHandlerCancelEmptySession(t *testing.T) {
	fix := newHandlerFixture(t)
	h := cancelHandler(fix.deps)

	_, err := callHandler(t, h, `{"session_id":""}`)
	if !errors.Is(err, domain.ErrRPCInvalidPayload) {
		t.Fatalf("err = %v, want ErrRPCInvalidPayload", err)
	}
}

// --- agents ---

func TestHandlerAgentsList(t *testing.T) {
	fix := newHandlerFixture(t)
	h := agentsListHandler(fix.deps)

	result, err := callHandler(t, h, `{}`)
	if err != nil {
		t.Fatalf("agentsList: %v", err)
	}

	var resp agentsListResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.TotalCount != 3 {
		t.Fatalf("TotalCount = %d, want 3", resp.TotalCount)
	}
	// Without a gateway every loaded agent counts as healthy.
	if resp.HealthyCount != 3 || resp.DegradedCount != 0 || resp.UnavailableCount != 0 {
		t.Errorf("counts = %d/%d/%d", resp.HealthyCount, resp.DegradedCount, resp.UnavailableCount)
	}

	// Sorted by lowercase name.
	if resp.Agents[0].Name != "KubernetesExpert" || resp.Agents[1].Name != "PythonExpert" || resp.Agents[2].Name != "Supervisor" {
		t.Errorf("order = %q, %q, %q", resp.Agents[0].Name, resp.Agents[1].Name, resp.Agents[2].Name)
	}

	k8s := resp.Agents[0]
	if k8s.AgentID != "kubernetesexpert" {
		t.Errorf("AgentID = %q", k8s.AgentID)
	}
	if !k8s.Enabled {
		t.Error("expected agent enabled by default")
	}
	if k8s.Status != agentHealthy {
		t.Errorf("Status = %q", k8s.Status)
	}
	if k8s.Icon != "cloud" || k8s.Color != "blue" {
		t.Errorf("icon/color = %q/%q", k8s.Icon, k8s.Color)
	}
}

func TestHandlerAgentsListProviderDegraded(t *testing.T) {
	fix := newHandlerFixture(t)
	fix.deps.Providers = &stubHealth{statuses: map[string]domain.ProviderStatus{
		"ollama": {Name: "ollama", Healthy: false, ConsecutiveFailures: 4},
	}}
	h := agentsListHandler(fix.deps)

	result, err := callHandler(t, h, `{}`)
	if err != nil {
		t.Fatalf("agentsList: %v", err)
	}

	var resp agentsListResponse
	json.Unmarshal(result, &resp)

	// KubernetesExpert is pinned to ollama, which is down.
	if resp.Agents[0].Status != agentDegraded {
		t.Errorf("status = %q, want degraded", resp.Agents[0].Status)
	}
	if resp.DegradedCount != 1 || resp.HealthyCount != 2 {
		t.Errorf("counts = healthy %d degraded %d", resp.HealthyCount, resp.DegradedCount)
	}
}

func TestHandlerAgentsListProviderUnknown(t *testing.T) {
	fix := newHandlerFixture(t)
	fix.deps.Providers = &stubHealth{statuses: map[string]domain.ProviderStatus{
		"openai": {Name: "openai", Healthy: true},
	}}
	h := agentsListHandler(fix.deps)

	result, err := callHandler(t, h, `{}`)
	if err != nil {
		t.Fatalf("agentsList: %v", err)
	}

	var resp agentsListResponse
	json.Unmarshal(result, &resp)

	// The pinned provider is not registered at all.
	if resp.Agents[0].Status != agentUnavailable {
		t.Errorf("status = %q, want unavailable", resp.Agents[0].Status)
	}
	if resp.Agents[0].Enabled {
		t.Error("unavailable agent should report disabled")
	}
	if resp.UnavailableCount != 1 {
		t.Errorf("UnavailableCount = %d", resp.UnavailableCount)
	}
}

func TestHandlerAgentsListUnknownBlueprint(t *testing.T) {
	fix := newHandlerFixture(t)
	h := agentsListHandler(fix.deps)

	_, err := callHandler(t, h, `{"blueprint":"ghost"}`)
	if !errors.Is(err, domain.ErrBlueprintNotFound) {
		t.Fatalf("err = %v, want ErrBlueprintNotFound", err)
	}
}

func TestHandlerAgentsToggle(t *testing.T) {
	fix := newHandlerFixture(t)
	h := agentsToggleHandler(fix.deps)

	result, err := callHandler(t, h, `{"agent_id":"kubernetesexpert","enabled":false}`)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}

	var resp agentsToggleResponse
	json.Unmarshal(result, &resp)
	if resp.Status != "success" || resp.AgentName != "KubernetesExpert" || resp.Enabled {
		t.Errorf("resp = %+v", resp)
	}

	// Toggles without a session land on the shared fallback key.
	if fix.deps.Enablement.Enabled("default", "devops", "kubernetesexpert") {
		t.Error("agent should be disabled for the default session")
	}
	if !fix.deps.Enablement.Enabled("other", "devops", "kubernetesexpert") {
		t.Error("other sessions should be unaffected")
	}

	// And back on.
	_, err = callHandler(t, h, `{"agent_id":"kubernetesexpert","enabled":true}`)
	if err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if !fix.deps.Enablement.Enabled("default", "devops", "kubernetesexpert") {
		t.Error("agent should be enabled again")
	}
}

func TestHandlerAgentsTogglePerSession(t *testing.T) {
	fix := newHandlerFixture(t)
	h := agentsToggleHandler(fix.deps)

	_, err := callHandler(t, h, `{"agent_id":"pythonexpert","session_id":"s9","enabled":false}`)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}

	if fix.deps.Enablement.Enabled("s9", "devops", "pythonexpert") {
		t.Error("agent should be disabled for s9")
	}
	if !fix.deps.Enablement.Enabled("default", "devops", "pythonexpert") {
		t.Error("default session should be unaffected")
	}
}

func TestHandlerAgentsToggleUnknownAgent(t *testing.T) {
	fix := newHandlerFixture(t)
	h := agentsToggleHandler(fix.deps)

	_, err := callHandler(t, h, `{"agent_id":"nope","enabled":false}`)
	if !errors.Is(err, domain.ErrAgentNotFound) {
		t.Fatalf("err = %v, want ErrAgentNotFound", err)
	}
}

func TestHandlerAgentsToggleEmitsEvent(t *testing.T) {
	fix := newHandlerFixture(t)

	events := make(chan domain.Event, 1)
	unsub := fix.bus.Subscribe(domain.EventAgentToggled, func(_ context.Context, e domain.Event) {
		select {
		case events <- e:
		default:
		}
	})
	defer unsub()

	h := agentsToggleHandler(fix.deps)
	if _, err := callHandler(t, h, `{"agent_id":"pythonexpert","enabled":false}`); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	select {
	case e := <-events:
		var payload map[string]any
		json.Unmarshal(e.Payload, &payload)
		if payload["agent"] != "PythonExpert" || payload["enabled"] != false {
			t.Errorf("payload = %v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no agent.toggled event")
	}
}

// --- blueprints ---

func TestHandlerBlueprintsList(t *testing.T) {
	fix := newHandlerFixture(t)
	h := blueprintsListHandler(fix.deps)

	result, err := callHandler(t, h, `null`)
	if err != nil {
		t.Fatalf("blueprintsList: %v", err)
	}

	var infos []domain.BlueprintInfo
	if err := json.Unmarshal(result, &infos); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("len = %d, want 1", len(infos))
	}
	if infos[0].Slug != "devops" || infos[0].AgentCount != 3 {
		t.Errorf("info = %+v", infos[0])
	}
}

func TestHandlerBlueprintsReload(t *testing.T) {
	fix := newHandlerFixture(t)
	h := blueprintsReloadHandler(fix.deps)

	result, err := callHandler(t, h, `{"blueprint":"devops"}`)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	var resp blueprintsReloadResponse
	json.Unmarshal(result, &resp)
	if resp.Status != "reloaded" || resp.Blueprint != "devops" || resp.Agents != 3 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandlerBlueprintsReloadUnknown(t *testing.T) {
	fix := newHandlerFixture(t)
	h := blueprintsReloadHandler(fix.deps)

	_, err := callHandler(t, h, `{"blueprint":"ghost"}`)
	if !errors.Is(err, domain.ErrBlueprintNotFound) {
		t.Fatalf("err = %v, want ErrBlueprintNotFound", err)
	}
}

// --- providers ---

func TestHandlerProvidersHealth(t *testing.T) {
	fix := newHandlerFixture(t)
	health := &stubHealth{statuses: map[string]domain.ProviderStatus{
		"openai": {Name: "openai", Healthy: true},
		"ollama": {Name: "ollama", Healthy: false, LastError: "connection refused"},
	}}
	fix.deps.Providers = health
	h := providersHealthHandler(fix.deps)

	result, err := callHandler(t, h, `{}`)
	if err != nil {
		t.Fatalf("providersHealth: %v", err)
	}

	var resp providersHealthResponse
	json.Unmarshal(result, &resp)
	if len(resp.Providers) != 2 {
		t.Fatalf("len = %d", len(resp.Providers))
	}
	// Sorted by name.
	if resp.Providers[0].Name != "ollama" || resp.Providers[1].Name != "openai" {
		t.Errorf("order = %q, %q", resp.Providers[0].Name, resp.Providers[1].Name)
	}
	if health.wasProbed() {
		t.Error("plain health call should not probe")
	}
}

func TestHandlerProvidersHealthProbe(t *testing.T) {
	fix := newHandlerFixture(t)
	health := &stubHealth{statuses: map[string]domain.ProviderStatus{
		"openai": {Name: "openai", Healthy: true},
	}}
	fix.deps.Providers = health
	h := providersHealthHandler(fix.deps)

	if _, err := callHandler(t, h, `{"probe":true}`); err != nil {
		t.Fatalf("providersHealth: %v", err)
	}
	if !health.wasProbed() {
		t.Error("probe=true should run a live health check")
	}
}

func TestHandlerProvidersHealthNoGateway(t *testing.T) {
	fix := newHandlerFixture(t)
	h := providersHealthHandler(fix.deps)

	result, err := callHandler(t, h, `{}`)
	if err != nil {
		t.Fatalf("providersHealth: %v", err)
	}

	var resp providersHealthResponse
	json.Unmarshal(result, &resp)
	if len(resp.Providers) != 0 {
		t.Errorf("len = %d, want 0", len(resp.Providers))
	}
}

// --- sessions ---

func TestHandlerSessionsList(t *testing.T) {
	fix := newHandlerFixture(t)
	fix.deps.Sessions.GetOrCreate("s1")
	fix.deps.Sessions.GetOrCreate("s2")

	h := sessionsListHandler(fix.deps)
	result, err := callHandler(t, h, `null`)
	if err != nil {
		t.Fatalf("sessionsList: %v", err)
	}

	var infos []usecase.SessionInfo
	if err := json.Unmarshal(result, &infos); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(infos) != 2 {
		t.Errorf("len = %d, want 2", len(infos))
	}
}

func TestHandlerSessionsGet(t *testing.T) {
	fix := newHandlerFixture(t)

	// Run one chat turn so the session has history.
	if _, err := callHandler(t, chatHandler(fix.deps), `{"session_id":"s1","query":"hello"}`); err != nil {
		t.Fatalf("chat: %v", err)
	}

	h := sessionsGetHandler(fix.deps)
	result, err := callHandler(t, h, `{"session_id":"s1"}`)
	if err != nil {
		t.Fatalf("sessionsGet: %v", err)
	}

	var detail sessionDetail
	if err := json.Unmarshal(result, &detail); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if detail.ExternalKey != "s1" {
		t.Errorf("ExternalKey = %q", detail.ExternalKey)
	}
	if detail.Title != "hello" {
		t.Errorf("Title = %q", detail.Title)
	}
	if len(detail.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(detail.Messages))
	}
	if detail.Messages[0].Role != domain.RoleUser || detail.Messages[1].Role != domain.RoleAssistant {
		t.Errorf("roles = %q, %q", detail.Messages[0].Role, detail.Messages[1].Role)
	}
}

func TestHandlerSessionsGetNotFound(t *testing.T) {
	fix := newHandlerFixture(t)
	h := sessionsGetHandler(fix.deps)

	_, err := callHandler(t, h, `{"session_id":"nope"}`)
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestHandlerSessionsDelete(t *testing.T) {
	fix := newHandlerFixture(t)
	fix.deps.Sessions.GetOrCreate("del1")
	fix.deps.Enablement.Disable("del1", "devops", "pythonexpert")

	events := make(chan domain.Event, 1)
	unsub := fix.bus.Subscribe(domain.EventSessionDeleted, func(_ context.Context, e domain.Event) {
		select {
		case events <- e:
		default:
		}
	})
	defer unsub()

	h := sessionsDeleteHandler(fix.deps)
	result, err := callHandler(t, h, `{"session_id":"del1"}`)
	if err != nil {
		t.Fatalf("sessionsDelete: %v", err)
	}

	var resp map[string]bool
	json.Unmarshal(result, &resp)
	if !resp["deleted"] {
		t.Error("expected deleted=true")
	}

	if _, err := fix.deps.Sessions.Get("del1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("session still present: %v", err)
	}
	// Enablement overrides die with the session.
	if !fix.deps.Enablement.Enabled("del1", "devops", "pythonexpert") {
		t.Error("enablement state should have been cleared")
	}

	select {
	case e := <-events:
		if e.SessionID != "del1" {
			t.Errorf("event session = %q", e.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no session.deleted event")
	}
}

func TestHandlerSessionsDeleteNotFound(t *testing.T) {
	fix := newHandlerFixture(t)
	h := sessionsDeleteHandler(fix.deps)

	_, err := callHandler(t, h, `{"session_id":"nope"}`)
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

// --- tools ---

func TestHandlerToolsList(t *testing.T) {
	fix := newHandlerFixture(t)
	fix.deps.Tools = stubTools{}

	h := toolsListHandler(fix.deps)
	result, err := callHandler(t, h, `null`)
	if err != nil {
		t.Fatalf("toolsList: %v", err)
	}

	var schemas []domain.ToolSchema
	json.Unmarshal(result, &schemas)
	if len(schemas) != 1 || schemas[0].Name != "echo" {
		t.Errorf("schemas = %v", schemas)
	}
}
