package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"maestro/internal/domain"
	"maestro/internal/usecase"
	"maestro/internal/usecase/eventbus"
)

// ProviderHealth reports LLM provider health for the status surfaces.
// *llm.Gateway satisfies it.
type ProviderHealth interface {
	HealthCheck(ctx context.Context, names ...string) map[string]bool
	Status() map[string]domain.ProviderStatus
}

// HandlerDeps holds dependencies needed by the RPC handlers.
type HandlerDeps struct {
	Orchestrator *usecase.Orchestrator
	Sessions     *usecase.SessionStore
	Enablement   *usecase.Enablement
	Blueprints   *usecase.BlueprintRegistry
	Cancels      *usecase.CancelRegistry
	Providers    ProviderHealth
	Tools        domain.ToolExecutor // can be nil
	Bus          domain.EventBus
	Logger       *slog.Logger

	DefaultBlueprint string
}

// RegisterHandlers registers all built-in RPC handlers on the server.
func RegisterHandlers(s *Server, deps HandlerDeps) {
	s.RegisterHandler("chat", chatHandler(deps))
	s.RegisterHandler("chat_stream", chatStreamHandler(deps))
	s.RegisterHandler("cancel", cancelHandler(deps))
	s.RegisterHandler("agents.list", agentsListHandler(deps))
	s.RegisterHandler("agents.toggle", agentsToggleHandler(deps))
	s.RegisterHandler("blueprints.list", blueprintsListHandler(deps))
	s.RegisterHandler("blueprints.reload", blueprintsReloadHandler(deps))
	s.RegisterHandler("providers.health", providersHealthHandler(deps))
	s.RegisterHandler("sessions.list", sessionsListHandler(deps))
	s.RegisterHandler("sessions.get", sessionsGetHandler(deps))
	s.RegisterHandler("sessions.delete", sessionsDeleteHandler(deps))

	if deps.Tools != nil {
		s.RegisterHandler("tools.list", toolsListHandler(deps))
	}
}

// --- chat ---

type chatRequest struct {
	SessionID string `json:"session_id"`
	Blueprint string `json:"blueprint"`
	Query     string `json:"query"`
}

func chatHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *Client, payload json.RawMessage) (json.RawMessage, error) {
		var req chatRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, domain.ErrRPCInvalidPayload
		}
		if strings.TrimSpace(req.Query) == "" {
			return nil, domain.ErrRPCInvalidPayload
		}

		ans, err := deps.Orchestrator.Handle(ctx, usecase.Invocation{
			SessionID: req.SessionID,
			Blueprint: req.Blueprint,
			Query:     req.Query,
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(ans)
	}
}

type chatStreamResponse struct {
	Streaming bool   `json:"streaming"`
	SessionID string `json:"session_id"`
}

func chatStreamHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *Client, payload json.RawMessage) (json.RawMessage, error) {
		var req chatRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, domain.ErrRPCInvalidPayload
		}
		if strings.TrimSpace(req.Query) == "" {
			return nil, domain.ErrRPCInvalidPayload
		}

		// The immediate response has to carry the session ID, so mint
		// one here when the client did not supply it.
		sessionID := req.SessionID
		created := sessionID == ""
		if created {
			sessionID = usecase.NewSessionKey()
		}

		events, err := deps.Orchestrator.HandleStream(ctx, usecase.Invocation{
			SessionID: sessionID,
			Blueprint: req.Blueprint,
			Query:     req.Query,
		})
		if err != nil {
			return nil, err
		}
		if created {
			eventbus.Emit(ctx, deps.Bus, domain.EventSessionCreated, sessionID, nil)
		}

		// Deltas go to the requesting client only. Bus subscribers still
		// see the stream lifecycle events the orchestrator publishes.
		go forwardStream(client, sessionID, events, deps.Logger)

		return json.Marshal(chatStreamResponse{Streaming: true, SessionID: sessionID})
	}
}

// forwardStream drains one orchestration stream into per-client event
// frames wrapped as stream.delta events.
func forwardStream(client *Client, sessionID string, events <-chan domain.StreamEvent, logger *slog.Logger) {
	for ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		payload, err := json.Marshal(domain.Event{
			Type:      domain.EventStreamDelta,
			Timestamp: time.Now(),
			SessionID: sessionID,
			Payload:   body,
		})
		if err != nil {
			continue
		}
		if !client.Push(Frame{Type: FrameTypeEvent, Payload: payload}) {
			logger.Warn("api: dropped stream frame for slow client", "session_id", sessionID, "type", string(ev.Type))
		}
	}
}

// --- cancel ---

type cancelRequest struct {
	SessionID string `json:"session_id"`
}

type cancelResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

func cancelHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *Client, payload json.RawMessage) (json.RawMessage, error) {
		var req cancelRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, domain.ErrRPCInvalidPayload
		}
		if req.SessionID == "" {
			return nil, domain.ErrRPCInvalidPayload
		}

		status := "not_found"
		if deps.Orchestrator.Cancel(req.SessionID) {
			status = "cancelled"
		}
		return json.Marshal(cancelResponse{Status: status, SessionID: req.SessionID})
	}
}

// --- agents ---

const (
	agentHealthy     = "healthy"
	agentDegraded    = "degraded"
	agentUnavailable = "unavailable"
)

type agentEntry struct {
	Name        string `json:"name"`
	AgentID     string `json:"agent_id"`
	Enabled     bool   `json:"enabled"`
	Status      string `json:"status"`
	Model       string `json:"model"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
}

type agentsListRequest struct {
	Blueprint string `json:"blueprint"`
	SessionID string `json:"session_id"`
}

type agentsListResponse struct {
	Agents           []agentEntry `json:"agents"`
	TotalCount       int          `json:"total_count"`
	HealthyCount     int          `json:"healthy_count"`
	DegradedCount    int          `json:"degraded_count"`
	UnavailableCount int          `json:"unavailable_count"`
}

func agentsListHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *Client, payload json.RawMessage) (json.RawMessage, error) {
		var req agentsListRequest
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, domain.ErrRPCInvalidPayload
			}
		}
		slug := req.Blueprint
		if slug == "" {
			slug = deps.DefaultBlueprint
		}
		// Enablement for clients without a session is tracked under a
		// shared fallback key, matching the toggle method.
		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = "default"
		}

		bp, err := deps.Blueprints.Load(slug)
		if err != nil {
			return nil, err
		}

		var health map[string]domain.ProviderStatus
		if deps.Providers != nil {
			health = deps.Providers.Status()
		}

		resp := agentsListResponse{Agents: make([]agentEntry, 0, len(bp.Agents))}
		for _, name := range bp.Names() {
			desc, ok := bp.Get(name)
			if !ok {
				continue
			}
			entry := agentEntry{
				Name:        desc.Name,
				AgentID:     desc.ID,
				Enabled:     deps.Enablement.Enabled(sessionID, bp.Slug, name),
				Status:      agentHealth(desc, health),
				Model:       desc.Model,
				Description: desc.Description,
				Icon:        desc.Icon,
				Color:       desc.Color,
			}
			switch entry.Status {
			case agentHealthy:
				resp.HealthyCount++
			case agentDegraded:
				resp.DegradedCount++
			default:
				resp.UnavailableCount++
				entry.Enabled = false
			}
			resp.Agents = append(resp.Agents, entry)
		}
		resp.TotalCount = len(resp.Agents)
		return json.Marshal(resp)
	}
}

// agentHealth grades an agent by its pinned provider: a pin the gateway
// does not know is unavailable, an unhealthy pin degraded (the gateway
// can still fail over), everything else healthy.
func agentHealth(desc *domain.AgentDescriptor, health map[string]domain.ProviderStatus) string {
	if desc.Provider == "" || health == nil {
		return agentHealthy
	}
	st, ok := health[desc.Provider]
	if !ok {
		return agentUnavailable
	}
	if !st.Healthy {
		return agentDegraded
	}
	return agentHealthy
}

type agentsToggleRequest struct {
	Blueprint string `json:"blueprint"`
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Enabled   bool   `json:"enabled"`
}

type agentsToggleResponse struct {
	Status    string `json:"status"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Enabled   bool   `json:"enabled"`
}

func agentsToggleHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *Client, payload json.RawMessage) (json.RawMessage, error) {
		var req agentsToggleRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, domain.ErrRPCInvalidPayload
		}
		if req.AgentID == "" {
			return nil, domain.ErrRPCInvalidPayload
		}
		slug := req.Blueprint
		if slug == "" {
			slug = deps.DefaultBlueprint
		}
		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = "default"
		}

		bp, err := deps.Blueprints.Load(slug)
		if err != nil {
			return nil, err
		}

		var target *domain.AgentDescriptor
		for _, name := range bp.Names() {
			if desc, ok := bp.Get(name); ok && desc.ID == req.AgentID {
				target = desc
				break
			}
		}
		if target == nil {
			return nil, domain.ErrAgentNotFound
		}

		if req.Enabled {
			deps.Enablement.Enable(sessionID, bp.Slug, target.Name)
		} else {
			deps.Enablement.Disable(sessionID, bp.Slug, target.Name)
		}

		eventbus.Emit(ctx, deps.Bus, domain.EventAgentToggled, sessionID, map[string]any{
			"blueprint": bp.Slug,
			"agent":     target.Name,
			"agent_id":  target.ID,
			"enabled":   req.Enabled,
		})

		return json.Marshal(agentsToggleResponse{
			Status:    "success",
			AgentID:   target.ID,
			AgentName: target.Name,
			Enabled:   req.Enabled,
		})
	}
}

// --- blueprints ---

func blueprintsListHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *Client, _ json.RawMessage) (json.RawMessage, error) {
		infos, err := deps.Blueprints.List()
		if err != nil {
			return nil, err
		}
		return json.Marshal(infos)
	}
}

type blueprintsReloadRequest struct {
	Blueprint string `json:"blueprint"`
}

type blueprintsReloadResponse struct {
	Status    string `json:"status"`
	Blueprint string `json:"blueprint"`
	Agents    int    `json:"agents"`
}

func blueprintsReloadHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *Client, payload json.RawMessage) (json.RawMessage, error) {
		var req blueprintsReloadRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, domain.ErrRPCInvalidPayload
		}
		if req.Blueprint == "" {
			return nil, domain.ErrRPCInvalidPayload
		}

		bp, err := deps.Blueprints.Reload(req.Blueprint)
		if err != nil {
			return nil, err
		}

		eventbus.Emit(ctx, deps.Bus, domain.EventBlueprintReloaded, "", map[string]any{
			"blueprint": bp.Slug,
			"agents":    len(bp.Agents),
		})

		return json.Marshal(blueprintsReloadResponse{
			Status:    "reloaded",
			Blueprint: bp.Slug,
			Agents:    len(bp.Agents),
		})
	}
}

// --- providers ---

type providersHealthRequest struct {
	Probe bool `json:"probe"`
}

type providersHealthResponse struct {
	Providers []domain.ProviderStatus `json:"providers"`
}

func providersHealthHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *Client, payload json.RawMessage) (json.RawMessage, error) {
		var req providersHealthRequest
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, domain.ErrRPCInvalidPayload
			}
		}
		if deps.Providers == nil {
			return json.Marshal(providersHealthResponse{Providers: []domain.ProviderStatus{}})
		}
		if req.Probe {
			deps.Providers.HealthCheck(ctx)
		}
		return json.Marshal(providersHealthResponse{Providers: sortedStatuses(deps.Providers.Status())})
	}
}

func sortedStatuses(byName map[string]domain.ProviderStatus) []domain.ProviderStatus {
	out := make([]domain.ProviderStatus, 0, len(byName))
	for _, st := range byName {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// --- sessions ---

func sessionsListHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *Client, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(deps.Sessions.List())
	}
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type sessionDetail struct {
	ID          string           `json:"id"`
	ExternalKey string           `json:"external_key"`
	Title       string           `json:"title,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Messages    []domain.Message `json:"messages"`
}

func sessionsGetHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *Client, payload json.RawMessage) (json.RawMessage, error) {
		var req sessionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, domain.ErrRPCInvalidPayload
		}
		if req.SessionID == "" {
			return nil, domain.ErrRPCInvalidPayload
		}

		session, err := deps.Sessions.Get(req.SessionID)
		if err != nil {
			return nil, err
		}
		info := session.Info()
		return json.Marshal(sessionDetail{
			ID:          info.ID,
			ExternalKey: info.ExternalKey,
			Title:       info.Title,
			CreatedAt:   info.CreatedAt,
			UpdatedAt:   info.UpdatedAt,
			Messages:    session.Messages(),
		})
	}
}

func sessionsDeleteHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *Client, payload json.RawMessage) (json.RawMessage, error) {
		var req sessionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, domain.ErrRPCInvalidPayload
		}
		if req.SessionID == "" {
			return nil, domain.ErrRPCInvalidPayload
		}

		if err := deps.Sessions.Delete(req.SessionID); err != nil {
			return nil, err
		}
		deps.Enablement.ClearSession(req.SessionID)
		eventbus.Emit(ctx, deps.Bus, domain.EventSessionDeleted, req.SessionID, nil)

		return json.Marshal(map[string]bool{"deleted": true})
	}
}

// --- tools ---

func toolsListHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *Client, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(deps.Tools.Schemas())
	}
}
