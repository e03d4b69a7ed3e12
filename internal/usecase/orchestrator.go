package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"maestro/internal/domain"
	"maestro/internal/infra/tracer"
	"maestro/internal/usecase/eventbus"
)

// cancelledSuffix is appended to a partial response persisted after a
// user-initiated cancel.
const cancelledSuffix = "\n\n[Response cancelled by user]"

// ToolSource hands out tool executors scoped to an agent's allow-list.
type ToolSource interface {
	Scoped(names []string) domain.ToolExecutor
}

// Invocation is one orchestrated chat turn. An empty SessionID starts a
// new session; an empty Blueprint selects the configured default.
type Invocation struct {
	SessionID string
	Blueprint string
	Query     string
}

// OrchestratorDeps wires the orchestrator's collaborators. Tools,
// Retriever, Tracker and Bus are optional.
type OrchestratorDeps struct {
	Blueprints *BlueprintRegistry
	Sessions   *SessionStore
	Enablement *Enablement
	Cancels    *CancelRegistry
	Router     *Router
	Gateway    ProviderGateway
	Tools      ToolSource
	Retriever  Retriever
	Tracker    *Tracker
	Bus        domain.EventBus
	Logger     *slog.Logger

	DefaultBlueprint string
	HistoryLimit     int
	MaxToolRounds    int
}

// Orchestrator runs one chat turn end to end: resolve the session and
// its enabled agents, route the query, invoke the winning agent, and
// persist the exchange. It owns no retry logic; failover lives in the
// gateway.
type Orchestrator struct {
	deps OrchestratorDeps
}

// NewOrchestrator creates an orchestrator from deps.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// prepared is the per-invocation state resolved before routing.
type prepared struct {
	bp      *LoadedBlueprint
	session *Session
	enabled map[string]*domain.AgentDescriptor
	pool    *RoutingPool
	history []domain.Message
}

func (o *Orchestrator) prepare(ctx context.Context, inv *Invocation) (*prepared, error) {
	if strings.TrimSpace(inv.Query) == "" {
		return nil, domain.NewDomainError("orchestrator.prepare", domain.ErrInvalidInput, "empty query")
	}
	if inv.Blueprint == "" {
		inv.Blueprint = o.deps.DefaultBlueprint
	}

	bp, err := o.deps.Blueprints.Load(inv.Blueprint)
	if err != nil {
		return nil, err
	}

	created := inv.SessionID == ""
	if created {
		inv.SessionID = NewSessionKey()
	}
	session := o.deps.Sessions.GetOrCreate(inv.SessionID)
	if created {
		eventbus.Emit(ctx, o.deps.Bus, domain.EventSessionCreated, inv.SessionID, nil)
	}

	enabled := o.deps.Enablement.EnabledAgents(inv.SessionID, bp.Slug, bp.Agents)
	return &prepared{
		bp:      bp,
		session: session,
		enabled: enabled,
		pool:    NewRoutingPool(bp, enabled),
		history: session.Recent(o.deps.HistoryLimit),
	}, nil
}

// Handle answers one query synchronously.
func (o *Orchestrator) Handle(ctx context.Context, inv Invocation) (*domain.Answer, error) {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.handle")
	defer span.End()

	prep, err := o.prepare(ctx, &inv)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	ctx = domain.ContextWithSessionID(ctx, inv.SessionID)
	eventbus.Emit(ctx, o.deps.Bus, domain.EventQueryReceived, inv.SessionID, map[string]string{"blueprint": prep.bp.Slug})

	dec, err := o.deps.Router.Route(ctx, inv.Query, prep.pool)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	eventbus.Emit(ctx, o.deps.Bus, domain.EventAgentRouted, inv.SessionID, dec)

	desc, prompt, history, direct := o.resolveTarget(dec, prep, inv.Query)
	span.SetAttributes(tracer.StringAttr("agent.name", desc.Name))

	ans, err := o.agentFor(desc, direct).Respond(ctx, prompt, history)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	ans.SessionID = inv.SessionID

	o.persistTurn(prep.session, inv.Query, ans.Content, desc.Name)
	tracer.SetOK(span)
	return ans, nil
}

// HandleStream answers one query as an event stream. Preparation and
// routing failures are returned directly; once a channel is handed out,
// every outcome arrives on it and the stream always ends with exactly
// one terminal event. The caller must drain the channel.
func (o *Orchestrator) HandleStream(ctx context.Context, inv Invocation) (<-chan domain.StreamEvent, error) {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.handle_stream")

	prep, err := o.prepare(ctx, &inv)
	if err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}
	ctx = domain.ContextWithSessionID(ctx, inv.SessionID)
	eventbus.Emit(ctx, o.deps.Bus, domain.EventQueryReceived, inv.SessionID, map[string]string{"blueprint": prep.bp.Slug})

	dec, err := o.deps.Router.Route(ctx, inv.Query, prep.pool)
	if err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}
	eventbus.Emit(ctx, o.deps.Bus, domain.EventAgentRouted, inv.SessionID, dec)

	desc, prompt, history, direct := o.resolveTarget(dec, prep, inv.Query)
	span.SetAttributes(tracer.StringAttr("agent.name", desc.Name))

	streamCtx, finished := o.deps.Cancels.Register(ctx, inv.SessionID)
	out := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(out)
		defer span.End()
		defer finished()
		o.runStream(streamCtx, out, prep, inv, desc, prompt, history, direct)
	}()
	return out, nil
}

// runStream drives one streaming invocation and always emits exactly
// one terminal event before returning.
func (o *Orchestrator) runStream(ctx context.Context, out chan<- domain.StreamEvent, prep *prepared, inv Invocation, desc *domain.AgentDescriptor, prompt string, history []domain.Message, direct bool) {
	out <- domain.StreamEvent{Type: domain.StreamMetadata, Agent: desc.Name, SessionID: inv.SessionID}
	eventbus.Emit(ctx, o.deps.Bus, domain.EventStreamStarted, inv.SessionID, map[string]string{"agent": desc.Name})

	agent := o.agentFor(desc, direct)

	// Agents configured non-streaming still serve streaming callers:
	// one synchronous turn delivered as a single content event.
	if !desc.Streaming {
		ans, err := agent.Respond(ctx, prompt, history)
		if err != nil {
			o.finishAborted(ctx, out, prep, inv, desc, "", err)
			return
		}
		out <- domain.StreamEvent{Type: domain.StreamContent, Content: ans.Content}
		o.finishDone(ctx, out, prep, inv, desc, ans.Content)
		return
	}

	deltas, err := agent.RespondStream(ctx, prompt, history)
	if err != nil {
		o.finishAborted(ctx, out, prep, inv, desc, "", err)
		return
	}

	var acc strings.Builder
	var streamErr error
	completed := false
	for delta := range deltas {
		if delta.Err != nil {
			streamErr = delta.Err
			break
		}
		if delta.Content != "" {
			acc.WriteString(delta.Content)
			out <- domain.StreamEvent{Type: domain.StreamContent, Content: delta.Content}
		}
		if delta.Done {
			completed = true
		}
	}

	switch {
	case completed && streamErr == nil:
		o.finishDone(ctx, out, prep, inv, desc, acc.String())
	case streamErr != nil:
		o.finishAborted(ctx, out, prep, inv, desc, acc.String(), streamErr)
	default:
		// The delta channel closed without a terminal: the agent bailed
		// out on a dead context.
		err := ctx.Err()
		if err == nil {
			err = errors.New("stream ended without completion")
		}
		o.finishAborted(ctx, out, prep, inv, desc, acc.String(), err)
	}
}

func (o *Orchestrator) finishDone(ctx context.Context, out chan<- domain.StreamEvent, prep *prepared, inv Invocation, desc *domain.AgentDescriptor, content string) {
	o.persistTurn(prep.session, inv.Query, content, desc.Name)
	out <- domain.StreamEvent{Type: domain.StreamDone, SessionID: inv.SessionID}
	eventbus.Emit(ctx, o.deps.Bus, domain.EventStreamCompleted, inv.SessionID, map[string]any{
		"agent": desc.Name,
		"chars": len(content),
	})
}

// finishAborted closes a stream that did not complete, distinguishing a
// user cancel from a failure. Internal deadline expiry is a failure, so
// only context.Canceled takes the cancel path.
func (o *Orchestrator) finishAborted(ctx context.Context, out chan<- domain.StreamEvent, prep *prepared, inv Invocation, desc *domain.AgentDescriptor, partial string, err error) {
	if errors.Is(err, context.Canceled) {
		if partial != "" {
			o.persistTurn(prep.session, inv.Query, partial+cancelledSuffix, desc.Name)
		}
		o.deps.Logger.Info("stream cancelled",
			"session_id", inv.SessionID,
			"agent", desc.Name,
			"chars", len(partial),
		)
		out <- domain.StreamEvent{Type: domain.StreamCancelled, SessionID: inv.SessionID}
		eventbus.Emit(ctx, o.deps.Bus, domain.EventStreamCancelled, inv.SessionID, map[string]any{
			"agent": desc.Name,
			"chars": len(partial),
		})
		return
	}

	o.deps.Logger.Error("stream failed",
		"session_id", inv.SessionID,
		"agent", desc.Name,
		"error", err,
	)
	out <- domain.StreamEvent{Type: domain.StreamError, Error: err.Error(), SessionID: inv.SessionID}
	eventbus.Emit(ctx, o.deps.Bus, domain.EventStreamError, inv.SessionID, map[string]string{
		"agent": desc.Name,
		"error": err.Error(),
	})
}

// resolveTarget maps a routing decision onto the descriptor to invoke.
// Queries the supervisor answers itself get the direct-answer framing
// with no history and no tools.
func (o *Orchestrator) resolveTarget(dec domain.RouteDecision, prep *prepared, query string) (desc *domain.AgentDescriptor, prompt string, history []domain.Message, direct bool) {
	lower := strings.ToLower(dec.Agent)
	if prep.pool.Supervisor != nil && lower == prep.bp.Supervisor {
		collaborators := make(map[string]*domain.AgentDescriptor, len(prep.enabled))
		for name, d := range prep.enabled {
			if name != prep.bp.Supervisor {
				collaborators[name] = d
			}
		}
		return prep.pool.Supervisor, supervisorDirectPrompt(query, collaborators), nil, true
	}
	return prep.enabled[lower], query, prep.history, false
}

// agentFor builds the per-invocation agent. Direct supervisor answers
// run without tools or knowledge injection.
func (o *Orchestrator) agentFor(desc *domain.AgentDescriptor, direct bool) *Agent {
	if direct {
		d := *desc
		d.Tools = nil
		d.KnowledgeScopes = nil
		desc = &d
	}
	var tools domain.ToolExecutor
	if o.deps.Tools != nil && len(desc.Tools) > 0 {
		tools = o.deps.Tools.Scoped(desc.Tools)
	}
	return NewAgent(AgentDeps{
		Descriptor:    desc,
		Gateway:       o.deps.Gateway,
		Tools:         tools,
		Retriever:     o.deps.Retriever,
		Tracker:       o.deps.Tracker,
		Bus:           o.deps.Bus,
		Logger:        o.deps.Logger,
		MaxToolRounds: o.deps.MaxToolRounds,
	})
}

// persistTurn appends the user/assistant exchange and saves the session.
// A failed save is logged, never surfaced: the response already reached
// the caller.
func (o *Orchestrator) persistTurn(session *Session, query, content, agentName string) {
	now := time.Now()
	session.AddMessage(domain.Message{Role: domain.RoleUser, Content: query, Timestamp: now})
	session.AddMessage(domain.Message{Role: domain.RoleAssistant, Content: content, Name: agentName, Timestamp: now})
	if err := o.deps.Sessions.Save(session.ExternalKey); err != nil {
		o.deps.Logger.Warn("session save failed",
			"session_id", session.ExternalKey,
			"error", err,
		)
	}
}

// Cancel stops the in-flight stream for sessionID, reporting whether a
// live stream existed.
func (o *Orchestrator) Cancel(sessionID string) bool {
	return o.deps.Cancels.Cancel(sessionID)
}
