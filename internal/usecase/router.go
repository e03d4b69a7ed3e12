package usecase

import (
	"context"
	"log/slog"
	"sort"

	"maestro/internal/domain"
	"maestro/internal/infra/tracer"
)

// RoutingPool is the enabled-agent view one routing call works against.
// Candidates excludes the supervisor and is sorted by lowercase name so
// first-candidate fallbacks are deterministic.
type RoutingPool struct {
	Supervisor   *domain.AgentDescriptor
	Candidates   []*domain.AgentDescriptor
	DefaultAgent string
}

// NewRoutingPool builds the pool for one invocation from the enabled
// subset of a blueprint's agents. enabled is keyed by lowercase name.
func NewRoutingPool(bp *LoadedBlueprint, enabled map[string]*domain.AgentDescriptor) *RoutingPool {
	pool := &RoutingPool{DefaultAgent: bp.DefaultAgent}
	names := make([]string, 0, len(enabled))
	for name := range enabled {
		if name == bp.Supervisor {
			pool.Supervisor = enabled[name]
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pool.Candidates = append(pool.Candidates, enabled[name])
	}
	return pool
}

// Empty reports whether no agent at all is enabled.
func (p *RoutingPool) Empty() bool {
	return p.Supervisor == nil && len(p.Candidates) == 0
}

// Router decides which agent answers a query. It holds no per-session
// state; every call works only on the query and the supplied pool.
type Router struct {
	classifier *Classifier
	logger     *slog.Logger
}

// NewRouter creates a router delegating unmatched queries to classifier.
func NewRouter(classifier *Classifier, logger *slog.Logger) *Router {
	return &Router{classifier: classifier, logger: logger}
}

// Route resolves the query to exactly one enabled agent. Decision
// order: conversational queries go to the supervisor, explicit
// specialist mentions go to that specialist, everything else is
// classified. Returns ErrNoAgentAvailable only when the pool is empty.
func (r *Router) Route(ctx context.Context, query string, pool *RoutingPool) (domain.RouteDecision, error) {
	ctx, span := tracer.StartSpan(ctx, "router.route")
	defer span.End()

	if pool.Empty() {
		err := domain.WrapOp("router.route", domain.ErrNoAgentAvailable)
		tracer.RecordError(span, err)
		return domain.RouteDecision{}, err
	}

	dec := r.route(ctx, query, pool)
	span.SetAttributes(
		tracer.StringAttr("route.agent", dec.Agent),
		tracer.StringAttr("route.method", string(dec.Method)),
	)
	tracer.SetOK(span)
	r.logger.Debug("query routed",
		"agent", dec.Agent,
		"method", dec.Method,
		"confidence", dec.Confidence,
		"reason", dec.Reason,
	)
	return dec, nil
}

func (r *Router) route(ctx context.Context, query string, pool *RoutingPool) domain.RouteDecision {
	if pool.Supervisor != nil && isDirectAnswerQuery(query) {
		return decision(pool.Supervisor.Name, domain.RouteDirect, 1.0, "conversational query")
	}

	if name := explicitAgentRequest(query); name != "" {
		if d := findByName(pool.Candidates, name); d != nil {
			return decision(d.Name, domain.RouteExplicit, 1.0, "explicit request")
		}
		// Requested specialist is unknown or disabled: fall through to
		// classification over whoever is enabled.
	}

	if len(pool.Candidates) == 0 {
		return decision(pool.Supervisor.Name, domain.RouteFallback, 1.0, "no specialists enabled")
	}

	return r.classifier.Classify(ctx, query, pool.Candidates, pool.DefaultAgent)
}
