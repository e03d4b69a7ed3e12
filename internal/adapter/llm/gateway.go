package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"maestro/internal/domain"
	"maestro/internal/infra/tracer"
)

// Gateway defaults.
const (
	defaultMaxFailures    = 3
	defaultRequestTimeout = 120 * time.Second
	defaultHealthInterval = 60 * time.Second
	healthProbeTimeout    = 10 * time.Second
)

// GatewayConfig controls the gateway's failover behavior.
type GatewayConfig struct {
	// DefaultProvider is used when no fallback order is configured.
	DefaultProvider string
	// FallbackEnabled turns the multi-provider walk on. When false the
	// gateway only ever talks to the default (or hinted) provider.
	FallbackEnabled bool
	// FallbackOrder is the provider try-order. Empty means the default
	// provider followed by every other registered provider.
	FallbackOrder []string
	// MaxFailures is the consecutive-failure count at which a provider
	// is marked unhealthy and skipped by the healthy filter.
	MaxFailures int
	// RequestTimeout bounds each individual provider attempt.
	RequestTimeout time.Duration
	// HealthInterval is the suggested period between background probes.
	// The gateway does not tick by itself; the scheduler drives HealthCheck.
	HealthInterval time.Duration
}

// providerHealth is the gateway's mutable view of one provider.
type providerHealth struct {
	healthy     bool
	failures    int
	lastErr     string
	lastChecked time.Time
}

// Gateway fronts a Registry of providers with health-aware failover.
// Chat and ChatStream walk the fallback chain sequentially until a provider
// answers; per-provider consecutive-failure counts decide who is in the
// healthy pool. Health entries are created when a provider is first seen
// and never removed.
type Gateway struct {
	registry *Registry
	cfg      GatewayConfig
	bus      domain.EventBus
	logger   *slog.Logger

	mu     sync.Mutex
	health map[string]*providerHealth
}

// NewGateway creates a gateway over registry. bus may be nil to disable
// provider lifecycle events.
func NewGateway(registry *Registry, cfg GatewayConfig, bus domain.EventBus, logger *slog.Logger) *Gateway {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaultHealthInterval
	}

	g := &Gateway{
		registry: registry,
		cfg:      cfg,
		bus:      bus,
		logger:   logger,
		health:   make(map[string]*providerHealth),
	}
	for _, name := range registry.List() {
		g.health[name] = &providerHealth{healthy: true}
	}
	return g
}

// ChatOption adjusts a single gateway call.
type ChatOption func(*chatOptions)

type chatOptions struct {
	provider string
}

// WithProvider pins the call to one provider and disables fallback; that
// provider's failure propagates to the caller as-is.
func WithProvider(name string) ChatOption {
	return func(o *chatOptions) { o.provider = name }
}

func applyChatOptions(opts []ChatOption) chatOptions {
	var o chatOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Chat sends the request to the first provider in the try-order that can
// answer it. Retriable failures advance the walk; a non-retriable failure
// aborts it immediately. When every candidate has failed, the last error
// is returned wrapped in domain.ErrAllProvidersFailed.
func (g *Gateway) Chat(ctx context.Context, req domain.ChatRequest, opts ...ChatOption) (*domain.ChatResponse, error) {
	o := applyChatOptions(opts)

	ctx, span := tracer.StartSpan(ctx, "gateway.chat",
		trace.WithAttributes(tracer.StringAttr("llm.model", req.Model)),
	)
	defer span.End()

	if o.provider != "" {
		resp, err := g.chatPinned(ctx, o.provider, req)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
		tracer.SetOK(span)
		return resp, nil
	}

	order := g.tryOrder()
	if len(order) == 0 {
		err := domain.NewDomainError("Gateway.Chat", domain.ErrProviderNotFound, "no providers registered")
		tracer.RecordError(span, err)
		return nil, err
	}

	var lastErr error
	var attempted []string
	for _, name := range order {
		provider, err := g.registry.Get(name)
		if err != nil {
			// Stale name in the configured chain.
			continue
		}

		resp, err := g.attemptChat(ctx, provider, req)
		if err == nil {
			g.recordSuccess(ctx, name)
			if len(attempted) > 0 {
				g.publishFallback(ctx, attempted, name)
			}
			span.SetAttributes(
				tracer.StringAttr("llm.provider", name),
				tracer.IntAttr("llm.attempts", len(attempted)+1),
			)
			tracer.SetOK(span)
			return resp, nil
		}

		// The caller giving up is not the provider's fault.
		if ctx.Err() != nil {
			tracer.RecordError(span, ctx.Err())
			return nil, domain.WrapOp("gateway chat", ctx.Err())
		}

		g.recordFailure(ctx, name, err)
		attempted = append(attempted, name)
		lastErr = err

		if !domain.IsRetriableProviderError(err) {
			g.logger.Warn("provider failed fatally, fallback stopped",
				"provider", name, "error", err)
			tracer.RecordError(span, err)
			return nil, err
		}
		g.logger.Warn("provider failed, trying next candidate",
			"provider", name, "error", err)
	}

	if lastErr == nil {
		err := domain.NewDomainError("Gateway.Chat", domain.ErrProviderNotFound, "no usable provider in chain")
		tracer.RecordError(span, err)
		return nil, err
	}
	err := fmt.Errorf("%w: tried [%s]: %w",
		domain.ErrAllProvidersFailed, strings.Join(attempted, ", "), lastErr)
	tracer.RecordError(span, err)
	return nil, err
}

// ChatStream is the streaming variant of Chat. Fallback only happens while
// establishing the stream: once a provider has started delivering deltas, a
// mid-stream failure reaches the caller as a terminal Err delta instead of
// a silent switch that would duplicate partial output.
func (g *Gateway) ChatStream(ctx context.Context, req domain.ChatRequest, opts ...ChatOption) (<-chan domain.StreamDelta, error) {
	o := applyChatOptions(opts)

	if o.provider != "" {
		return g.streamPinned(ctx, o.provider, req)
	}

	order := g.tryOrder()
	var lastErr error
	var attempted []string
	for _, name := range order {
		provider, err := g.registry.Get(name)
		if err != nil {
			continue
		}
		sp, ok := provider.(domain.StreamingLLMProvider)
		if !ok {
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
		ch, err := sp.ChatStream(attemptCtx, req)
		if err == nil {
			if len(attempted) > 0 {
				g.publishFallback(ctx, attempted, name)
			}
			return g.relay(attemptCtx, cancel, name, ch), nil
		}
		cancel()

		if ctx.Err() != nil {
			return nil, domain.WrapOp("gateway chat stream", ctx.Err())
		}

		g.recordFailure(ctx, name, err)
		attempted = append(attempted, name)
		lastErr = err

		if !domain.IsRetriableProviderError(err) {
			g.logger.Warn("provider stream failed fatally, fallback stopped",
				"provider", name, "error", err)
			return nil, err
		}
		g.logger.Warn("provider stream failed, trying next candidate",
			"provider", name, "error", err)
	}

	if lastErr == nil {
		return nil, domain.NewDomainError("Gateway.ChatStream", domain.ErrProviderNotFound, "no streaming-capable provider")
	}
	return nil, fmt.Errorf("%w: tried [%s]: %w",
		domain.ErrAllProvidersFailed, strings.Join(attempted, ", "), lastErr)
}

// HealthCheck probes the named providers, or all registered providers when
// names is empty, off the request path. A successful probe resets the
// provider's failure counter; a failed probe counts like a retriable
// request failure.
func (g *Gateway) HealthCheck(ctx context.Context, names ...string) map[string]bool {
	if len(names) == 0 {
		names = g.registry.List()
	}

	results := make(map[string]bool, len(names))
	for _, name := range names {
		provider, err := g.registry.Get(name)
		if err != nil {
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		err = probeProvider(probeCtx, provider)
		cancel()

		if err != nil {
			g.recordFailure(ctx, name, err)
			results[name] = false
			continue
		}
		g.recordSuccess(ctx, name)
		results[name] = true
	}
	return results
}

// Status returns a point-in-time snapshot of every provider's health.
func (g *Gateway) Status() map[string]domain.ProviderStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]domain.ProviderStatus, len(g.health))
	for name, h := range g.health {
		out[name] = domain.ProviderStatus{
			Name:                name,
			Healthy:             h.healthy,
			ConsecutiveFailures: h.failures,
			LastError:           h.lastErr,
			LastChecked:         h.lastChecked,
		}
	}
	return out
}

// Providers returns the registered provider names.
func (g *Gateway) Providers() []string {
	return g.registry.List()
}

// Models lists the models served by the named provider.
func (g *Gateway) Models(ctx context.Context, name string) ([]string, error) {
	provider, err := g.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return provider.Models(ctx)
}

// --- candidate selection ---

// chain is the configured try-order before health filtering.
func (g *Gateway) chain() []string {
	if !g.cfg.FallbackEnabled {
		if g.cfg.DefaultProvider != "" {
			return []string{g.cfg.DefaultProvider}
		}
		return g.registry.List()
	}
	if len(g.cfg.FallbackOrder) > 0 {
		return g.cfg.FallbackOrder
	}

	// No explicit order: default provider first, everyone else after.
	order := make([]string, 0)
	if g.cfg.DefaultProvider != "" {
		order = append(order, g.cfg.DefaultProvider)
	}
	for _, name := range g.registry.List() {
		if name != g.cfg.DefaultProvider {
			order = append(order, name)
		}
	}
	return order
}

// tryOrder computes the candidate walk: the chain filtered to healthy
// providers, or, when that filter leaves nothing, every registered provider
// in chain-first order (desperate mode).
func (g *Gateway) tryOrder() []string {
	chain := g.chain()
	registered := g.registry.List()

	g.mu.Lock()
	healthy := make([]string, 0, len(chain))
	for _, name := range chain {
		h, ok := g.health[name]
		if !ok || h.healthy {
			healthy = append(healthy, name)
		}
	}
	g.mu.Unlock()

	if len(healthy) > 0 {
		return healthy
	}

	// Desperate mode: every chain member is unhealthy, walk the full set.
	seen := make(map[string]bool, len(chain))
	order := make([]string, 0, len(registered))
	for _, name := range chain {
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	for _, name := range registered {
		if !seen[name] {
			order = append(order, name)
		}
	}
	return order
}

// --- single attempts ---

// attemptChat runs one provider call under the per-attempt deadline.
func (g *Gateway) attemptChat(ctx context.Context, provider domain.LLMProvider, req domain.ChatRequest) (*domain.ChatResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()
	return provider.Chat(attemptCtx, req)
}

// chatPinned serves a WithProvider call: exactly one attempt, the failure
// propagates unwrapped. Outcomes still feed the provider's health record.
func (g *Gateway) chatPinned(ctx context.Context, name string, req domain.ChatRequest) (*domain.ChatResponse, error) {
	provider, err := g.registry.Get(name)
	if err != nil {
		return nil, err
	}

	resp, err := g.attemptChat(ctx, provider, req)
	if err != nil {
		if ctx.Err() == nil {
			g.recordFailure(ctx, name, err)
		}
		return nil, err
	}
	g.recordSuccess(ctx, name)
	return resp, nil
}

func (g *Gateway) streamPinned(ctx context.Context, name string, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	provider, err := g.registry.Get(name)
	if err != nil {
		return nil, err
	}
	sp, ok := provider.(domain.StreamingLLMProvider)
	if !ok {
		return nil, fmt.Errorf("provider %q does not support streaming", name)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	ch, err := sp.ChatStream(attemptCtx, req)
	if err != nil {
		cancel()
		if ctx.Err() == nil {
			g.recordFailure(ctx, name, err)
		}
		return nil, err
	}
	return g.relay(attemptCtx, cancel, name, ch), nil
}

// relay forwards provider deltas to the caller, records the stream outcome,
// and keeps the attempt context alive until the stream finishes.
func (g *Gateway) relay(ctx context.Context, cancel context.CancelFunc, name string, in <-chan domain.StreamDelta) <-chan domain.StreamDelta {
	out := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(out)
		defer cancel()

		for delta := range in {
			if delta.Err != nil {
				g.recordFailure(ctx, name, delta.Err)
				select {
				case out <- delta:
				case <-ctx.Done():
				}
				return
			}

			select {
			case out <- delta:
			case <-ctx.Done():
				return
			}

			if delta.Done {
				g.recordSuccess(ctx, name)
				return
			}
		}

		// Upstream closed without a terminal delta.
		if err := ctx.Err(); err != nil {
			g.recordFailure(ctx, name, err)
			select {
			case out <- domain.StreamDelta{Err: err}:
			default:
			}
			return
		}

		// Some OpenAI-compatible servers end the stream without [DONE];
		// a clean close still counts as success.
		g.recordSuccess(ctx, name)
		select {
		case out <- domain.StreamDelta{Done: true}:
		case <-ctx.Done():
		}
	}()
	return out
}

// probeProvider prefers a native liveness endpoint and falls back to a
// one-token chat.
func probeProvider(ctx context.Context, p domain.LLMProvider) error {
	if hc, ok := p.(domain.HealthCheckedProvider); ok {
		return hc.HealthCheck(ctx)
	}
	return chatProbe(ctx, p)
}

// --- health bookkeeping ---

// recordSuccess resets the provider's failure counter. Any success, request
// or probe, restores the provider to the healthy pool.
func (g *Gateway) recordSuccess(ctx context.Context, name string) {
	g.mu.Lock()
	h := g.healthFor(name)
	recovered := !h.healthy
	h.healthy = true
	h.failures = 0
	h.lastErr = ""
	h.lastChecked = time.Now()
	g.mu.Unlock()

	if recovered {
		g.logger.Info("provider recovered", "provider", name)
		g.publish(ctx, domain.EventProviderRecovered, providerEventPayload{Provider: name})
	}
}

// recordFailure increments the consecutive-failure counter and flips the
// provider unhealthy at the threshold. Increment and threshold compare
// happen in one critical section so concurrent failures cannot race past
// the threshold.
func (g *Gateway) recordFailure(ctx context.Context, name string, err error) {
	g.mu.Lock()
	h := g.healthFor(name)
	h.failures++
	h.lastErr = err.Error()
	h.lastChecked = time.Now()
	wentUnhealthy := h.healthy && h.failures >= g.cfg.MaxFailures
	if wentUnhealthy {
		h.healthy = false
	}
	failures := h.failures
	g.mu.Unlock()

	if wentUnhealthy {
		g.logger.Warn("provider marked unhealthy",
			"provider", name, "consecutive_failures", failures, "error", err)
		g.publish(ctx, domain.EventProviderUnhealthy, providerEventPayload{
			Provider: name, Failures: failures, Error: err.Error(),
		})
	}
}

// healthFor returns the entry for name, creating it on first touch.
// Callers must hold g.mu.
func (g *Gateway) healthFor(name string) *providerHealth {
	h, ok := g.health[name]
	if !ok {
		h = &providerHealth{healthy: true}
		g.health[name] = h
	}
	return h
}

// --- events ---

type providerEventPayload struct {
	Provider string   `json:"provider"`
	Failures int      `json:"failures,omitempty"`
	Error    string   `json:"error,omitempty"`
	Failed   []string `json:"failed,omitempty"`
}

func (g *Gateway) publish(ctx context.Context, typ domain.EventType, payload providerEventPayload) {
	if g.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	g.bus.Publish(ctx, domain.Event{
		Type:      typ,
		Timestamp: time.Now(),
		SessionID: domain.SessionIDFromContext(ctx),
		Payload:   data,
	})
}

func (g *Gateway) publishFallback(ctx context.Context, attempted []string, winner string) {
	g.logger.Info("provider fallback succeeded",
		"provider", winner, "failed", attempted)
	g.publish(ctx, domain.EventProviderFallback, providerEventPayload{
		Provider: winner, Failed: attempted,
	})
}
