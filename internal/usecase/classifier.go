package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"maestro/internal/domain"
	"maestro/internal/infra/tracer"
)

const (
	classifierTemperature = 0.1
	classifierMaxTokens   = 50

	defaultClassifierTimeout = 10 * time.Second
)

// Classifier picks a specialist for a query with one fast,
// low-temperature model call. The returned confidence is a fixed
// heuristic per decision path, informational only.
type Classifier struct {
	gateway  ProviderGateway
	provider string
	model    string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClassifier creates a classifier calling model on provider. An
// empty provider uses the gateway's default failover chain.
func NewClassifier(gateway ProviderGateway, provider, model string, timeout time.Duration, logger *slog.Logger) *Classifier {
	if timeout <= 0 {
		timeout = defaultClassifierTimeout
	}
	return &Classifier{
		gateway:  gateway,
		provider: provider,
		model:    model,
		timeout:  timeout,
		logger:   logger,
	}
}

// Classify selects one of candidates for the query. candidates must be
// non-empty; defaultAgent is the blueprint's lowercase default specialist
// or empty. Classify never fails: every path resolves to a candidate.
func (c *Classifier) Classify(ctx context.Context, query string, candidates []*domain.AgentDescriptor, defaultAgent string) domain.RouteDecision {
	ctx, span := tracer.StartSpan(ctx, "router.classify",
		trace.WithAttributes(tracer.IntAttr("router.candidates", len(candidates))),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := domain.ChatRequest{
		Model: c.model,
		Messages: []domain.Message{{
			Role:      domain.RoleUser,
			Content:   routingPrompt(query, candidates),
			Timestamp: time.Now(),
		}},
		MaxTokens:   classifierMaxTokens,
		Temperature: classifierTemperature,
	}

	resp, err := c.gateway.Chat(ctx, req, c.provider)
	if err != nil {
		c.logger.Warn("classifier call failed", "error", err)
		tracer.RecordError(span, err)
		if d := findByName(candidates, defaultAgent); d != nil {
			return decision(d.Name, domain.RouteDefault, 0.3, "classifier error, default agent")
		}
		return decision(candidates[0].Name, domain.RouteFallback, 0.2, "classifier error, first candidate")
	}

	text := strings.ToLower(strings.TrimSpace(resp.Message.Content))
	for _, d := range candidates {
		if strings.Contains(text, strings.ToLower(d.Name)) {
			c.logger.Debug("classifier matched", "agent", d.Name, "response", text)
			return decision(d.Name, domain.RouteClassifier, 0.9, "classifier match")
		}
	}

	c.logger.Debug("classifier matched no candidate", "response", text)
	if d := findByName(candidates, defaultAgent); d != nil {
		return decision(d.Name, domain.RouteDefault, 0.6, "no classifier match, default agent")
	}
	return decision(candidates[0].Name, domain.RouteFallback, 0.4, "no classifier match, first candidate")
}

func decision(agent string, method domain.RouteMethod, confidence float64, reason string) domain.RouteDecision {
	return domain.RouteDecision{
		Agent:      agent,
		Method:     method,
		Confidence: confidence,
		Reason:     reason,
	}
}

// findByName resolves a lowercase agent name against candidates, nil
// when name is empty or absent.
func findByName(candidates []*domain.AgentDescriptor, name string) *domain.AgentDescriptor {
	if name == "" {
		return nil
	}
	for _, d := range candidates {
		if strings.ToLower(d.Name) == name {
			return d
		}
	}
	return nil
}
