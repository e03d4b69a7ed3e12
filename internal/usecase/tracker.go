package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"maestro/internal/domain"
	"maestro/internal/usecase/eventbus"
)

// UsageRecord is the payload published with EventUsageRecorded after
// every gateway call an agent makes.
type UsageRecord struct {
	Agent            string `json:"agent"`
	Model            string `json:"model"`
	Streaming        bool   `json:"streaming"`
	DurationMS       int64  `json:"duration_ms"`
	FirstTokenMS     int64  `json:"first_token_ms,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Error            string `json:"error,omitempty"`
}

// Tracker records latency and token usage for agent LLM calls. A nil
// Tracker is valid and records nothing.
type Tracker struct {
	bus    domain.EventBus
	logger *slog.Logger
}

// NewTracker creates a tracker publishing to bus.
func NewTracker(bus domain.EventBus, logger *slog.Logger) *Tracker {
	return &Tracker{bus: bus, logger: logger}
}

// Begin opens a tracked call for one agent invocation.
func (t *Tracker) Begin(ctx context.Context, agent, model string, streaming bool) *TrackedCall {
	if t == nil {
		return nil
	}
	return &TrackedCall{
		tracker:   t,
		agent:     agent,
		model:     model,
		streaming: streaming,
		started:   time.Now(),
	}
}

// TrackedCall measures one agent invocation from Begin to Finish.
type TrackedCall struct {
	tracker   *Tracker
	agent     string
	model     string
	streaming bool
	started   time.Time

	ttftOnce sync.Once
	ttft     time.Duration
}

// FirstToken marks time-to-first-token. Only the first call counts.
func (c *TrackedCall) FirstToken() {
	if c == nil {
		return
	}
	c.ttftOnce.Do(func() {
		c.ttft = time.Since(c.started)
	})
}

// Finish closes the call, logs it and publishes a usage record.
func (c *TrackedCall) Finish(ctx context.Context, usage domain.Usage, err error) {
	if c == nil {
		return
	}
	duration := time.Since(c.started)

	rec := UsageRecord{
		Agent:            c.agent,
		Model:            c.model,
		Streaming:        c.streaming,
		DurationMS:       duration.Milliseconds(),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	}
	if c.ttft > 0 {
		rec.FirstTokenMS = c.ttft.Milliseconds()
	}

	if err != nil {
		rec.Error = err.Error()
		c.tracker.logger.Warn("llm call failed",
			"agent", c.agent,
			"model", c.model,
			"duration_ms", rec.DurationMS,
			"error", err,
		)
	} else {
		attrs := []any{
			"agent", c.agent,
			"model", c.model,
			"streaming", c.streaming,
			"duration_ms", rec.DurationMS,
			"total_tokens", usage.TotalTokens,
		}
		if rec.FirstTokenMS > 0 {
			attrs = append(attrs, "first_token_ms", rec.FirstTokenMS)
		}
		c.tracker.logger.Info("llm call finished", attrs...)
	}

	eventbus.Emit(ctx, c.tracker.bus, domain.EventUsageRecorded, domain.SessionIDFromContext(ctx), rec)
}
