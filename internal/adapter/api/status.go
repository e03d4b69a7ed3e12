package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"maestro/internal/domain"
)

// Metrics tracks counters surfaced by the status endpoint. Counters are
// fed by bus subscriptions, so they cover every entry point, not just
// this server's clients.
type Metrics struct {
	QueriesTotal    atomic.Int64
	SessionsTotal   atomic.Int64
	StreamsTotal    atomic.Int64
	CancelsTotal    atomic.Int64
	LLMCallsTotal   atomic.Int64
	LLMErrorsTotal  atomic.Int64
	ToolCallsTotal  atomic.Int64
	ToolErrorsTotal atomic.Int64
	TokensTotal     atomic.Int64
}

// NewMetrics subscribes counters to bus traffic. A nil bus yields
// counters that stay at zero.
func NewMetrics(bus domain.EventBus) *Metrics {
	m := &Metrics{}
	if bus == nil {
		return m
	}

	bus.Subscribe(domain.EventQueryReceived, func(_ context.Context, _ domain.Event) {
		m.QueriesTotal.Add(1)
	})
	bus.Subscribe(domain.EventSessionCreated, func(_ context.Context, _ domain.Event) {
		m.SessionsTotal.Add(1)
	})
	bus.Subscribe(domain.EventStreamStarted, func(_ context.Context, _ domain.Event) {
		m.StreamsTotal.Add(1)
	})
	bus.Subscribe(domain.EventStreamCancelled, func(_ context.Context, _ domain.Event) {
		m.CancelsTotal.Add(1)
	})
	bus.Subscribe(domain.EventLLMCallCompleted, func(_ context.Context, _ domain.Event) {
		m.LLMCallsTotal.Add(1)
	})
	bus.Subscribe(domain.EventLLMCallFailed, func(_ context.Context, _ domain.Event) {
		m.LLMErrorsTotal.Add(1)
	})
	bus.Subscribe(domain.EventToolCallStarted, func(_ context.Context, _ domain.Event) {
		m.ToolCallsTotal.Add(1)
	})
	bus.Subscribe(domain.EventToolCallFinished, func(_ context.Context, e domain.Event) {
		var p struct {
			IsError bool `json:"is_error"`
		}
		if err := json.Unmarshal(e.Payload, &p); err == nil && p.IsError {
			m.ToolErrorsTotal.Add(1)
		}
	})
	bus.Subscribe(domain.EventUsageRecorded, func(_ context.Context, e domain.Event) {
		var rec struct {
			TotalTokens int `json:"total_tokens"`
		}
		if err := json.Unmarshal(e.Payload, &rec); err == nil {
			m.TokensTotal.Add(int64(rec.TotalTokens))
		}
	})

	return m
}

func (m *Metrics) snapshot() CounterSnapshot {
	return CounterSnapshot{
		Queries:    m.QueriesTotal.Load(),
		Sessions:   m.SessionsTotal.Load(),
		Streams:    m.StreamsTotal.Load(),
		Cancels:    m.CancelsTotal.Load(),
		LLMCalls:   m.LLMCallsTotal.Load(),
		LLMErrors:  m.LLMErrorsTotal.Load(),
		ToolCalls:  m.ToolCallsTotal.Load(),
		ToolErrors: m.ToolErrorsTotal.Load(),
		Tokens:     m.TokensTotal.Load(),
	}
}

// StatusResponse is the JSON body returned by GET /api/status.
type StatusResponse struct {
	Service   ServiceStatus           `json:"service"`
	Providers []domain.ProviderStatus `json:"providers"`
	Sessions  SessionCounts           `json:"sessions"`
	Streams   StreamCounts            `json:"streams"`
	Counters  CounterSnapshot         `json:"counters"`
}

// ServiceStatus holds service overview info.
type ServiceStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// SessionCounts holds session totals.
type SessionCounts struct {
	Active int `json:"active"`
}

// StreamCounts holds in-flight stream totals.
type StreamCounts struct {
	Active int `json:"active"`
}

// CounterSnapshot is a point-in-time copy of the metric counters.
type CounterSnapshot struct {
	Queries    int64 `json:"queries"`
	Sessions   int64 `json:"sessions"`
	Streams    int64 `json:"streams"`
	Cancels    int64 `json:"cancels"`
	LLMCalls   int64 `json:"llm_calls"`
	LLMErrors  int64 `json:"llm_errors"`
	ToolCalls  int64 `json:"tool_calls"`
	ToolErrors int64 `json:"tool_errors"`
	Tokens     int64 `json:"tokens"`
}

// RegisterRESTHandlers registers the HTTP endpoints and returns the
// metrics the status endpoint reads. /healthz and /readyz stay open for
// probes; /api/status requires a token.
func RegisterRESTHandlers(s *Server, deps HandlerDeps, version string) *Metrics {
	startTime := time.Now()
	metrics := NewMetrics(deps.Bus)

	authMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if token == "" {
				token = r.Header.Get("Authorization")
				if len(token) > 7 && token[:7] == "Bearer " {
					token = token[7:]
				}
			}
			if _, err := s.auth.Authenticate(token); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	s.RegisterHTTPRoute("/healthz", healthzHandler())
	s.RegisterHTTPRoute("/readyz", readyzHandler(deps))
	s.RegisterHTTPRoute("/api/status", authMiddleware(statusHandler(deps, startTime, metrics, version)))

	return metrics
}

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// readyzHandler reports ready once at least one provider is healthy.
// Without a gateway there is nothing to wait for.
func readyzHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if deps.Providers == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		for _, st := range deps.Providers.Status() {
			if st.Healthy {
				writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
				return
			}
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
}

func statusHandler(deps HandlerDeps, startTime time.Time, metrics *Metrics, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var providers []domain.ProviderStatus
		if deps.Providers != nil {
			providers = sortedStatuses(deps.Providers.Status())
		}

		resp := StatusResponse{
			Service: ServiceStatus{
				Name:          "maestro",
				Version:       version,
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			},
			Providers: providers,
			Sessions:  SessionCounts{Active: deps.Sessions.Count()},
			Streams:   StreamCounts{Active: deps.Cancels.Active()},
			Counters:  metrics.snapshot(),
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
