package domain

// RouteMethod identifies which routing stage produced a decision.
type RouteMethod string

const (
	RouteDirect     RouteMethod = "direct"
	RouteExplicit   RouteMethod = "explicit"
	RouteClassifier RouteMethod = "classifier"
	RouteDefault    RouteMethod = "default"
	RouteFallback   RouteMethod = "fallback"
)

// RouteDecision is the outcome of routing one query. Confidence is
// informational only; callers act on Agent and Method.
type RouteDecision struct {
	Agent      string      `json:"agent"`
	Method     RouteMethod `json:"method"`
	Confidence float64     `json:"confidence"`
	Reason     string      `json:"reason,omitempty"`
}
