package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/domain"
)

func newTestRouter(g *fakeGateway) *Router {
	return NewRouter(NewClassifier(g, "", "classifier-model", time.Second, discardLogger()), discardLogger())
}

func fullPool() *RoutingPool {
	return &RoutingPool{
		Supervisor: testAgent("Supervisor", "routes queries"),
		Candidates: []*domain.AgentDescriptor{
			testAgent("KubernetesExpert", "k8s"),
			testAgent("PythonExpert", "python"),
		},
		DefaultAgent: "kubernetesexpert",
	}
}

func TestRouteDirectAnswer(t *testing.T) {
	g := &fakeGateway{}
	r := newTestRouter(g)

	for _, query := range []string{"hello", "Hi there!", "what can you do?", "thanks a lot"} {
		dec, err := r.Route(context.Background(), query, fullPool())
		require.NoError(t, err, "query %q", query)
		assert.Equal(t, "Supervisor", dec.Agent, "query %q", query)
		assert.Equal(t, domain.RouteDirect, dec.Method, "query %q", query)
	}
	assert.Equal(t, 0, g.callCount(), "direct answers must bypass the classifier")
}

func TestRouteDirectNeedsSupervisor(t *testing.T) {
	g := &fakeGateway{responses: []*domain.ChatResponse{textResponse("PythonExpert")}}
	r := newTestRouter(g)

	pool := fullPool()
	pool.Supervisor = nil

	dec, err := r.Route(context.Background(), "hello", pool)
	require.NoError(t, err)
	assert.Equal(t, "PythonExpert", dec.Agent, "without a supervisor small talk goes to the classifier")
	assert.Equal(t, 1, g.callCount())
}

func TestRouteExplicitRequest(t *testing.T) {
	g := &fakeGateway{}
	r := newTestRouter(g)

	dec, err := r.Route(context.Background(), "ask the kubernetes expert about my deployment manifest", fullPool())
	require.NoError(t, err)
	assert.Equal(t, "KubernetesExpert", dec.Agent)
	assert.Equal(t, domain.RouteExplicit, dec.Method)
	assert.Equal(t, 0, g.callCount())
}

func TestRouteExplicitDisabledFallsThrough(t *testing.T) {
	g := &fakeGateway{responses: []*domain.ChatResponse{textResponse("PythonExpert")}}
	r := newTestRouter(g)

	pool := fullPool()
	pool.Candidates = []*domain.AgentDescriptor{testAgent("PythonExpert", "python")}

	dec, err := r.Route(context.Background(), "ask the kubernetes expert please", pool)
	require.NoError(t, err)
	assert.Equal(t, "PythonExpert", dec.Agent)
	assert.Equal(t, domain.RouteClassifier, dec.Method)
	assert.Equal(t, 1, g.callCount(), "disabled explicit target must fall through to classification")
}

func TestRouteClassifierDelegation(t *testing.T) {
	g := &fakeGateway{responses: []*domain.ChatResponse{textResponse("KubernetesExpert")}}
	r := newTestRouter(g)

	dec, err := r.Route(context.Background(), "my ingress returns 502", fullPool())
	require.NoError(t, err)
	assert.Equal(t, "KubernetesExpert", dec.Agent)
	assert.Equal(t, domain.RouteClassifier, dec.Method)
	assert.Equal(t, 0.9, dec.Confidence)
}

func TestRouteSupervisorOnly(t *testing.T) {
	g := &fakeGateway{}
	r := newTestRouter(g)

	pool := &RoutingPool{Supervisor: testAgent("Supervisor", "routes")}
	dec, err := r.Route(context.Background(), "explain my ingress problem", pool)
	require.NoError(t, err)
	assert.Equal(t, "Supervisor", dec.Agent)
	assert.Equal(t, domain.RouteFallback, dec.Method)
	assert.Equal(t, 0, g.callCount(), "no candidates means nothing to classify")
}

func TestRouteEmptyPool(t *testing.T) {
	r := newTestRouter(&fakeGateway{})

	_, err := r.Route(context.Background(), "anyone there?", &RoutingPool{})
	assert.ErrorIs(t, err, domain.ErrNoAgentAvailable)
}

func TestNewRoutingPool(t *testing.T) {
	bp := &LoadedBlueprint{
		Slug:         "devops",
		Supervisor:   "supervisor",
		DefaultAgent: "pythonexpert",
	}
	enabled := map[string]*domain.AgentDescriptor{
		"supervisor":       testAgent("Supervisor", "routes"),
		"pythonexpert":     testAgent("PythonExpert", "python"),
		"kubernetesexpert": testAgent("KubernetesExpert", "k8s"),
	}

	pool := NewRoutingPool(bp, enabled)
	require.NotNil(t, pool.Supervisor)
	assert.Equal(t, "Supervisor", pool.Supervisor.Name)
	assert.Equal(t, "pythonexpert", pool.DefaultAgent)
	require.Len(t, pool.Candidates, 2)
	assert.Equal(t, "KubernetesExpert", pool.Candidates[0].Name, "candidates sorted by name")
	assert.Equal(t, "PythonExpert", pool.Candidates[1].Name)
}

func TestNewRoutingPoolSupervisorDisabled(t *testing.T) {
	bp := &LoadedBlueprint{Slug: "devops", Supervisor: "supervisor"}
	enabled := map[string]*domain.AgentDescriptor{
		"pythonexpert": testAgent("PythonExpert", "python"),
	}

	pool := NewRoutingPool(bp, enabled)
	assert.Nil(t, pool.Supervisor)
	assert.Len(t, pool.Candidates, 1)
	assert.False(t, pool.Empty())
}
