package multiagent_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencoreharness/agentcore/internal/multiagent"
)

func TestRouteReturnsCapableProfile(t *testing.T) {
	r := multiagent.NewRouter(multiagent.Config{})
	r.Register(multiagent.AgentProfile{ID: "researcher", Capabilities: []string{"research"}})
	r.Register(multiagent.AgentProfile{ID: "coder", Capabilities: []string{"code_review"}})

	id, err := r.Route("research", "")
	require.NoError(t, err)
	require.Equal(t, "researcher", id)
}

func TestRouteErrorsWhenNoProfileServesCapability(t *testing.T) {
	r := multiagent.NewRouter(multiagent.Config{})
	_, err := r.Route("unknown_capability", "")
	require.Error(t, err)
}

func TestRouteFallsBackToChainWhenCapabilityUnmatched(t *testing.T) {
	r := multiagent.NewRouter(multiagent.Config{FallbackChains: map[string][]string{
		"default": {"generalist"},
	}})
	r.Register(multiagent.AgentProfile{ID: "generalist", Capabilities: []string{"general"}})

	id, err := r.Route("niche_capability", "default")
	require.NoError(t, err)
	require.Equal(t, "generalist", id)
}

func TestReportOutcomeMarksUnhealthyAfterThreshold(t *testing.T) {
	r := multiagent.NewRouter(multiagent.Config{UnhealthyThreshold: 2})
	r.Register(multiagent.AgentProfile{ID: "flaky", Capabilities: []string{"research"}})

	r.ReportOutcome("flaky", errors.New("boom"))
	r.ReportOutcome("flaky", errors.New("boom again"))

	_, err := r.Route("research", "")
	require.Error(t, err, "flaky should be skipped once unhealthy")

	r.ReportOutcome("flaky", nil)
	id, err := r.Route("research", "")
	require.NoError(t, err)
	require.Equal(t, "flaky", id)
}

func TestLeastLoadedPrefersIdleProfile(t *testing.T) {
	r := multiagent.NewRouter(multiagent.Config{Strategy: multiagent.StrategyLeastLoaded})
	r.Register(multiagent.AgentProfile{ID: "a", Capabilities: []string{"research"}})
	r.Register(multiagent.AgentProfile{ID: "b", Capabilities: []string{"research"}})

	release := r.Acquire("a")
	defer release()

	id, err := r.Route("research", "")
	require.NoError(t, err)
	require.Equal(t, "b", id)
}
