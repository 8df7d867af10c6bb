package contextmgr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencoreharness/agentcore/internal/message"
)

func TestEstimateTokensFallsBackToHeuristicWithoutLastPrompt(t *testing.T) {
	msgs := []message.Message{{Content: "12345678"}}
	require.Equal(t, 2, EstimateTokens(msgs, 0, 0))
}

func TestEstimateTokensAddsHeuristicOverTailToCalibratedBase(t *testing.T) {
	msgs := []message.Message{
		{Content: "old message that should not be recounted"},
		{Content: "12345678"},
	}
	got := EstimateTokens(msgs, 100, 1)
	require.Equal(t, 102, got)
}

func TestEstimateTokensCountsToolCallArguments(t *testing.T) {
	msgs := []message.Message{{
		ToolCalls: []message.ToolCall{{Name: "search", Arguments: map[string]any{"query": "12345678"}}},
	}}
	got := EstimateTokens(msgs, 0, 0)
	require.Greater(t, got, 0)
}

func TestShouldAutoCompactTriggersAtEightyPercent(t *testing.T) {
	require.True(t, ShouldAutoCompact(800, 1000))
	require.False(t, ShouldAutoCompact(799, 1000))
}

func TestShouldAutoCompactFalseWithNoContextWindow(t *testing.T) {
	require.False(t, ShouldAutoCompact(100, 0))
}

func TestKeepRecentTokensOverflowIsTighterThanAuto(t *testing.T) {
	require.Equal(t, 200, KeepRecentTokens(1000, true))
	require.Equal(t, 250, KeepRecentTokens(1000, false))
}
