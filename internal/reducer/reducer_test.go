package reducer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencoreharness/agentcore/internal/message"
)

func TestTextDeltaEmitsMessageStartOnce(t *testing.T) {
	state := State{}
	var events []message.AgentEvent

	state, evs := Reduce(state, message.StreamEvent{Type: message.StreamTextDelta, Text: "Hel"})
	events = append(events, evs...)
	state, evs = Reduce(state, message.StreamEvent{Type: message.StreamTextDelta, Text: "lo"})
	events = append(events, evs...)

	require.Equal(t, "Hello", state.CurrentText)
	require.True(t, state.MessageStarted)

	var starts, deltas int
	for _, e := range events {
		switch e.Type {
		case message.EventMessageStart:
			starts++
		case message.EventMessageDelta:
			deltas++
		}
	}
	require.Equal(t, 1, starts)
	require.Equal(t, 2, deltas)
}

func TestEmptyTextDeltaDoesNotTriggerMessageStart(t *testing.T) {
	state := State{}
	state, events := Reduce(state, message.StreamEvent{Type: message.StreamTextDelta, Text: ""})

	require.False(t, state.MessageStarted)
	require.Empty(t, events)
}

func TestThinkingDeltaSynthesizesThinkingStartOnce(t *testing.T) {
	state := State{}
	var events []message.AgentEvent

	state, evs := Reduce(state, message.StreamEvent{Type: message.StreamThinkingDelta, Text: "Let's "})
	events = append(events, evs...)
	state, evs = Reduce(state, message.StreamEvent{Type: message.StreamThinkingDelta, Text: "see."})
	events = append(events, evs...)

	require.Equal(t, "Let's see.", state.CurrentThinking)
	require.True(t, state.ThinkingStarted)

	require.Equal(t, message.EventThinkingStart, events[0].Type)
	require.Equal(t, message.EventThinkingDelta, events[1].Type)
	require.Equal(t, "Let's ", events[1].Delta)
}

func TestReasoningOnlyChunkDoesNotTriggerTextMessageStart(t *testing.T) {
	state := State{}

	state, events := Reduce(state, message.StreamEvent{Type: message.StreamThinkingDelta, Text: "reasoning"})
	require.False(t, state.MessageStarted)
	for _, e := range events {
		require.NotEqual(t, message.EventMessageStart, e.Type)
	}

	state, events = Reduce(state, message.StreamEvent{Type: message.StreamTextDelta, Text: ""})
	require.False(t, state.MessageStarted)
	require.Empty(t, events)
}

func TestToolCallAssemblesAcrossDeltas(t *testing.T) {
	state := State{}

	state, _ = Reduce(state, message.StreamEvent{Type: message.StreamToolCallStart, CallID: "c1", ToolName: "search"})
	state, _ = Reduce(state, message.StreamEvent{Type: message.StreamToolCallDelta, CallID: "c1", ArgumentsJSONChunk: `{"q":`})
	state, _ = Reduce(state, message.StreamEvent{Type: message.StreamToolCallDelta, CallID: "c1", ArgumentsJSONChunk: `"go"}`})
	state, _ = Reduce(state, message.StreamEvent{Type: message.StreamToolCallDone, CallID: "c1", Arguments: map[string]any{"q": "go"}})

	require.Len(t, state.ToolCalls, 1)
	require.Equal(t, `{"q":"go"}`, state.ToolCalls[0].ArgsJSON)

	finished := state.FinishedToolCalls()
	require.Len(t, finished, 1)
	require.Equal(t, "search", finished[0].Name)
	require.Equal(t, "go", finished[0].Arguments["q"])
}

func TestToolCallWithParseErrorIsFilteredAtFinalization(t *testing.T) {
	state := State{}
	state, _ = Reduce(state, message.StreamEvent{Type: message.StreamToolCallStart, CallID: "c1", ToolName: "search"})
	state, _ = Reduce(state, message.StreamEvent{Type: message.StreamToolCallDone, CallID: "c1", ArgumentsParseError: true})

	require.Empty(t, state.FinishedToolCalls())
}

func TestToolCallWithEmptyIdentityIsFilteredAtFinalization(t *testing.T) {
	state := State{}
	state, _ = Reduce(state, message.StreamEvent{Type: message.StreamToolCallStart, CallID: "", ToolName: ""})
	state, _ = Reduce(state, message.StreamEvent{Type: message.StreamToolCallDone, CallID: "", Arguments: map[string]any{}})

	require.Empty(t, state.FinishedToolCalls())
}

func TestUsageUpdatesLastTokensAndBroadcasts(t *testing.T) {
	state := State{}
	state, events := Reduce(state, message.StreamEvent{Type: message.StreamUsage, Usage: &message.Usage{PromptTokens: 100, CompletionTokens: 20}})

	require.Equal(t, 100, state.LastPromptTokens)
	require.Equal(t, 20, state.LastCompletionTokens)
	require.Len(t, events, 1)
	require.Equal(t, message.EventUsageUpdate, events[0].Type)
}

func TestResponseDoneSetsTurnComplete(t *testing.T) {
	state := State{}
	state, events := Reduce(state, message.StreamEvent{Type: message.StreamResponseDone, Usage: &message.Usage{PromptTokens: 5}})

	require.True(t, state.TurnComplete)
	require.Equal(t, 5, state.LastPromptTokens)
	require.Empty(t, events)
}

func TestErrorSetsStreamErroredAndBroadcasts(t *testing.T) {
	state := State{}
	state, events := Reduce(state, message.StreamEvent{Type: message.StreamError, Reason: "connection reset"})

	require.Equal(t, "connection reset", state.StreamErrored)
	require.Len(t, events, 1)
	require.Equal(t, message.EventError, events[0].Type)
	require.Equal(t, "connection reset", events[0].Reason)
}

func TestReduceDoesNotMutateInputState(t *testing.T) {
	before := State{ToolCalls: []ToolCallAccumulator{{CallID: "c1", Name: "search"}}}
	after, _ := Reduce(before, message.StreamEvent{Type: message.StreamToolCallStart, CallID: "c2", ToolName: "other"})

	require.Len(t, before.ToolCalls, 1)
	require.Len(t, after.ToolCalls, 2)
}

func TestParsePartialArguments(t *testing.T) {
	args, failed := ParsePartialArguments(`{"q":"go"}`)
	require.False(t, failed)
	require.Equal(t, "go", args["q"])

	_, failed = ParsePartialArguments(`{"q":`)
	require.True(t, failed)

	args, failed = ParsePartialArguments("")
	require.False(t, failed)
	require.Empty(t, args)
}
