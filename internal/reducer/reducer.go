// Package reducer folds a Provider Port's semantic event stream into the
// Agent FSM's turn accumulators: running text, thinking, and tool-call
// state, plus the Event Bus broadcasts each event implies.
//
// Grounded on haasonsaas-nexus's internal/agent/loop.go streamPhase, which
// accumulates a textBuilder and a toolCalls slice across a provider's
// completion channel; Reduce generalizes that accumulation into an
// immutable State value and the EventEmitter's emitted event into a plain
// returned message.AgentEvent so the fold stays a pure function.
package reducer

import (
	"encoding/json"

	"github.com/opencoreharness/agentcore/internal/message"
)

// ToolCallAccumulator tracks one tool call being assembled across
// tool_call_start/tool_call_delta/tool_call_done events.
type ToolCallAccumulator struct {
	CallID      string
	Name        string
	ArgsJSON    string
	Arguments   map[string]any
	Done        bool
	ParseFailed bool
}

// Valid reports whether the call carries a non-empty identity (invariant
// M1) and parsed cleanly.
func (a ToolCallAccumulator) Valid() bool {
	return a.CallID != "" && a.Name != "" && !a.ParseFailed
}

// State is the turn-in-progress accumulator folded by Reduce. The zero
// value is the state at the start of a turn, before any event arrives.
type State struct {
	MessageStarted  bool
	ThinkingStarted bool

	CurrentText     string
	CurrentThinking string

	ToolCalls []ToolCallAccumulator

	LastPromptTokens     int
	LastCompletionTokens int

	TurnComplete  bool
	StreamErrored string
}

// Clone returns a deep-enough copy safe to mutate independently of state.
func (s State) Clone() State {
	out := s
	if s.ToolCalls != nil {
		out.ToolCalls = make([]ToolCallAccumulator, len(s.ToolCalls))
		copy(out.ToolCalls, s.ToolCalls)
	}
	return out
}

// FinishedToolCalls returns the calls that finished cleanly (tool_call_done
// observed, non-empty identity, arguments parsed), in call order, filtering
// out anything invalid per M1 so the FSM never hands the provider a
// malformed ToolCall.
func (s State) FinishedToolCalls() []message.ToolCall {
	var out []message.ToolCall
	for _, acc := range s.ToolCalls {
		if !acc.Done || !acc.Valid() {
			continue
		}
		out = append(out, message.ToolCall{CallID: acc.CallID, Name: acc.Name, Arguments: acc.Arguments})
	}
	return out
}

func (s State) findToolCall(callID string) int {
	for i := range s.ToolCalls {
		if s.ToolCalls[i].CallID == callID {
			return i
		}
	}
	return -1
}

// Reduce is the Stream Reducer's contract: reduce(turn_state, StreamEvent)
// -> turn_state'. It is a pure function — no I/O, no global state — that
// returns the next state plus the Event Bus broadcasts the event implies.
// The caller (the Agent FSM) is responsible for actually publishing the
// returned events; Reduce only decides which ones are due.
func Reduce(state State, ev message.StreamEvent) (State, []message.AgentEvent) {
	next := state.Clone()
	var events []message.AgentEvent

	switch ev.Type {
	case message.StreamTextDelta:
		if ev.Text == "" {
			// Reasoning-only chunks carry no text payload; never let an
			// empty delta trigger message_start.
			break
		}
		if !next.MessageStarted {
			next.MessageStarted = true
			events = append(events, message.AgentEvent{Type: message.EventMessageStart})
		}
		next.CurrentText += ev.Text
		events = append(events, message.AgentEvent{Type: message.EventMessageDelta, Delta: ev.Text})

	case message.StreamThinkingDelta:
		if ev.Text == "" {
			break
		}
		if !next.ThinkingStarted {
			next.ThinkingStarted = true
			events = append(events, message.AgentEvent{Type: message.EventThinkingStart})
		}
		next.CurrentThinking += ev.Text
		events = append(events, message.AgentEvent{Type: message.EventThinkingDelta, Delta: ev.Text})

	case message.StreamToolCallStart:
		next.ToolCalls = append(next.ToolCalls, ToolCallAccumulator{CallID: ev.CallID, Name: ev.ToolName, Arguments: map[string]any{}})

	case message.StreamToolCallDelta:
		if i := next.findToolCall(ev.CallID); i >= 0 {
			next.ToolCalls[i].ArgsJSON += ev.ArgumentsJSONChunk
		}

	case message.StreamToolCallDone:
		i := next.findToolCall(ev.CallID)
		if i < 0 {
			next.ToolCalls = append(next.ToolCalls, ToolCallAccumulator{CallID: ev.CallID})
			i = len(next.ToolCalls) - 1
		}
		next.ToolCalls[i].Done = true
		next.ToolCalls[i].ParseFailed = ev.ArgumentsParseError
		if ev.ArgumentsParseError {
			next.ToolCalls[i].Arguments = nil
		} else {
			args := ev.Arguments
			if args == nil {
				args = map[string]any{}
			}
			next.ToolCalls[i].Arguments = args
		}

	case message.StreamUsage:
		if ev.Usage != nil {
			next.LastPromptTokens = ev.Usage.PromptTokens
			next.LastCompletionTokens = ev.Usage.CompletionTokens
		}
		events = append(events, message.AgentEvent{Type: message.EventUsageUpdate, Usage: ev.Usage})

	case message.StreamResponseDone:
		next.TurnComplete = true
		if ev.Usage != nil {
			next.LastPromptTokens = ev.Usage.PromptTokens
			next.LastCompletionTokens = ev.Usage.CompletionTokens
		}

	case message.StreamError:
		next.StreamErrored = ev.Reason
		events = append(events, message.AgentEvent{Type: message.EventError, Reason: ev.Reason})
	}

	return next, events
}

// ParsePartialArguments attempts to decode a tool call's accumulated
// tool_call_delta fragments. Providers that never emit tool_call_done (or
// whose done event arrives without parsed Arguments) can fall back to this
// instead of leaving the call stuck with ArgsJSON and no Arguments.
func ParsePartialArguments(argsJSON string) (map[string]any, bool) {
	if argsJSON == "" {
		return map[string]any{}, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &m); err != nil {
		return nil, true
	}
	return m, false
}
