// Package repair implements the three independent defence layers that
// guarantee the Provider Port always receives a message history satisfying
// invariants M2 (tool pairing) and M3 (no orphan results).
//
// Grounded on haasonsaas-nexus's internal/agent/transcript_repair.go, whose
// single-pass pending-call-set walk is the basis for Layer 2 here; Layer 1
// and Layer 3 have no teacher analogue and are built fresh from the
// specification in the teacher's idiom (plain functions over []message.Message,
// no hidden state).
package repair

import (
	"github.com/opencoreharness/agentcore/internal/message"
	"github.com/opencoreharness/agentcore/internal/reducer"
)

const (
	reasonAborted = "[Aborted by user]"
	reasonFailed  = "[Tool execution failed]"
)

// OrphanCalls scans messages chronologically and returns the ToolCalls that
// have no matching tool_result anywhere later in the list — Layer 1's
// full-scan orphan detection. The caller appends a synthetic tool_result
// for each (§4.7 Layer 1) via SyntheticResult.
func OrphanCalls(messages []message.Message) []message.ToolCall {
	satisfied := make(map[string]bool)
	for _, m := range messages {
		if m.Role == message.RoleToolResult && m.CallID != "" {
			satisfied[m.CallID] = true
		}
	}

	var orphans []message.ToolCall
	seen := make(map[string]bool)
	for _, m := range messages {
		if m.Role != message.RoleAssistant {
			continue
		}
		for _, call := range m.ToolCalls {
			if call.CallID == "" || satisfied[call.CallID] || seen[call.CallID] {
				continue
			}
			seen[call.CallID] = true
			orphans = append(orphans, call)
		}
	}
	return orphans
}

// SyntheticResult builds the synthetic error tool_result Layer 1 and Layer 2
// append for an unsatisfied ToolCall. aborted selects the "[Aborted by
// user]" wording (cancellation) over "[Tool execution failed]" (crash/unknown).
func SyntheticResult(callID string, aborted bool) message.Message {
	reason := reasonFailed
	if aborted {
		reason = reasonAborted
	}
	return message.Message{Role: message.RoleToolResult, CallID: callID, Content: reason, Error: true}
}

// RepairOrphans is Layer 1: it returns the synthetic tool_result messages
// that must be appended to agent state so every outstanding ToolCall is
// satisfied. Call at every turn start and on every abort (after cancelling
// tool tasks).
func RepairOrphans(messages []message.Message, aborted bool) []message.Message {
	orphans := OrphanCalls(messages)
	if len(orphans) == 0 {
		return nil
	}
	out := make([]message.Message, 0, len(orphans))
	for _, call := range orphans {
		out = append(out, SyntheticResult(call.CallID, aborted))
	}
	return out
}

// Reposition is Layer 2: a pure function over the outgoing message list
// that relocates, injects, and strips tool_results so M2 and M3 hold by
// construction before the list is handed to a Provider Port.
func Reposition(messages []message.Message) []message.Message {
	out := make([]message.Message, 0, len(messages))
	// resultsByCall indexes every later tool_result once, by call_id, so
	// step 1 can relocate without an O(n^2) re-scan per assistant message.
	resultsByCall := make(map[string]message.Message)
	for _, m := range messages {
		if m.Role == message.RoleToolResult && m.CallID != "" {
			if _, exists := resultsByCall[m.CallID]; !exists {
				resultsByCall[m.CallID] = m
			}
		}
	}

	placedCall := make(map[string]bool)

	for _, m := range messages {
		switch m.Role {
		case message.RoleAssistant:
			out = append(out, m)
			for _, call := range m.ToolCalls {
				if call.CallID == "" || placedCall[call.CallID] {
					continue
				}
				placedCall[call.CallID] = true
				if result, ok := resultsByCall[call.CallID]; ok {
					out = append(out, result)
				} else {
					out = append(out, SyntheticResult(call.CallID, false))
				}
			}
		case message.RoleToolResult:
			// Already relocated immediately after its assistant above, or
			// an orphan/duplicate to strip (step 3). Either way it is not
			// re-appended in its original position.
			continue
		default:
			out = append(out, m)
		}
	}

	return out
}

// StreamErrorGuard is Layer 3: it reports whether a turn's accumulated
// state must be discarded instead of committed as an assistant message.
// A stream error anywhere mid-turn means current_text/current_tool_calls
// are partial and must never become a message whose tool_calls can never
// be satisfied with results.
func StreamErrorGuard(state reducer.State) (discard bool, reason string) {
	if state.StreamErrored == "" {
		return false, ""
	}
	return true, state.StreamErrored
}
