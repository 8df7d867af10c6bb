// Package contextmgr implements the Context Manager (§4.8): token
// estimation, auto-compaction triggering, the compaction algorithm
// (cut-point finding, split-turn detection, summarize/truncate
// strategies, file-op tracking merge), and overflow recovery.
//
// Grounded on haasonsaas-nexus's internal/compaction/compaction.go for the
// characters-per-token heuristic and chunked-summarization shape, and
// internal/sessions/compaction.go for the Summarizer interface and
// trigger-threshold pattern, adapted from the teacher's flat message-count
// history onto the Session's parent-pointer path.
package contextmgr

import "github.com/opencoreharness/agentcore/internal/message"

// CharsPerToken is the teacher's characters-to-token heuristic ratio,
// used whenever no calibrated usage figure is available.
const CharsPerToken = 4

// AutoCompactThreshold is the fraction of a model's context window that
// triggers automatic compaction at the start of a turn (§4.8).
const AutoCompactThreshold = 0.8

// EstimateTokens implements the §4.8 token-estimation contract: if
// lastPromptTokens is known (a calibrated base from the provider's last
// usage report), the estimate is that base plus a heuristic over the
// characters of messages appended since; otherwise it falls back to a
// pure heuristic over the whole conversation.
func EstimateTokens(messages []message.Message, lastPromptTokens int, sinceIndex int) int {
	if lastPromptTokens > 0 {
		tail := messages
		if sinceIndex >= 0 && sinceIndex <= len(messages) {
			tail = messages[sinceIndex:]
		}
		return lastPromptTokens + heuristicTokens(tail)
	}
	return heuristicTokens(messages)
}

func heuristicTokens(messages []message.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content) + len(m.Thinking)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + estimateArgsChars(tc.Arguments)
		}
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}

func estimateArgsChars(args map[string]any) int {
	total := 0
	for k, v := range args {
		total += len(k)
		if s, ok := v.(string); ok {
			total += len(s)
		} else {
			total += 8 // rough constant for non-string scalars/nested values
		}
	}
	return total
}

// ShouldAutoCompact reports whether a turn should compact before sending,
// per the §4.8 auto-compaction trigger: estimated tokens at or above 80%
// of the model's context window.
func ShouldAutoCompact(estimatedTokens, contextWindow int) bool {
	if contextWindow <= 0 {
		return false
	}
	return float64(estimatedTokens) >= AutoCompactThreshold*float64(contextWindow)
}

// KeepRecentTokens returns the default keep_recent_tokens budget for a
// compaction pass: context_window / 4 for a routine auto-compaction, or
// context_window / 5 for emergency overflow recovery (§4.8).
func KeepRecentTokens(contextWindow int, overflow bool) int {
	if overflow {
		return contextWindow / 5
	}
	return contextWindow / 4
}
