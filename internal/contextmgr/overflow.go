package contextmgr

import (
	"context"

	"github.com/opencoreharness/agentcore/internal/message"
	"github.com/opencoreharness/agentcore/internal/provider"
)

// OverflowTrigger reports why a turn needs emergency compaction before the
// provider call can be retried, or ok=false if nothing indicates overflow.
type OverflowTrigger struct {
	Reason string
}

// DetectRejectionOverflow classifies a failed provider call and reports
// whether it was rejected for exceeding the context window (§4.8 overflow
// recovery, rejection-based path).
func DetectRejectionOverflow(err error) (OverflowTrigger, bool) {
	if err == nil {
		return OverflowTrigger{}, false
	}
	if provider.Classify(err) == provider.ClassOverflow {
		return OverflowTrigger{Reason: "provider rejected prompt as over context window"}, true
	}
	return OverflowTrigger{}, false
}

// DetectUsageOverflow reports overflow from a completed call whose
// reported prompt token usage already exceeds the window — the
// usage-based detection path, distinct from a hard rejection: some
// providers accept an over-window prompt and silently truncate instead of
// erroring (§4.8).
func DetectUsageOverflow(promptTokens, contextWindow int) (OverflowTrigger, bool) {
	if provider.IsOverflowUsage(promptTokens, contextWindow) {
		return OverflowTrigger{Reason: "reported prompt_tokens exceeded context window"}, true
	}
	return OverflowTrigger{}, false
}

// Recover runs the emergency compaction pass used before a forced retry
// after either overflow trigger: a tighter keep_recent_tokens budget
// (context_window / 5) that does not count the freed space against the
// retry's own budget, so the retry is not itself at risk of overflowing
// again immediately.
func Recover(ctx context.Context, replacer PathReplacer, path []message.Message, contextWindow int, summarizer Summarizer, priorOps FileOps) (Result, error) {
	keepRecentTokens := KeepRecentTokens(contextWindow, true)
	return Compact(ctx, replacer, path, keepRecentTokens, summarizer, priorOps)
}
