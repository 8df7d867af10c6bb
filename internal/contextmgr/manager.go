package contextmgr

import (
	"context"

	"github.com/opencoreharness/agentcore/internal/message"
	"github.com/opencoreharness/agentcore/internal/session"
)

// PathReplacer is the subset of *session.Session the Context Manager needs,
// narrowed to a small interface so Compact is testable without a full
// session fixture.
type PathReplacer interface {
	ReplacePathSegment(fromID, toID string, replacements []message.Message) ([]message.Message, error)
}

var _ PathReplacer = (*session.Session)(nil)

// Result reports what a Compact call did, for logging and for the caller
// (the Agent FSM) to re-estimate tokens afterward.
type Result struct {
	Compacted    bool
	SplitTurn    bool
	MessagesCut  int
	Summary      string
	RemainingOps FileOps
}

// FileOpsFromMetadata reads back the read_files/modified_files carried on
// a prior compaction-summary message, for folding into MergeFileOps.
func FileOpsFromMetadata(m message.Message) FileOps {
	return FileOps{
		Read:     toStringSlice(m.Metadata["read_files"]),
		Modified: toStringSlice(m.Metadata["modified_files"]),
	}
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// fileOpsFromCalls scans a message segment's tool calls/results for read
// and write/edit/patch tool usage, for the file-op tracking merge (§4.8
// step 5). Tool names are matched by suffix so both bare names ("read")
// and namespaced ones ("files.read") are recognized.
func fileOpsFromCalls(segment []message.Message) FileOps {
	readSet := make(map[string]struct{})
	modSet := make(map[string]struct{})
	for _, m := range segment {
		if m.Role != message.RoleAssistant {
			continue
		}
		for _, call := range m.ToolCalls {
			path, _ := call.Arguments["path"].(string)
			if path == "" {
				continue
			}
			switch toolKind(call.Name) {
			case "read":
				readSet[path] = struct{}{}
			case "write":
				modSet[path] = struct{}{}
			}
		}
	}
	return FileOps{Read: sortedKeys(readSet), Modified: sortedKeys(modSet)}
}

func toolKind(name string) string {
	switch {
	case hasSuffixFold(name, "read"):
		return "read"
	case hasSuffixFold(name, "write"), hasSuffixFold(name, "edit"), hasSuffixFold(name, "patch"):
		return "write"
	default:
		return ""
	}
}

func hasSuffixFold(s, suffix string) bool {
	if len(s) < len(suffix) {
		return false
	}
	tail := s[len(s)-len(suffix):]
	for i := range tail {
		a, b := tail[i], suffix[i]
		if a >= 'A' && a <= 'Z' {
			a += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

// Compact runs one compaction pass over path (the session's current
// active path, oldest-first) and, if a cut is found, splices a summary
// message into the session via replacer. keepRecentTokens bounds how much
// of the tail is preserved verbatim (§4.8).
//
// priorOps carries forward file-op metadata from an earlier compaction
// summary at path[0], if any, so repeated compaction cycles don't lose
// track of files touched before the visible window.
func Compact(ctx context.Context, replacer PathReplacer, path []message.Message, keepRecentTokens int, summarizer Summarizer, priorOps FileOps) (Result, error) {
	if len(path) == 0 {
		return Result{}, nil
	}

	cut := FindCutPoint(path, keepRecentTokens)
	if cut.Index <= 0 {
		return Result{}, nil
	}

	// A split turn too small to warrant its own summary is treated as a
	// clean cut: the history summary still ends at cut.Index, and the
	// short in-progress turn prefix is simply kept verbatim in the tail
	// even though it doesn't open with a user message.
	segmentEnd := cut.Index
	dualSummary := cut.SplitTurn && cut.TurnPrefixLen >= minDualSummaryTurnPrefix

	segment := path[:segmentEnd]
	ops := MergeFileOps(priorOps, fileOpsFromCalls(segment))
	historySummary := Summarize(ctx, segment, summarizer, ops)
	replacements := []message.Message{BuildSummaryMessage(historySummary, ops)}

	if dualSummary {
		turnSegment := path[cut.Index:]
		turnOps := fileOpsFromCalls(turnSegment)
		turnSummary := Summarize(ctx, turnSegment, summarizer, turnOps)
		replacements = append(replacements, BuildSummaryMessage(turnSummary, turnOps))
		segmentEnd = len(path)
		ops = MergeFileOps(ops, turnOps)
	}

	fromID := path[0].ID
	toID := path[segmentEnd-1].ID
	if _, err := replacer.ReplacePathSegment(fromID, toID, replacements); err != nil {
		return Result{}, err
	}

	return Result{
		Compacted:    true,
		SplitTurn:    cut.SplitTurn,
		MessagesCut:  segmentEnd,
		Summary:      historySummary,
		RemainingOps: ops,
	}, nil
}
