package contextmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencoreharness/agentcore/internal/message"
)

// CutPoint is the result of walking a message path newest-first looking
// for where to split "kept recent" tail from "to be compacted" prefix.
type CutPoint struct {
	// Index is the position in messages where the kept tail begins;
	// messages[:Index] is the prefix to compact, messages[Index:] is
	// kept as-is.
	Index int

	// SplitTurn is true when the kept tail does not start with a user
	// message — the accumulated-character cut landed inside a
	// multi-message, still-in-progress turn.
	SplitTurn bool

	// TurnPrefixLen is the number of trailing messages in the
	// in-progress turn when SplitTurn is true.
	TurnPrefixLen int
}

// FindCutPoint walks messages newest-first, accumulating estimated
// characters, until the cumulative total exceeds keepRecentTokens; it then
// looks forward for the nearest user-message boundary at or after that
// point so the kept tail cleanly starts a turn (§4.8 step 1-2).
func FindCutPoint(messages []message.Message, keepRecentTokens int) CutPoint {
	if len(messages) == 0 {
		return CutPoint{Index: 0}
	}

	keepChars := keepRecentTokens * CharsPerToken
	accumulated := 0
	rawCut := 0
	for i := len(messages) - 1; i >= 0; i-- {
		accumulated += len(messages[i].Content) + len(messages[i].Thinking)
		if accumulated > keepChars {
			rawCut = i
			break
		}
	}

	for i := rawCut; i < len(messages); i++ {
		if messages[i].Role == message.RoleUser {
			return CutPoint{Index: i}
		}
	}

	// No user-message boundary in the tail: the kept region would be a
	// still-in-progress, non-user-initiated turn.
	return CutPoint{Index: rawCut, SplitTurn: true, TurnPrefixLen: len(messages) - rawCut}
}

// minDualSummaryTurnPrefix is the §4.8 step-2 threshold: below this many
// messages, a split turn is folded into the single history summary rather
// than given its own dual summary.
const minDualSummaryTurnPrefix = 5

// Summarizer issues a provider call that summarizes a slice of messages
// into a structured prompt response, per §4.8 step 3's "summarise"
// strategy.
//
// Grounded on haasonsaas-nexus's internal/sessions.Summarizer interface.
type Summarizer interface {
	Summarize(ctx context.Context, messages []message.Message, prompt string) (string, error)
}

const summaryUpdatePrefix = "## Progress Summary"

// looksLikePriorSummary detects the sentinel heading the Context Manager
// itself writes, so a second compaction cycle merges instead of
// re-summarizing from scratch (preventing progressive information loss).
func looksLikePriorSummary(m message.Message) bool {
	if t, _ := m.Metadata[message.MetaCompactionSummary].(bool); t {
		return true
	}
	return strings.HasPrefix(strings.TrimSpace(m.Content), summaryUpdatePrefix)
}

// FileOps tracks which files a conversation segment touched, carried
// forward across compaction cycles via each summary's metadata.
type FileOps struct {
	Read     []string
	Modified []string
}

// MergeFileOps combines a prior summary's file-op metadata with files
// touched in the segment now being compacted, promoting any file that was
// read-then-modified to modified-only (§4.8 step 5).
func MergeFileOps(prior FileOps, segment FileOps) FileOps {
	modified := stringSet(prior.Modified, segment.Modified)
	read := stringSet(prior.Read, segment.Read)
	for f := range modified {
		delete(read, f)
	}
	return FileOps{Read: sortedKeys(read), Modified: sortedKeys(modified)}
}

func stringSet(lists ...[]string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, list := range lists {
		for _, s := range list {
			out[s] = struct{}{}
		}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// summaryPromptTag wraps the transcript being summarized in a sentinel tag
// so the model treats it as data to summarize, not as dialogue to
// continue — the same defence the teacher's FormatMessagesForSummary
// achieves via plain role-prefixed formatting, made explicit here since
// summarization prompts are adversarial to prompt injection from the
// transcript itself.
const summaryPromptTag = "conversation-transcript"

// BuildSummaryPrompt renders the structured summarization prompt for a
// message segment. When prior is non-empty, an "update" prompt is used
// that merges into the existing summary instead of re-summarizing.
func BuildSummaryPrompt(segment []message.Message, prior string) string {
	var b strings.Builder
	if prior != "" {
		b.WriteString("Update the existing progress summary below with the new conversation segment that follows. Merge new information in; do not discard prior Goal/Constraints/Decisions that still hold.\n\n")
		b.WriteString("Existing summary:\n")
		b.WriteString(prior)
		b.WriteString("\n\n")
	} else {
		b.WriteString("Summarize the conversation segment below under these headings: Goal, Constraints, Progress, Key Decisions, Next Steps, Critical Context. Also list every file read and every file modified in <read-files> and <modified-files> sections.\n\n")
	}
	fmt.Fprintf(&b, "<%s>\n", summaryPromptTag)
	b.WriteString(FormatMessages(segment))
	fmt.Fprintf(&b, "\n</%s>\n", summaryPromptTag)
	return b.String()
}

// FormatMessages renders a message segment as role-prefixed lines for
// inclusion in a summarization prompt.
func FormatMessages(messages []message.Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return b.String()
}

// TruncateSummary is the §4.8 step-3 fallback strategy for when no
// provider is available: a short role-count tag instead of a generated
// summary.
func TruncateSummary(segment []message.Message, ops FileOps) string {
	counts := map[message.Role]int{}
	for _, m := range segment {
		counts[m.Role]++
	}
	var parts []string
	for _, role := range []message.Role{message.RoleUser, message.RoleAssistant, message.RoleToolResult} {
		if counts[role] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[role], role))
		}
	}
	summary := fmt.Sprintf("[Compacted %d messages: %s]", len(segment), strings.Join(parts, ", "))
	if len(ops.Modified) > 0 {
		summary += fmt.Sprintf(" modified=%s", strings.Join(ops.Modified, ","))
	}
	return summary
}

// BuildSummaryMessage wraps summaryText as the single user-role message
// that replaces a compacted segment, carrying the file-op metadata
// forward (§4.8 step 4).
func BuildSummaryMessage(summaryText string, ops FileOps) message.Message {
	return message.Message{
		Role:    message.RoleUser,
		Content: summaryText,
		Metadata: map[string]any{
			message.MetaCompactionSummary: true,
			"read_files":                 ops.Read,
			"modified_files":             ops.Modified,
		},
	}
}

// Summarize produces the replacement summary text for segment, preferring
// the summarizer strategy and falling back to TruncateSummary when
// summarizer is nil or the call fails.
func Summarize(ctx context.Context, segment []message.Message, summarizer Summarizer, ops FileOps) string {
	if summarizer == nil {
		return TruncateSummary(segment, ops)
	}
	prior := ""
	if len(segment) > 0 && looksLikePriorSummary(segment[0]) {
		prior = segment[0].Content
	}
	text, err := summarizer.Summarize(ctx, segment, BuildSummaryPrompt(segment, prior))
	if err != nil || strings.TrimSpace(text) == "" {
		return TruncateSummary(segment, ops)
	}
	return text
}
