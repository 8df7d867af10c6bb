package contextmgr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencoreharness/agentcore/internal/message"
)

func TestDetectRejectionOverflowMatchesOverflowClass(t *testing.T) {
	_, ok := DetectRejectionOverflow(errors.New("maximum context length exceeded"))
	require.True(t, ok)
}

func TestDetectRejectionOverflowFalseForUnrelatedError(t *testing.T) {
	_, ok := DetectRejectionOverflow(errors.New("rate limited"))
	require.False(t, ok)
}

func TestDetectRejectionOverflowFalseForNilError(t *testing.T) {
	_, ok := DetectRejectionOverflow(nil)
	require.False(t, ok)
}

func TestDetectUsageOverflowComparesAgainstWindow(t *testing.T) {
	_, ok := DetectUsageOverflow(9000, 8000)
	require.True(t, ok)

	_, ok = DetectUsageOverflow(100, 8000)
	require.False(t, ok)
}

func TestRecoverUsesOverflowKeepRecentBudget(t *testing.T) {
	path := []message.Message{
		longMsg("1", message.RoleUser, "old"),
		longMsg("2", message.RoleAssistant, "old"),
		userMsg("3", "recent"),
	}
	rep := &fakeReplacer{}
	result, err := Recover(context.Background(), rep, path, 10, nil, FileOps{})
	require.NoError(t, err)
	require.True(t, result.Compacted)
	require.Equal(t, 1, rep.calls)
}
