package agentapi

import (
	"time"

	"github.com/opencoreharness/agentcore/internal/fsm"
	"github.com/opencoreharness/agentcore/internal/message"
)

// SessionConfig is start_session's request payload (§6.2).
type SessionConfig struct {
	Model        string
	SystemPrompt string
	WorkingDir   string
	// Tools, when non-empty, restricts the session to these tool names
	// (still subject to Features). Empty means every tool Features
	// permits.
	Tools []string
	// Provider selects a Providers entry by name; empty uses
	// Config.DefaultProvider.
	Provider string
	// SessionPersist enables the on-disk JSONL log under Config.LogDir.
	SessionPersist bool
	// SessionID, if set, names the session explicitly (e.g. to resume a
	// known ID); otherwise one is generated.
	SessionID string
}

// StateSnapshot is get_state's result (§6.2).
type StateSnapshot struct {
	Status       fsm.State     `json:"status"`
	Model        string        `json:"model"`
	MessageCount int           `json:"message_count"`
	Tools        []string      `json:"tools"`
	Usage        message.Usage `json:"usage"`
	WorkingDir   string        `json:"working_dir"`
}

// SessionSummary is one entry of list_sessions' result (§6.2).
type SessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Model     string    `json:"model"`
	Status    fsm.State `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
