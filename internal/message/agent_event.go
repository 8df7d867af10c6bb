package message

import "time"

// AgentEventType tags the variant of a broadcast event published on the
// Event Bus.
type AgentEventType string

const (
	EventAgentStart      AgentEventType = "agent_start"
	EventAgentEnd        AgentEventType = "agent_end"
	EventAgentAbort      AgentEventType = "agent_abort"
	EventAgentRecovered  AgentEventType = "agent_recovered"
	EventMessageStart    AgentEventType = "message_start"
	EventMessageDelta    AgentEventType = "message_delta"
	EventThinkingStart   AgentEventType = "thinking_start"
	EventThinkingDelta   AgentEventType = "thinking_delta"
	EventToolExecStart   AgentEventType = "tool_execution_start"
	EventToolExecEnd     AgentEventType = "tool_execution_end"
	EventTurnEnd         AgentEventType = "turn_end"
	EventUsageUpdate     AgentEventType = "usage_update"
	EventStatusUpdate    AgentEventType = "status_update"
	EventCompactionStart AgentEventType = "compaction_start"
	EventCompactionEnd   AgentEventType = "compaction_end"
	EventContextDiscovered AgentEventType = "context_discovered"
	EventSkillLoaded     AgentEventType = "skill_loaded"
	EventSubAgent        AgentEventType = "sub_agent_event"
	EventError           AgentEventType = "error"
)

// AgentEvent is the envelope published on the Event Bus. Only the fields
// relevant to Type are populated; the rest are zero values.
type AgentEvent struct {
	Type      AgentEventType `json:"type"`
	SessionID string         `json:"session_id"`
	Time      time.Time      `json:"time"`

	Usage   *Usage `json:"usage,omitempty"`
	Delta   string `json:"delta,omitempty"`
	Message *Message `json:"message,omitempty"`

	Tool   string         `json:"tool,omitempty"`
	CallID string         `json:"call_id,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Meta   string         `json:"meta,omitempty"`
	Result string         `json:"result,omitempty"`

	CompactionBefore int `json:"compaction_before,omitempty"`
	CompactionAfter  int `json:"compaction_after,omitempty"`

	Files []string `json:"files,omitempty"`
	Skill string   `json:"skill,omitempty"`

	ParentCallID string     `json:"parent_call_id,omitempty"`
	SubSessionID string     `json:"sub_session_id,omitempty"`
	Inner        *AgentEvent `json:"inner,omitempty"`

	Reason string `json:"reason,omitempty"`
}
