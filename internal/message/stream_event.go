package message

// StreamEventType tags the variant of a semantic event emitted by a
// Provider Port while a completion is streaming.
type StreamEventType string

const (
	StreamTextStart     StreamEventType = "text_start"
	StreamTextDelta     StreamEventType = "text_delta"
	StreamTextDone       StreamEventType = "text_done"
	StreamThinkingStart  StreamEventType = "thinking_start"
	StreamThinkingDelta  StreamEventType = "thinking_delta"
	StreamToolCallStart  StreamEventType = "tool_call_start"
	StreamToolCallDelta  StreamEventType = "tool_call_delta"
	StreamToolCallDone   StreamEventType = "tool_call_done"
	StreamUsage          StreamEventType = "usage"
	StreamResponseDone   StreamEventType = "response_done"
	StreamError          StreamEventType = "error"
)

// Usage reports token accounting for a completed or in-progress turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	ContextWindow    int `json:"context_window,omitempty"`
}

// StreamEvent is one semantic unit parsed from a provider's wire chunk.
// Exactly one of the payload fields is meaningful for a given Type.
type StreamEvent struct {
	Type StreamEventType

	Text string // text_delta, text_done

	CallID              string // tool_call_*
	ToolName            string // tool_call_start
	ArgumentsJSONChunk  string // tool_call_delta: raw JSON fragment to append
	Arguments           map[string]any // tool_call_done: fully parsed arguments
	ArgumentsParseError bool           // tool_call_done: arguments failed to parse

	Usage *Usage // usage, response_done

	Reason string // error
}
