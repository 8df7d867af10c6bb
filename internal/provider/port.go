// Package provider defines the Provider Port: the abstract interface between
// the Agent FSM and a streaming LLM backend, plus the error classification
// shared by every concrete adapter (anthropic, openai, gemini, mock).
//
// Grounded on haasonsaas-nexus's internal/agent.LLMProvider / CompletionRequest
// / CompletionChunk trio (internal/agent/provider_types.go), generalized so
// that Stream yields message.StreamEvent directly rather than a provider-
// specific chunk, and message conversion works against this module's
// internal/message.Message tree instead of pkg/models.
package provider

import (
	"context"
	"encoding/json"

	"github.com/opencoreharness/agentcore/internal/message"
)

// ToolSchema is the provider-agnostic description of a tool available for
// function calling, converted by each adapter's ConvertTools.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Tags        []string
}

// Model describes one model a Provider can serve.
type Model struct {
	ID             string
	Name           string
	ContextWindow  int
	SupportsVision bool
}

// StreamOptions carries per-request generation parameters that are not part
// of the message list itself.
type StreamOptions struct {
	System               string
	MaxTokens            int
	EnableThinking       bool
	ThinkingBudgetTokens int
}

// Provider is the Provider Port contract (§4.3): submit a conversation,
// receive an asynchronous stream of semantic events.
//
// Implementations must:
//   - never block Stream's caller beyond request setup; all wire I/O happens
//     in a goroutine feeding the returned channel.
//   - close the returned channel exactly once, after a terminal event
//     (response_done or error) or context cancellation.
//   - classify every terminal failure with Classify so the Agent FSM can
//     decide whether to retry, compact-and-retry, or surface it to the user.
type Provider interface {
	// Name is the provider identifier used for routing, logging, and model
	// namespacing.
	Name() string

	// Models lists the models this provider can serve.
	Models() []Model

	// SupportsTools reports whether this provider can receive ConvertTools
	// output and emit tool_call_* stream events.
	SupportsTools() bool

	// Stream opens an asynchronous streaming completion request and
	// returns a channel of semantic StreamEvents. A non-nil error here
	// means the request could not even be constructed (e.g. message/tool
	// conversion failed); mid-stream failures are instead delivered as an
	// EventError StreamEvent over the channel.
	Stream(ctx context.Context, model string, messages []message.Message, tools []ToolSchema, opts StreamOptions) (<-chan message.StreamEvent, error)
}

// contextWindowOf looks up the context window for model among models,
// returning 0 if unknown. Shared by adapters for overflow detection.
func contextWindowOf(models []Model, model string) int {
	for _, m := range models {
		if m.ID == model {
			return m.ContextWindow
		}
	}
	return 0
}
