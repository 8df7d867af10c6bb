// Package anthropic implements provider.Provider against the Anthropic
// Messages API, streaming semantic message.StreamEvents.
//
// Grounded on haasonsaas-nexus's internal/agent/providers/anthropic.go:
// the streaming event switch (content_block_start/delta/stop, message_start/
// delta/stop), the retry-with-backoff wrapper, and convertMessages/
// convertTools are all adapted from there onto this module's message.Message
// tree and provider.Provider contract instead of the teacher's
// agent.CompletionRequest/CompletionChunk pair.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/opencoreharness/agentcore/internal/message"
	"github.com/opencoreharness/agentcore/internal/provider"
)

// Config configures a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// Provider implements provider.Provider for Anthropic's Claude models.
type Provider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// New constructs a Provider from cfg, applying the same defaults as the
// teacher's NewAnthropicProvider (3 retries, 1s base backoff, Sonnet 4).
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Models() []provider.Model {
	return []provider.Model{
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextWindow: 200000, SupportsVision: true},
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextWindow: 200000, SupportsVision: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextWindow: 200000, SupportsVision: true},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextWindow: 200000, SupportsVision: true},
	}
}

func (p *Provider) SupportsTools() bool { return true }

func (p *Provider) Stream(ctx context.Context, model string, msgs []message.Message, tools []provider.ToolSchema, opts provider.StreamOptions) (<-chan message.StreamEvent, error) {
	model = p.resolveModel(model)

	params, err := p.buildParams(model, msgs, tools, opts)
	if err != nil {
		return nil, err
	}

	out := make(chan message.StreamEvent, 8)
	go func() {
		defer close(out)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var streamErr error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream = p.client.Messages.NewStreaming(ctx, params)
			streamErr = nil

			// NewStreaming doesn't fail synchronously on transport errors;
			// the first Next() call surfaces them via stream.Err(). Probe
			// that here so retries happen before any events are delivered,
			// matching the teacher's pre-flight retry loop.
			if !stream.Next() {
				streamErr = stream.Err()
			} else {
				break
			}

			if streamErr == nil {
				break
			}
			wrapped := p.wrapErr(streamErr, model)
			if wrapped.Class != provider.ClassTransient || attempt == p.maxRetries {
				out <- message.StreamEvent{Type: message.StreamError, Reason: wrapped.Error()}
				return
			}
			backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				out <- message.StreamEvent{Type: message.StreamError, Reason: ctx.Err().Error()}
				return
			case <-time.After(backoff):
			}
		}

		p.pump(stream, out, model)
	}()

	return out, nil
}

// pump drains an already-primed SSE stream (its first event was already
// consumed by the retry probe in Stream) converting every event with
// parseEvent.
func (p *Provider) pump(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- message.StreamEvent, model string) {
	var acc accumulator
	first := true
	for first || stream.Next() {
		first = false
		event := stream.Current()
		for _, ev := range parseEvent(event, &acc) {
			out <- ev
			if ev.Type == message.StreamResponseDone || ev.Type == message.StreamError {
				return
			}
		}
	}
	if err := stream.Err(); err != nil {
		out <- message.StreamEvent{Type: message.StreamError, Reason: p.wrapErr(err, model).Error()}
	}
}

// accumulator tracks the in-flight tool call and thinking-block state needed
// to turn Anthropic's multi-event content blocks into single tool_call_done/
// thinking_* semantic events. Mirrors the teacher's processStream locals.
type accumulator struct {
	toolCallID    string
	toolCallName  string
	toolInputJSON strings.Builder
	inThinking    bool
	inputTokens   int
	outputTokens  int
}

// parseEvent is the pure wire-chunk-to-semantic-events conversion required
// by §4.3's parse_stream_event. It is exercised directly (without any
// network I/O) by the adapter's tests.
func parseEvent(event anthropic.MessageStreamEventUnion, acc *accumulator) []message.StreamEvent {
	switch event.Type {
	case "message_start":
		ms := event.AsMessageStart()
		if ms.Message.Usage.InputTokens > 0 {
			acc.inputTokens = int(ms.Message.Usage.InputTokens)
		}
		return nil

	case "content_block_start":
		block := event.AsContentBlockStart().ContentBlock
		switch block.Type {
		case "thinking":
			acc.inThinking = true
			return []message.StreamEvent{{Type: message.StreamThinkingStart}}
		case "tool_use":
			tu := block.AsToolUse()
			acc.toolCallID = tu.ID
			acc.toolCallName = tu.Name
			acc.toolInputJSON.Reset()
			return []message.StreamEvent{{Type: message.StreamToolCallStart, CallID: tu.ID, ToolName: tu.Name}}
		}
		return nil

	case "content_block_delta":
		delta := event.AsContentBlockDelta().Delta
		switch delta.Type {
		case "text_delta":
			if delta.Text == "" {
				return nil
			}
			return []message.StreamEvent{{Type: message.StreamTextDelta, Text: delta.Text}}
		case "thinking_delta":
			if delta.Thinking == "" {
				return nil
			}
			return []message.StreamEvent{{Type: message.StreamThinkingDelta, Text: delta.Thinking}}
		case "input_json_delta":
			if delta.PartialJSON == "" {
				return nil
			}
			acc.toolInputJSON.WriteString(delta.PartialJSON)
			return []message.StreamEvent{{Type: message.StreamToolCallDelta, CallID: acc.toolCallID, ArgumentsJSONChunk: delta.PartialJSON}}
		}
		return nil

	case "content_block_stop":
		if acc.inThinking {
			acc.inThinking = false
			return nil
		}
		if acc.toolCallID != "" {
			args, parseErr := decodeArgs(acc.toolInputJSON.String())
			ev := message.StreamEvent{Type: message.StreamToolCallDone, CallID: acc.toolCallID, Arguments: args, ArgumentsParseError: parseErr}
			acc.toolCallID = ""
			acc.toolCallName = ""
			return []message.StreamEvent{ev}
		}
		return nil

	case "message_delta":
		md := event.AsMessageDelta()
		if md.Usage.OutputTokens > 0 {
			acc.outputTokens = int(md.Usage.OutputTokens)
		}
		return nil

	case "message_stop":
		return []message.StreamEvent{
			{Type: message.StreamUsage, Usage: &message.Usage{PromptTokens: acc.inputTokens, CompletionTokens: acc.outputTokens}},
			{Type: message.StreamResponseDone, Usage: &message.Usage{PromptTokens: acc.inputTokens, CompletionTokens: acc.outputTokens}},
		}

	case "error":
		return []message.StreamEvent{{Type: message.StreamError, Reason: "anthropic stream error"}}
	}
	return nil
}

func decodeArgs(raw string) (map[string]any, bool) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return map[string]any{}, true
	}
	return m, false
}

func (p *Provider) buildParams(model string, msgs []message.Message, tools []provider.ToolSchema, opts provider.StreamOptions) (anthropic.MessageNewParams, error) {
	wireMessages, err := convertMessages(msgs)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  wireMessages,
		MaxTokens: int64(maxTokens),
	}
	if opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: opts.System}}
	}
	if len(tools) > 0 {
		wireTools, err := convertTools(tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = wireTools
	}
	if opts.EnableThinking {
		budget := int64(opts.ThinkingBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	return params, nil
}

// convertMessages is the Provider Port's convert_messages for Anthropic:
// system messages are dropped (handled via params.System), tool_result
// messages become tool_result content blocks on a user message, and
// assistant tool_calls become tool_use content blocks.
func convertMessages(msgs []message.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, m := range msgs {
		if m.Role == message.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			content = append(content, anthropic.NewTextBlock(m.Content))
		}
		if m.Role == message.RoleToolResult {
			content = append(content, anthropic.NewToolResultBlock(m.CallID, m.Content, m.Error))
		}
		for _, tc := range m.ToolCalls {
			content = append(content, anthropic.NewToolUseBlock(tc.CallID, tc.Arguments, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if m.Role == message.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

// convertTools is the Provider Port's convert_tools for Anthropic.
func convertTools(tools []provider.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		out = append(out, param)
	}
	return out, nil
}

func (p *Provider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *Provider) wrapErr(err error, model string) *provider.Error {
	wrapped := provider.NewError("anthropic", model, err)
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		wrapped = wrapped.WithStatus(apiErr.StatusCode)
		if wrapped.Message == "" {
			wrapped.Message = "anthropic request failed"
		}
		wrapped.RequestID = apiErr.RequestID
	}
	return wrapped
}
