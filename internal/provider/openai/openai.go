// Package openai implements provider.Provider against the OpenAI Chat
// Completions API, proving the Provider Port is provider-agnostic: the same
// Stream contract that internal/provider/anthropic satisfies against SSE
// content blocks is satisfied here against OpenAI's per-index tool-call
// delta stream.
//
// Grounded on haasonsaas-nexus's internal/agent/providers/openai.go: the
// retry loop, the index-keyed tool-call accumulation map, and model list are
// adapted onto message.StreamEvent / provider.Provider.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/opencoreharness/agentcore/internal/message"
	"github.com/opencoreharness/agentcore/internal/provider"
)

// Config configures a Provider.
type Config struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
}

// Provider implements provider.Provider for OpenAI's chat models.
type Provider struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
}

// New constructs a Provider from cfg.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client:     openai.NewClientWithConfig(clientCfg),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Models() []provider.Model {
	return []provider.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextWindow: 128000, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextWindow: 128000, SupportsVision: true},
		{ID: "gpt-4", Name: "GPT-4", ContextWindow: 8192},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextWindow: 16385},
	}
}

func (p *Provider) SupportsTools() bool { return true }

func (p *Provider) Stream(ctx context.Context, model string, msgs []message.Message, tools []provider.ToolSchema, opts provider.StreamOptions) (<-chan message.StreamEvent, error) {
	wireMessages, err := convertMessages(msgs, opts.System)
	if err != nil {
		return nil, fmt.Errorf("openai: convert messages: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: wireMessages,
		Stream:   true,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if len(tools) > 0 {
		req.Tools = convertTools(tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, req)
		if lastErr == nil {
			break
		}
		wrapped := p.wrapErr(lastErr, model)
		if wrapped.Class != provider.ClassTransient {
			return nil, wrapped
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", p.wrapErr(lastErr, model))
	}

	out := make(chan message.StreamEvent, 8)
	go p.pump(stream, out, model)
	return out, nil
}

// toolCallAccumulator tracks one index-keyed tool call being assembled
// across delta events, per OpenAI's streaming function-call format.
type toolCallAccumulator struct {
	id, name string
	args     strings.Builder
	started  bool
}

func (p *Provider) pump(stream *openai.ChatCompletionStream, out chan<- message.StreamEvent, model string) {
	defer close(out)
	defer stream.Close()

	calls := map[int]*toolCallAccumulator{}
	order := []int{}

	for {
		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				for _, idx := range order {
					acc := calls[idx]
					args, parseErr := decodeArgs(acc.args.String())
					out <- message.StreamEvent{Type: message.StreamToolCallDone, CallID: acc.id, Arguments: args, ArgumentsParseError: parseErr}
				}
				out <- message.StreamEvent{Type: message.StreamResponseDone}
				return
			}
			out <- message.StreamEvent{Type: message.StreamError, Reason: p.wrapErr(err, model).Error()}
			return
		}

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			out <- message.StreamEvent{Type: message.StreamTextDelta, Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := calls[idx]
			if !ok {
				acc = &toolCallAccumulator{}
				calls[idx] = acc
				order = append(order, idx)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			if !acc.started && acc.id != "" && acc.name != "" {
				acc.started = true
				out <- message.StreamEvent{Type: message.StreamToolCallStart, CallID: acc.id, ToolName: acc.name}
			}
			if tc.Function.Arguments != "" {
				acc.args.WriteString(tc.Function.Arguments)
				out <- message.StreamEvent{Type: message.StreamToolCallDelta, CallID: acc.id, ArgumentsJSONChunk: tc.Function.Arguments}
			}
		}

		if resp.Usage != nil {
			out <- message.StreamEvent{Type: message.StreamUsage, Usage: &message.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
			}}
		}
	}
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

// convertMessages is the Provider Port's convert_messages for OpenAI: the
// system prompt becomes the first "system" message, tool_result messages
// become "tool" role messages keyed by call_id, and assistant tool_calls
// carry OpenAI's ToolCalls array.
func convertMessages(msgs []message.Message, system string) ([]openai.ChatCompletionMessage, error) {
	var out []openai.ChatCompletionMessage
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			continue
		case message.RoleToolResult:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.CallID,
			})
		case message.RoleAssistant:
			wireMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				argsJSON, err := json.Marshal(tc.Arguments)
				if err != nil {
					return nil, fmt.Errorf("marshal tool call arguments for %s: %w", tc.Name, err)
				}
				wireMsg.ToolCalls = append(wireMsg.ToolCalls, openai.ToolCall{
					ID:   tc.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			out = append(out, wireMsg)
		default:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		}
	}
	return out, nil
}

// convertTools is the Provider Port's convert_tools for OpenAI.
func convertTools(tools []provider.ToolSchema) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.Parameters),
			},
		})
	}
	return out
}

func (p *Provider) wrapErr(err error, model string) *provider.Error {
	wrapped := provider.NewError("openai", model, err)
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		wrapped = wrapped.WithStatus(apiErr.HTTPStatusCode)
		if wrapped.Message == "" {
			wrapped.Message = apiErr.Message
		}
		wrapped.Code = fmt.Sprint(apiErr.Code)
	}
	return wrapped
}
