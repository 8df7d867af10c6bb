// Package gemini implements provider.Provider against the Google Gemini API,
// the third concrete Provider Port adapter (after anthropic and openai),
// proving the port generalizes across an SSE-content-block wire shape
// (Anthropic), a per-index delta wire shape (OpenAI), and a Part-sequence
// wire shape (Gemini).
//
// Grounded on fwojciec-pipe's gemini package: New/Stream/buildConfig mirror
// gemini/client.go's genai.Client wiring, and the per-part event mapping
// (FunctionCall / Thought / Text) in pump is adapted from gemini/stream.go's
// processPart onto message.StreamEvent instead of pipe.Event.
package gemini

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/opencoreharness/agentcore/internal/message"
	"github.com/opencoreharness/agentcore/internal/provider"
)

const defaultModel = "gemini-2.5-pro"
const defaultMaxTokens = 8192

// Config configures a Provider.
type Config struct {
	APIKey       string
	DefaultModel string
}

// Provider implements provider.Provider for Google's Gemini models.
type Provider struct {
	client       *genai.Client
	defaultModel string
}

// New constructs a Provider from cfg.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	model := cfg.DefaultModel
	if model == "" {
		model = defaultModel
	}
	return &Provider{client: client, defaultModel: model}, nil
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Models() []provider.Model {
	return []provider.Model{
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", ContextWindow: 1000000, SupportsVision: true},
		{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", ContextWindow: 1000000, SupportsVision: true},
	}
}

func (p *Provider) SupportsTools() bool { return true }

func (p *Provider) Stream(ctx context.Context, model string, msgs []message.Message, tools []provider.ToolSchema, opts provider.StreamOptions) (<-chan message.StreamEvent, error) {
	if model == "" {
		model = p.defaultModel
	}

	contents, err := convertMessages(msgs)
	if err != nil {
		return nil, fmt.Errorf("gemini: convert messages: %w", err)
	}
	config, err := buildConfig(tools, opts)
	if err != nil {
		return nil, fmt.Errorf("gemini: build config: %w", err)
	}

	iterSeq := p.client.Models.GenerateContentStream(ctx, model, contents, config)

	out := make(chan message.StreamEvent, 8)
	go func() {
		defer close(out)
		pump(ctx, iterSeq, out)
	}()
	return out, nil
}

func buildConfig(tools []provider.ToolSchema, opts provider.StreamOptions) (*genai.GenerateContentConfig, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	wireTools, err := convertTools(tools)
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Tools:           wireTools,
	}
	if opts.EnableThinking {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	if opts.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: opts.System}}}
	}
	return cfg, nil
}

// convertMessages is the Provider Port's convert_messages for Gemini: user
// and assistant roles map to "user"/"model", and tool_result messages
// become a FunctionResponse part on a "user"-role content block.
func convertMessages(msgs []message.Message) ([]*genai.Content, error) {
	var out []*genai.Content
	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			continue
		case message.RoleToolResult:
			response := map[string]any{"output": m.Content}
			if m.Error {
				response = map[string]any{"error": m.Content}
			}
			out = append(out, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{ID: m.CallID, Response: response},
				}},
			})
		case message.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID: tc.CallID, Name: tc.Name, Args: tc.Arguments,
				}})
			}
			if len(parts) == 0 {
				continue
			}
			out = append(out, &genai.Content{Role: "model", Parts: parts})
		default:
			if m.Content == "" {
				continue
			}
			out = append(out, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return out, nil
}

// convertTools is the Provider Port's convert_tools for Gemini.
func convertTools(tools []provider.ToolSchema) ([]*genai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool parameters for %s: %w", t.Name, err)
		}
		decls[i] = &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: schema,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

func pump(ctx context.Context, seq func(func(*genai.GenerateContentResponse, error) bool), out chan<- message.StreamEvent) {
	var inputTokens, outputTokens int
	var sentUsage bool

	emit := func(ev message.StreamEvent) bool {
		select {
		case <-ctx.Done():
			return false
		case out <- ev:
			return true
		}
	}

	seq(func(resp *genai.GenerateContentResponse, err error) bool {
		if err != nil {
			emit(message.StreamEvent{Type: message.StreamError, Reason: fmt.Sprintf("gemini: %s", err.Error())})
			return false
		}
		if resp == nil {
			return true
		}

		if resp.UsageMetadata != nil {
			inputTokens = int(resp.UsageMetadata.PromptTokenCount)
			outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			sentUsage = true
		}

		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" && len(resp.Candidates) == 0 {
			return emit(message.StreamEvent{Type: message.StreamError, Reason: fmt.Sprintf("prompt blocked: %s", resp.PromptFeedback.BlockReason)})
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return true
		}

		for _, part := range resp.Candidates[0].Content.Parts {
			if !emitPart(part, emit) {
				return false
			}
		}
		return true
	})

	usage := &message.Usage{PromptTokens: inputTokens, CompletionTokens: outputTokens}
	if sentUsage {
		emit(message.StreamEvent{Type: message.StreamUsage, Usage: usage})
	}
	emit(message.StreamEvent{Type: message.StreamResponseDone, Usage: usage})
}

func emitPart(part *genai.Part, emit func(message.StreamEvent) bool) bool {
	switch {
	case part.FunctionCall != nil:
		id := part.FunctionCall.ID
		if id == "" {
			id = generateToolCallID()
		}
		if !emit(message.StreamEvent{Type: message.StreamToolCallStart, CallID: id, ToolName: part.FunctionCall.Name}) {
			return false
		}
		args := part.FunctionCall.Args
		if args == nil {
			args = map[string]any{}
		}
		return emit(message.StreamEvent{Type: message.StreamToolCallDone, CallID: id, Arguments: args})

	case part.Thought:
		if part.Text == "" {
			return true
		}
		return emit(message.StreamEvent{Type: message.StreamThinkingDelta, Text: part.Text})

	case part.Text != "":
		return emit(message.StreamEvent{Type: message.StreamTextDelta, Text: part.Text})
	}
	return true
}

func generateToolCallID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "call_fallback"
	}
	return "call_" + hex.EncodeToString(b)
}
