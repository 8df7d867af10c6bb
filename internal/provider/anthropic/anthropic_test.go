package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencoreharness/agentcore/internal/message"
	"github.com/opencoreharness/agentcore/internal/provider"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
		flusher.Flush()
	}))
}

func textStreamLines() []string {
	return []string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-20250514","content":[],"usage":{"input_tokens":10,"output_tokens":0}}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`,
		``,
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`,
		``,
		`event: message_delta`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	}
}

func toolCallStreamLines() []string {
	return []string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"id":"msg_2","type":"message","role":"assistant","model":"claude-sonnet-4-20250514","content":[],"usage":{"input_tokens":5,"output_tokens":0}}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"call-1","name":"search","input":{}}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"q\":"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"go\"}"}}`,
		``,
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	}
}

func TestStreamEmitsTextDeltasAndResponseDone(t *testing.T) {
	server := sseServer(t, textStreamLines())
	defer server.Close()

	p, err := New(Config{APIKey: "test-key", BaseURL: server.URL, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	ch, err := p.Stream(context.Background(), "claude-sonnet-4-20250514", nil, nil, provider.StreamOptions{})
	require.NoError(t, err)

	var text string
	var sawDone bool
	for ev := range ch {
		switch ev.Type {
		case message.StreamTextDelta:
			text += ev.Text
		case message.StreamResponseDone:
			sawDone = true
			require.NotNil(t, ev.Usage)
			require.Equal(t, 10, ev.Usage.PromptTokens)
			require.Equal(t, 2, ev.Usage.CompletionTokens)
		}
	}
	require.Equal(t, "Hello world", text)
	require.True(t, sawDone)
}

func TestStreamAssemblesToolCallArguments(t *testing.T) {
	server := sseServer(t, toolCallStreamLines())
	defer server.Close()

	p, err := New(Config{APIKey: "test-key", BaseURL: server.URL, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	ch, err := p.Stream(context.Background(), "claude-sonnet-4-20250514", nil, nil, provider.StreamOptions{})
	require.NoError(t, err)

	var start, done *message.StreamEvent
	for ev := range ch {
		ev := ev
		switch ev.Type {
		case message.StreamToolCallStart:
			start = &ev
		case message.StreamToolCallDone:
			done = &ev
		}
	}
	require.NotNil(t, start)
	require.Equal(t, "search", start.ToolName)
	require.NotNil(t, done)
	require.False(t, done.ArgumentsParseError)
	require.Equal(t, "go", done.Arguments["q"])
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestModelsIncludesSonnetAndOpus(t *testing.T) {
	p, err := New(Config{APIKey: "test-key"})
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, m := range p.Models() {
		ids[m.ID] = true
	}
	require.True(t, ids["claude-sonnet-4-20250514"])
	require.True(t, ids["claude-opus-4-20250514"])
}

func TestConvertMessagesSkipsSystemAndConvertsToolResult(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleSystem, Content: "be terse"},
		{Role: message.RoleUser, Content: "hi"},
		{Role: message.RoleToolResult, CallID: "call-1", Content: "42", Error: false},
	}
	wire, err := convertMessages(msgs)
	require.NoError(t, err)
	require.Len(t, wire, 2)
}
