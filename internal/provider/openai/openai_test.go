package openai

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"context"

	"github.com/stretchr/testify/require"

	"github.com/opencoreharness/agentcore/internal/message"
	"github.com/opencoreharness/agentcore/internal/provider"
)

func sseServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func TestStreamEmitsTextDeltas(t *testing.T) {
	server := sseServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":"Hello"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":" world"}}]}`,
	})
	defer server.Close()

	p, err := New(Config{APIKey: "test-key", BaseURL: server.URL, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	ch, err := p.Stream(context.Background(), "gpt-4o", nil, nil, provider.StreamOptions{})
	require.NoError(t, err)

	var text string
	var sawDone bool
	for ev := range ch {
		switch ev.Type {
		case message.StreamTextDelta:
			text += ev.Text
		case message.StreamResponseDone:
			sawDone = true
		}
	}
	require.Equal(t, "Hello world", text)
	require.True(t, sawDone)
}

func TestStreamAssemblesToolCallAcrossDeltas(t *testing.T) {
	idx := 0
	server := sseServer(t, []string{
		fmt.Sprintf(`{"id":"1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":%d,"id":"call-1","type":"function","function":{"name":"search","arguments":""}}]}}]}`, idx),
		fmt.Sprintf(`{"id":"1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":%d,"function":{"arguments":"{\"q\":"}}]}}]}`, idx),
		fmt.Sprintf(`{"id":"1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":%d,"function":{"arguments":"\"go\"}"}}]}}]}`, idx),
	})
	defer server.Close()

	p, err := New(Config{APIKey: "test-key", BaseURL: server.URL, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	ch, err := p.Stream(context.Background(), "gpt-4o", nil, nil, provider.StreamOptions{})
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
	require.Equal(t, "go", done.Arguments["q"])
}

func TestConvertMessagesMapsToolResultToToolRole(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleUser, Content: "hi"},
		{Role: message.RoleToolResult, CallID: "call-1", Content: "42"},
	}
	wire, err := convertMessages(msgs, "be terse")
	require.NoError(t, err)
	require.Len(t, wire, 3)
	require.Equal(t, "system", wire[0].Role)
	require.Equal(t, "tool", wire[2].Role)
	require.Equal(t, "call-1", wire[2].ToolCallID)
}
