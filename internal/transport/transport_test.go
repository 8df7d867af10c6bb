package transport_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/opencoreharness/agentcore/internal/provider"
	"github.com/opencoreharness/agentcore/internal/provider/mock"
	"github.com/opencoreharness/agentcore/internal/transport"
	"github.com/opencoreharness/agentcore/pkg/agentapi"
)

func newTestServer(t *testing.T, p *mock.Provider) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	core, err := agentapi.NewCore(agentapi.Config{
		Providers:            map[string]provider.Provider{"mock": p},
		DefaultProvider:      "mock",
		DefaultContextWindow: 200000,
		StreamStallTimeout:   time.Minute,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(transport.New(core))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

func call(t *testing.T, conn *websocket.Conn, id int, method string, params any) map[string]any {
	t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	require.NoError(t, conn.WriteJSON(req))

	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		// Skip event notifications (no "id" member) while waiting for the
		// matching response.
		if _, isNotification := msg["method"]; isNotification {
			continue
		}
		return msg
	}
}

func TestStartSessionPromptGetState(t *testing.T) {
	p := mock.New(mock.TextTurn("hello there"))
	_, conn := newTestServer(t, p)

	start := call(t, conn, 1, "start_session", map[string]any{
		"model":       "mock-model",
		"working_dir": t.TempDir(),
	})
	require.Nil(t, start["error"])
	result, ok := start["result"].(map[string]any)
	require.True(t, ok)
	sessionID, _ := result["session"].(string)
	require.NotEmpty(t, sessionID)

	promptResp := call(t, conn, 2, "prompt", map[string]any{
		"session": sessionID,
		"text":    "hi",
	})
	require.Nil(t, promptResp["error"])

	require.Eventually(t, func() bool {
		stateResp := call(t, conn, 3, "get_state", map[string]any{"session": sessionID})
		if stateResp["error"] != nil {
			return false
		}
		state, ok := stateResp["result"].(map[string]any)
		if !ok {
			return false
		}
		return state["status"] == "idle" && state["message_count"] == float64(2)
	}, time.Second, 10*time.Millisecond)
}

func TestUnknownMethodReturnsMethodNotFoundError(t *testing.T) {
	p := mock.New(mock.TextTurn("hi"))
	_, conn := newTestServer(t, p)

	resp := call(t, conn, 1, "does_not_exist", nil)
	errPayload, ok := resp["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(-32601), errPayload["code"])
}

func TestStartSessionValidationErrorSurfacesAsRPCError(t *testing.T) {
	p := mock.New(mock.TextTurn("hi"))
	_, conn := newTestServer(t, p)

	resp := call(t, conn, 1, "start_session", map[string]any{"model": "mock-model"})
	errPayload, ok := resp["error"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, errPayload["message"], "working_dir")
}

func TestListSessionsAfterStartSession(t *testing.T) {
	p := mock.New(mock.TextTurn("hi"))
	_, conn := newTestServer(t, p)

	start := call(t, conn, 1, "start_session", map[string]any{
		"model":       "mock-model",
		"working_dir": t.TempDir(),
	})
	result := start["result"].(map[string]any)
	sessionID := result["session"].(string)

	listResp := call(t, conn, 2, "list_sessions", nil)
	result = listResp["result"].(map[string]any)
	sessions, ok := result["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, sessions, 1)
	first := sessions[0].(map[string]any)
	require.Equal(t, sessionID, first["id"])
}
