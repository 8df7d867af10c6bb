// Package transport is the JSON-RPC 2.0 duplex channel (§6.1) clients speak
// to reach the public core operations (pkg/agentapi). It is a consumer of
// Core, not part of it: Core stays transport-agnostic, and a different
// transport could be dropped in without touching pkg/agentapi.
//
// Grounded on haasonsaas-nexus's internal/gateway/ws_control_plane.go: one
// websocket connection, one read loop decoding frames and one write loop
// draining a buffered outbound channel, the pattern carried over unchanged.
// What differs is the wire format (JSON-RPC 2.0 request/response/
// notification, per §6.1, instead of the teacher's bespoke req/res/event
// envelope) and the methods available (the §6.2 operation table instead of
// chat.send/sessions.list/...).
package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opencoreharness/agentcore/internal/eventbus"
	"github.com/opencoreharness/agentcore/pkg/agentapi"
)

const (
	maxPayloadBytes = 1 << 20
	writeWait       = 10 * time.Second
	pongWait        = 45 * time.Second
	pingInterval    = 20 * time.Second
	sendBuffer      = 64
)

// jsonRPCVersion is the only value the "jsonrpc" member may take (JSON-RPC
// 2.0 §4).
const jsonRPCVersion = "2.0"

// request is an inbound JSON-RPC call. A nil ID marks a notification (no
// response expected); every §6.2 operation this transport exposes expects a
// response, so in practice every inbound frame carries an ID.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// response is an outbound JSON-RPC reply: exactly one of Result/Error is
// set.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// notification is an outbound JSON-RPC call with no ID: the AgentEvent
// stream forwarded from Core.Bus().
type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC 2.0 reserved error codes (§5.1), plus one above the reserved
// range for operation-specific failures this transport surfaces verbatim.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeOperationError = -32000
)

// Server upgrades incoming HTTP connections to websocket and serves the
// §6.2 operation table against a shared Core.
type Server struct {
	core     *agentapi.Core
	upgrader websocket.Upgrader
}

// New builds a Server over core. core must already be constructed (built by
// cmd/agentcored or any other caller) and is shared across every connection.
func New(core *agentapi.Core) *Server {
	return &Server{
		core: core,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs it until the client
// disconnects or the request context is cancelled.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn_{
		server: s,
		ws:     conn,
		send:   make(chan []byte, sendBuffer),
	}
	c.run(r)
}

// conn_ is one live client connection: its own read loop, write loop, and
// event-forwarding goroutine (one per subscribed session topic).
type conn_ struct {
	server *Server
	ws     *websocket.Conn
	send   chan []byte

	mu   sync.Mutex
	subs map[string]*eventbus.Subscription

	closed atomic.Bool
}

func (c *conn_) run(r *http.Request) {
	defer c.close()
	go c.writeLoop()
	c.readLoop(r)
}

func (c *conn_) close() {
	c.closed.Store(true)
	c.mu.Lock()
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.subs = nil
	c.mu.Unlock()
	close(c.send)
	_ = c.ws.Close()
}

func (c *conn_) readLoop(r *http.Request) {
	c.ws.SetReadLimit(maxPayloadBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		for _, line := range splitLines(data) {
			if len(line) == 0 {
				continue
			}
			c.handleFrame(r, line)
		}
	}
}

func (c *conn_) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn_) handleFrame(r *http.Request, raw []byte) {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		c.writeError(nil, codeParseError, "parse error")
		return
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		c.writeError(req.ID, codeInvalidRequest, "invalid request")
		return
	}
	c.dispatch(r, req)
}

func (c *conn_) writeResult(id json.RawMessage, result any) {
	c.enqueue(response{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (c *conn_) writeError(id json.RawMessage, code int, message string) {
	c.enqueue(response{JSONRPC: jsonRPCVersion, ID: id, Error: &rpcError{Code: code, Message: message}})
}

func (c *conn_) writeNotification(method string, params any) {
	c.enqueue(notification{JSONRPC: jsonRPCVersion, Method: method, Params: params})
}

func (c *conn_) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	data = append(data, '\n')
	select {
	case c.send <- data:
	default:
		// Slow consumer; drop rather than block the connection's other
		// traffic, matching the Event Bus's own non-blocking delivery.
	}
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	lines = append(lines, data[start:])
	return lines
}
