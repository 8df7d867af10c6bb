package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opencoreharness/agentcore/internal/eventbus"
	"github.com/opencoreharness/agentcore/internal/fsm"
	"github.com/opencoreharness/agentcore/pkg/agentapi"
)

// dispatch routes one decoded request to its §6.2 operation and writes
// exactly one response frame.
func (c *conn_) dispatch(r *http.Request, req request) {
	ctx := r.Context()
	switch req.Method {
	case "start_session":
		c.startSession(ctx, req)
	case "prompt":
		c.prompt(req)
	case "abort":
		c.abort(ctx, req)
	case "set_model":
		c.setModel(req)
	case "set_thinking_level":
		c.setThinkingLevel(req)
	case "get_state":
		c.getState(req)
	case "get_context":
		c.getContext(req)
	case "compact":
		c.compact(ctx, req)
	case "branch":
		c.branch(req)
	case "list_sessions":
		c.listSessions(ctx, req)
	case "stop_session":
		c.stopSession(req)
	default:
		c.writeError(req.ID, codeMethodNotFound, "unknown method "+req.Method)
	}
}

func (c *conn_) params(req request, out any) bool {
	if len(req.Params) == 0 {
		return true
	}
	if err := json.Unmarshal(req.Params, out); err != nil {
		c.writeError(req.ID, codeInvalidParams, err.Error())
		return false
	}
	return true
}

func (c *conn_) fail(id json.RawMessage, err error) {
	c.writeError(id, codeOperationError, err.Error())
}

type startSessionParams struct {
	Model          string   `json:"model"`
	SystemPrompt   string   `json:"system_prompt,omitempty"`
	WorkingDir     string   `json:"working_dir"`
	Tools          []string `json:"tools,omitempty"`
	Provider       string   `json:"provider,omitempty"`
	SessionPersist bool     `json:"session_persist,omitempty"`
	SessionID      string   `json:"session_id,omitempty"`
}

func (c *conn_) startSession(ctx context.Context, req request) {
	var p startSessionParams
	if !c.params(req, &p) {
		return
	}
	id, err := c.server.core.StartSession(ctx, agentapi.SessionConfig{
		Model:          p.Model,
		SystemPrompt:   p.SystemPrompt,
		WorkingDir:     p.WorkingDir,
		Tools:          p.Tools,
		Provider:       p.Provider,
		SessionPersist: p.SessionPersist,
		SessionID:      p.SessionID,
	})
	if err != nil {
		c.fail(req.ID, err)
		return
	}
	c.subscribe(id)
	c.writeResult(req.ID, map[string]any{"session": id})
}

type sessionParams struct {
	Session string `json:"session"`
}

type promptParams struct {
	Session string `json:"session"`
	Text    string `json:"text"`
}

func (c *conn_) prompt(req request) {
	var p promptParams
	if !c.params(req, &p) {
		return
	}
	queued, err := c.server.core.Prompt(p.Session, p.Text)
	if err != nil {
		c.fail(req.ID, err)
		return
	}
	c.writeResult(req.ID, map[string]any{"queued": queued})
}

func (c *conn_) abort(ctx context.Context, req request) {
	var p sessionParams
	if !c.params(req, &p) {
		return
	}
	if err := c.server.core.Abort(ctx, p.Session); err != nil {
		c.fail(req.ID, err)
		return
	}
	c.writeResult(req.ID, map[string]any{"ok": true})
}

type setModelParams struct {
	Session string `json:"session"`
	Model   string `json:"model"`
}

func (c *conn_) setModel(req request) {
	var p setModelParams
	if !c.params(req, &p) {
		return
	}
	if err := c.server.core.SetModel(p.Session, p.Model); err != nil {
		c.fail(req.ID, err)
		return
	}
	c.writeResult(req.ID, map[string]any{"ok": true})
}

type setThinkingLevelParams struct {
	Session string `json:"session"`
	Level   string `json:"level"`
}

func (c *conn_) setThinkingLevel(req request) {
	var p setThinkingLevelParams
	if !c.params(req, &p) {
		return
	}
	if err := c.server.core.SetThinkingLevel(p.Session, fsm.ThinkingLevel(p.Level)); err != nil {
		c.fail(req.ID, err)
		return
	}
	c.writeResult(req.ID, map[string]any{"ok": true})
}

func (c *conn_) getState(req request) {
	var p sessionParams
	if !c.params(req, &p) {
		return
	}
	state, err := c.server.core.GetState(p.Session)
	if err != nil {
		c.fail(req.ID, err)
		return
	}
	c.writeResult(req.ID, state)
}

func (c *conn_) getContext(req request) {
	var p sessionParams
	if !c.params(req, &p) {
		return
	}
	path, err := c.server.core.GetContext(p.Session)
	if err != nil {
		c.fail(req.ID, err)
		return
	}
	c.writeResult(req.ID, map[string]any{"messages": path})
}

type compactParams struct {
	Session          string `json:"session"`
	KeepRecentTokens int    `json:"keep_recent_tokens,omitempty"`
}

func (c *conn_) compact(ctx context.Context, req request) {
	var p compactParams
	if !c.params(req, &p) {
		return
	}
	if err := c.server.core.Compact(ctx, p.Session, p.KeepRecentTokens); err != nil {
		c.fail(req.ID, err)
		return
	}
	c.writeResult(req.ID, map[string]any{"ok": true})
}

type branchParams struct {
	Session   string `json:"session"`
	MessageID string `json:"message_id"`
}

func (c *conn_) branch(req request) {
	var p branchParams
	if !c.params(req, &p) {
		return
	}
	if err := c.server.core.Branch(p.Session, p.MessageID); err != nil {
		c.fail(req.ID, err)
		return
	}
	c.writeResult(req.ID, map[string]any{"ok": true})
}

func (c *conn_) listSessions(ctx context.Context, req request) {
	summaries, err := c.server.core.ListSessions(ctx)
	if err != nil {
		c.fail(req.ID, err)
		return
	}
	c.writeResult(req.ID, map[string]any{"sessions": summaries})
}

func (c *conn_) stopSession(req request) {
	var p sessionParams
	if !c.params(req, &p) {
		return
	}
	if err := c.server.core.StopSession(p.Session); err != nil && !errors.Is(err, agentapi.ErrSessionNotFound) {
		c.fail(req.ID, err)
		return
	}
	c.unsubscribe(p.Session)
	c.writeResult(req.ID, map[string]any{"ok": true})
}

// subscribe starts forwarding sessionID's AgentEvents as JSON-RPC
// notifications named "event", one goroutine per subscription, for the
// lifetime of the connection or until unsubscribe/stop_session.
func (c *conn_) subscribe(sessionID string) {
	sub := c.server.core.Bus().Subscribe(sessionID)

	c.mu.Lock()
	if c.subs == nil {
		c.subs = make(map[string]*eventbus.Subscription)
	}
	c.subs[sessionID] = sub
	c.mu.Unlock()

	go func() {
		for ev := range sub.Events {
			if c.closed.Load() {
				return
			}
			c.writeNotification("event", ev)
		}
	}()
}

func (c *conn_) unsubscribe(sessionID string) {
	c.mu.Lock()
	sub, ok := c.subs[sessionID]
	if ok {
		delete(c.subs, sessionID)
	}
	c.mu.Unlock()
	if ok {
		sub.Unsubscribe()
	}
}
