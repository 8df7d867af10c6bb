package agentapi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/opencoreharness/agentcore/internal/contextmgr"
	"github.com/opencoreharness/agentcore/internal/fsm"
	"github.com/opencoreharness/agentcore/internal/message"
	"github.com/opencoreharness/agentcore/internal/provider"
	"github.com/opencoreharness/agentcore/internal/session"
	"github.com/opencoreharness/agentcore/internal/session/sqlitestore"
	"github.com/opencoreharness/agentcore/internal/supervisor"
	"github.com/opencoreharness/agentcore/internal/tools"
)

// StartSession implements start_session (§6.2): validates the request,
// builds a session-scoped tool registry and Agent FSM, and starts its
// SessionServer under a dedicated Supervisor so a crash mid-turn restarts
// just this session. Returns the session handle (its ID).
func (c *Core) StartSession(ctx context.Context, cfg SessionConfig) (string, error) {
	if cfg.WorkingDir == "" {
		return "", ErrInvalidWorkingDir
	}
	if info, err := os.Stat(cfg.WorkingDir); err != nil || !info.IsDir() {
		return "", ErrInvalidWorkingDir
	}

	providerName := cfg.Provider
	if providerName == "" {
		providerName = c.cfg.DefaultProvider
	}
	resolvedProvider, ok := c.cfg.Providers[providerName]
	if !ok {
		return "", ErrUnknownProvider
	}
	contextWindow := c.cfg.DefaultContextWindow
	if cfg.Model == "" {
		return "", ErrInvalidModel
	}
	if models := resolvedProvider.Models(); len(models) > 0 {
		found := false
		for _, m := range models {
			if m.ID == cfg.Model {
				found = true
				contextWindow = m.ContextWindow
				break
			}
		}
		if !found {
			return "", ErrInvalidModel
		}
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if _, exists := c.get(sessionID); exists {
		return sessionID, nil
	}

	c.mu.RLock()
	count := len(c.sessions)
	c.mu.RUnlock()
	if c.cfg.MaxSessions > 0 && count >= c.cfg.MaxSessions {
		return "", ErrMaxSessionsReached
	}

	var persist session.PersistFunc
	if cfg.SessionPersist && c.cfg.LogDir != "" {
		f, err := session.AppendLogWriter(sessionLogPath(c.cfg.LogDir, sessionID))
		if err != nil {
			return "", fmt.Errorf("agentapi: open session log: %w", err)
		}
		persist = f
	}
	sess := session.New(sessionID, persist)

	registry, toolNames := c.filterRegistry(cfg.Tools)
	newAgent := c.newAgentFactory(cfg, resolvedProvider, registry, contextWindow)
	server := supervisor.NewSessionServer(sess, c.cfg.Bus, newAgent)

	if c.cfg.Catalog != nil {
		now := time.Now()
		if err := c.cfg.Catalog.Create(ctx, sqlitestore.Record{
			ID:        sessionID,
			LogPath:   sessionLogPath(c.cfg.LogDir, sessionID),
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return "", fmt.Errorf("agentapi: catalog session: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	onCrash := c.cfg.OnCrash
	if onCrash == nil {
		onCrash = func(supervisor.CrashReport) {}
	}
	sup := supervisor.New(c.cfg.RestartPolicy, onCrash, server)
	go sup.Run(runCtx)

	c.mu.Lock()
	c.sessions[sessionID] = &sessionEntry{
		server:    server,
		cancel:    cancel,
		provider:  resolvedProvider,
		model:     cfg.Model,
		toolNames: toolNames,
		created:   time.Now(),
	}
	c.mu.Unlock()

	return sessionID, nil
}

// filterRegistry builds the per-session Tool Registry: allowedNames, when
// non-empty, is an explicit allow-list; every tool is additionally subject
// to Config.Features' tag-based gating (§6.5).
func (c *Core) filterRegistry(allowedNames []string) (*tools.Registry, []string) {
	var allow map[string]bool
	if len(allowedNames) > 0 {
		allow = make(map[string]bool, len(allowedNames))
		for _, n := range allowedNames {
			allow[n] = true
		}
	}

	out := tools.NewRegistry()
	var names []string
	for _, t := range c.cfg.BaseRegistry.List() {
		if allow != nil && !allow[t.Name()] {
			continue
		}
		if tools.HasTag(t, tools.TagSubAgent) && !c.cfg.Features.SubAgents {
			continue
		}
		if tools.HasTag(t, tools.TagSkill) && !c.cfg.Features.Skills {
			continue
		}
		if tools.HasTag(t, tools.TagMCP) && !c.cfg.Features.MCP {
			continue
		}
		if tools.HasTag(t, tools.TagDebug) && !c.cfg.Features.Debug {
			continue
		}
		out.Register(t)
		names = append(names, t.Name())
	}
	return out, names
}

// Prompt implements prompt (§6.2): non-blocking, returning whether the
// turn had to queue behind a busy FSM.
func (c *Core) Prompt(sessionID, text string) (queued bool, err error) {
	e, ok := c.get(sessionID)
	if !ok {
		return false, ErrSessionNotFound
	}
	return e.server.PromptAsync(text), nil
}

// Abort implements abort (§6.2).
func (c *Core) Abort(ctx context.Context, sessionID string) error {
	e, ok := c.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return e.server.Abort(ctx)
}

// SetModel implements set_model (§6.2).
func (c *Core) SetModel(sessionID, model string) error {
	e, ok := c.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if models := e.provider.Models(); len(models) > 0 {
		found := false
		for _, m := range models {
			if m.ID == model {
				found = true
				break
			}
		}
		if !found {
			return ErrInvalidModel
		}
	}
	agent := e.server.Agent()
	if agent == nil {
		return ErrSessionNotFound
	}
	agent.SetModel(model)
	c.mu.Lock()
	e.model = model
	c.mu.Unlock()
	return nil
}

// SetThinkingLevel implements set_thinking_level (§6.2).
func (c *Core) SetThinkingLevel(sessionID string, level fsm.ThinkingLevel) error {
	e, ok := c.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	agent := e.server.Agent()
	if agent == nil {
		return ErrSessionNotFound
	}
	if err := agent.SetThinkingLevel(level); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedThinking, err)
	}
	return nil
}

// GetState implements get_state (§6.2): returns immediately with a
// snapshot, never routing through the session's mailbox.
func (c *Core) GetState(sessionID string) (StateSnapshot, error) {
	e, ok := c.get(sessionID)
	if !ok {
		return StateSnapshot{}, ErrSessionNotFound
	}
	agent := e.server.Agent()
	if agent == nil {
		return StateSnapshot{}, ErrSessionNotFound
	}
	path, err := e.server.Session().GetPath()
	if err != nil {
		return StateSnapshot{}, err
	}
	return StateSnapshot{
		Status:       agent.GetState(),
		Model:        agent.Model(),
		MessageCount: len(path),
		Tools:        e.toolNames,
		Usage:        agent.Usage(),
		WorkingDir:   agent.WorkingDir(),
	}, nil
}

// GetContext implements get_context (§6.2): the active path, root to leaf.
func (c *Core) GetContext(sessionID string) ([]message.Message, error) {
	e, ok := c.get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.server.Session().GetPath()
}

// Compact implements compact (§6.2). keepRecentTokens <= 0 falls back to
// Config.KeepRecentTokensDefault, then to the Context Manager's own
// default budget.
func (c *Core) Compact(ctx context.Context, sessionID string, keepRecentTokens int) error {
	e, ok := c.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	sess := e.server.Session()
	path, err := sess.GetPath()
	if err != nil {
		return err
	}
	if keepRecentTokens <= 0 {
		keepRecentTokens = c.cfg.KeepRecentTokensDefault
	}
	if keepRecentTokens <= 0 {
		window := c.cfg.DefaultContextWindow
		if agent := e.server.Agent(); agent != nil {
			window = contextWindowFor(e.provider, agent.Model(), window)
		}
		keepRecentTokens = contextmgr.KeepRecentTokens(window, false)
	}
	_, err = contextmgr.Compact(ctx, sess, path, keepRecentTokens, c.cfg.Summarizer, contextmgr.FileOps{})
	return err
}

func contextWindowFor(p provider.Provider, model string, fallback int) int {
	for _, m := range p.Models() {
		if m.ID == model {
			return m.ContextWindow
		}
	}
	return fallback
}

// Branch implements branch (§6.2).
func (c *Core) Branch(sessionID, messageID string) error {
	e, ok := c.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if err := e.server.Session().Branch(messageID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	return nil
}

// ListSessions implements list_sessions (§6.2). When Config.Catalog is
// set, the durable catalog is the source of truth for which sessions
// exist; otherwise only sessions open in this process are listed.
func (c *Core) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cfg.Catalog == nil {
		out := make([]SessionSummary, 0, len(c.sessions))
		for id, e := range c.sessions {
			out = append(out, summarize(id, e))
		}
		return out, nil
	}

	records, err := c.cfg.Catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(records))
	for _, r := range records {
		summary := SessionSummary{ID: r.ID, Title: r.Title, Status: fsm.StateIdle, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
		if e, ok := c.sessions[r.ID]; ok {
			live := summarize(r.ID, e)
			summary.Model = live.Model
			summary.Status = live.Status
		}
		out = append(out, summary)
	}
	return out, nil
}

func summarize(id string, e *sessionEntry) SessionSummary {
	status := fsm.StateIdle
	model := e.model
	if agent := e.server.Agent(); agent != nil {
		status = agent.GetState()
		model = agent.Model()
	}
	return SessionSummary{ID: id, Model: model, Status: status, CreatedAt: e.created}
}

// StopSession implements stop_session (§6.2): tears down the session's
// process group. The persisted log and catalog record, if any, survive —
// stop_session retires the in-process runtime, not the conversation.
func (c *Core) StopSession(sessionID string) error {
	c.mu.Lock()
	e, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	e.cancel()
	return nil
}
