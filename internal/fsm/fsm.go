// Package fsm implements the Agent FSM: the four-state machine
// (idle -> running -> streaming -> executing_tools) that sequences a
// session's turns, wiring the Event Bus, Message & Session Store, Provider
// Port, Stream Reducer, Tool Registry & Runner, Conversation Repair, and
// Context Manager into one coherent run_turn.
//
//	┌──────┐  prompt   ┌─────────┐  stream ok  ┌───────────┐
//	│ idle │──────────▶│ running │────────────▶│ streaming │
//	└──────┘           └─────────┘              └───────────┘
//	    ▲                   ▲                        │
//	    │                   │        terminal,        │
//	    │   turn_end        └── tool_calls ───────────┘
//	    │                   ┌────────────────┐
//	    └───────────────────│ executing_tools│
//	     abort / permanent  └────────────────┘
//	     error / clean, no-tool-call terminal
//
// Grounded on haasonsaas-nexus's internal/agent/loop.go AgenticLoop, whose
// Init/Stream/ExecuteTools/Complete/Continue phases are the same shape
// generalized here onto explicit States and the Provider Port / Stream
// Reducer / Tool Runner packages built for this harness, and on
// internal/agent/providers/anthropic.go's exponential-backoff retry loop
// for the transient-error retry path.
package fsm

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/opencoreharness/agentcore/internal/contextmgr"
	"github.com/opencoreharness/agentcore/internal/eventbus"
	"github.com/opencoreharness/agentcore/internal/message"
	"github.com/opencoreharness/agentcore/internal/provider"
	"github.com/opencoreharness/agentcore/internal/reducer"
	"github.com/opencoreharness/agentcore/internal/repair"
	"github.com/opencoreharness/agentcore/internal/session"
	"github.com/opencoreharness/agentcore/internal/tools"
)

// State is one of the Agent FSM's four states.
type State string

const (
	StateIdle           State = "idle"
	StateRunning        State = "running"
	StateStreaming      State = "streaming"
	StateExecutingTools State = "executing_tools"
)

const (
	// defaultMaxRetries bounds the transient-error retry loop before the
	// turn is surfaced as a permanent error.
	defaultMaxRetries = 5

	// defaultRetryBaseDelay is the exponential-backoff base: delay =
	// base * 2^attempt, matching the teacher's anthropic adapter.
	defaultRetryBaseDelay = time.Second

	// defaultStreamWatchdog cancels a stream that yields no event for
	// this long and treats it as a transient error.
	defaultStreamWatchdog = 90 * time.Second
)

// Config wires an Agent's collaborators and tuning parameters.
type Config struct {
	Provider      provider.Provider
	Registry      *tools.Registry
	Bus           *eventbus.Bus
	Summarizer    contextmgr.Summarizer
	Model         string
	ContextWindow int
	SystemPrompt  string
	MaxTokens     int
	WorkingDir    string

	// Runner, when non-nil, is used instead of a bare tools.NewRunner(Registry,
	// Bus), so a caller can pre-configure its Approval/Validator/Jobs hooks.
	Runner *tools.Runner

	MaxRetries      int
	RetryBaseDelay  time.Duration
	StreamWatchdog  time.Duration
	PersistOnIdle   func(*session.Session) error
	GenerateTitle   func(ctx context.Context, firstUserMessage string) (string, error)
}

func (c *Config) sanitize() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = defaultRetryBaseDelay
	}
	if c.StreamWatchdog <= 0 {
		c.StreamWatchdog = defaultStreamWatchdog
	}
}

// ThinkingLevel is the set_thinking_level operation's level vocabulary
// (§6.2), mapped onto the Provider Port's EnableThinking/
// ThinkingBudgetTokens StreamOptions.
type ThinkingLevel string

const (
	ThinkingOff    ThinkingLevel = "off"
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
	ThinkingMax    ThinkingLevel = "max"
)

// thinkingBudgets maps each level to a thinking-token budget. Chosen to
// scale roughly geometrically; "off" disables thinking entirely.
var thinkingBudgets = map[ThinkingLevel]int{
	ThinkingOff:    0,
	ThinkingLow:    1024,
	ThinkingMedium: 4096,
	ThinkingHigh:   16384,
	ThinkingMax:    32768,
}

// Agent drives one session's turns through the Agent FSM. Safe for
// concurrent use: Prompt/Steer/Abort/GetState all serialize through an
// internal mutex, mirroring the teacher's single-owner-process mailbox.
type Agent struct {
	cfg     Config
	session *session.Session
	runner  *tools.Runner

	mu             sync.Mutex
	state          State
	pendingPrompts []string
	retryCount     int
	fileOps        contextmgr.FileOps
	cancelActive   context.CancelFunc
	abortRequested bool
	thinking       ThinkingLevel
	lastUsage      message.Usage
}

// New builds an Agent for sess, idle until Prompt is called.
func New(cfg Config, sess *session.Session) *Agent {
	cfg.sanitize()
	runner := cfg.Runner
	if runner == nil {
		runner = tools.NewRunner(cfg.Registry, cfg.Bus)
	}
	return &Agent{
		cfg:     cfg,
		session: sess,
		runner:  runner,
		state:   StateIdle,
	}
}

// GetState returns the current FSM state.
func (a *Agent) GetState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SetModel updates the model used for subsequent turns. Synchronous,
// idempotent, valid from any state (§4.6).
func (a *Agent) SetModel(model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Model = model
}

// Model returns the model used for the next turn.
func (a *Agent) Model() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Model
}

// WorkingDir returns the session's working directory.
func (a *Agent) WorkingDir() string {
	return a.cfg.WorkingDir
}

// Usage returns the most recently reported token usage for this session.
func (a *Agent) Usage() message.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastUsage
}

// SetThinkingLevel sets the thinking budget applied to subsequent turns.
// An empty level is treated as ThinkingOff. Synchronous, idempotent,
// valid from any state (§4.6's "synchronous calls" row).
func (a *Agent) SetThinkingLevel(level ThinkingLevel) error {
	if level == "" {
		level = ThinkingOff
	}
	if _, ok := thinkingBudgets[level]; !ok {
		return fmt.Errorf("fsm: unsupported thinking level %q", level)
	}
	a.mu.Lock()
	a.thinking = level
	a.mu.Unlock()
	return nil
}

// ThinkingLevel returns the thinking level applied to subsequent turns.
func (a *Agent) ThinkingLevel() ThinkingLevel {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.thinking == "" {
		return ThinkingOff
	}
	return a.thinking
}

// Steer appends a user message without starting a turn. Valid from idle;
// from any busier state it is equivalent to Prompt in that it queues
// (§4.6's "append user message (not yet a turn)" applies once idle).
func (a *Agent) Steer(text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateIdle {
		a.pendingPrompts = append(a.pendingPrompts, text)
		return nil
	}
	_, err := a.session.Append(message.Message{Role: message.RoleUser, Content: text})
	return err
}

// Prompt appends a user message and, if idle, starts a turn. If busy, the
// prompt is queued in pending_prompts and drained at the next turn start
// or dispatch-loop steering point.
func (a *Agent) Prompt(ctx context.Context, text string) error {
	a.mu.Lock()
	if a.state != StateIdle {
		a.pendingPrompts = append(a.pendingPrompts, text)
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	isFirstTurn := a.session.CurrentID() == message.NoParent

	if _, err := a.session.Append(message.Message{Role: message.RoleUser, Content: text}); err != nil {
		return err
	}

	if isFirstTurn {
		a.generateTitleInBackground(text)
	}

	return a.runTurn(ctx)
}

// generateTitleInBackground fires the optional title-generation call for
// the session's first user turn. Failure never affects the main turn
// (§4.6 "Title generation").
func (a *Agent) generateTitleInBackground(firstUserMessage string) {
	if a.cfg.GenerateTitle == nil {
		return
	}
	go func() {
		title, err := a.cfg.GenerateTitle(context.Background(), firstUserMessage)
		if err != nil || title == "" {
			return
		}
		a.session.SetMetadata("title", title)
	}()
}

// Abort cancels whatever is in flight (streaming or executing_tools),
// repairs any now-orphaned tool calls, broadcasts agent_abort, and
// returns the FSM to idle. A no-op from idle (§4.6).
func (a *Agent) Abort() {
	a.mu.Lock()
	cancel := a.cancelActive
	state := a.state
	if state != StateIdle {
		a.abortRequested = true
	}
	a.mu.Unlock()

	if state == StateIdle {
		return
	}
	if cancel != nil {
		cancel()
	}
}

// consumeAbortRequested reports and clears whether Abort was called since
// the flag was last cleared, distinguishing a user-requested abort from an
// internally cancelled context (the stream watchdog).
func (a *Agent) consumeAbortRequested() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	was := a.abortRequested
	a.abortRequested = false
	return was
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Agent) drainPendingPrompts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pendingPrompts
	a.pendingPrompts = nil
	return out
}

func (a *Agent) publish(ev message.AgentEvent) {
	if a.cfg.Bus == nil {
		return
	}
	ev.SessionID = a.session.ID()
	ev.Time = time.Now()
	a.cfg.Bus.Publish(a.session.ID(), ev)
}

// runTurn is §4.6's run_turn: drain pending prompts, full-scan orphan
// repair, auto-compact if needed, and open a Provider stream.
func (a *Agent) runTurn(ctx context.Context) error {
	for _, p := range a.drainPendingPrompts() {
		if _, err := a.session.Append(message.Message{Role: message.RoleUser, Content: p}); err != nil {
			return err
		}
	}

	path, err := a.session.GetPath()
	if err != nil {
		return err
	}
	if synthetic := repair.RepairOrphans(path, false); len(synthetic) > 0 {
		for _, m := range synthetic {
			if _, err := a.session.Append(m); err != nil {
				return err
			}
		}
		path, err = a.session.GetPath()
		if err != nil {
			return err
		}
	}

	if a.cfg.ContextWindow > 0 {
		estimated := contextmgr.EstimateTokens(path, 0, 0)
		if contextmgr.ShouldAutoCompact(estimated, a.cfg.ContextWindow) {
			a.publish(message.AgentEvent{Type: message.EventCompactionStart, CompactionBefore: estimated})
			keep := contextmgr.KeepRecentTokens(a.cfg.ContextWindow, false)
			result, cerr := contextmgr.Compact(ctx, a.session, path, keep, a.cfg.Summarizer, a.fileOps)
			if cerr == nil && result.Compacted {
				a.fileOps = result.RemainingOps
				path, err = a.session.GetPath()
				if err != nil {
					return err
				}
			}
			after := contextmgr.EstimateTokens(path, 0, 0)
			a.publish(message.AgentEvent{Type: message.EventCompactionEnd, CompactionAfter: after})
		}
	}

	return a.runProviderTurn(ctx, repair.Reposition(path))
}

// runProviderTurn is the "running" state: call Provider.stream and react
// to its outcome per §4.6's state table.
func (a *Agent) runProviderTurn(ctx context.Context, messages []message.Message) error {
	a.setState(StateRunning)

	level := a.ThinkingLevel()
	stream, err := a.cfg.Provider.Stream(ctx, a.cfg.Model, messages, a.toolSchemas(), provider.StreamOptions{
		System:               a.cfg.SystemPrompt,
		MaxTokens:            a.cfg.MaxTokens,
		EnableThinking:       level != ThinkingOff,
		ThinkingBudgetTokens: thinkingBudgets[level],
	})
	if err != nil {
		return a.handleProviderError(ctx, err)
	}

	return a.streamTurn(ctx, stream)
}

func (a *Agent) toolSchemas() []provider.ToolSchema {
	if a.cfg.Registry == nil {
		return nil
	}
	var out []provider.ToolSchema
	for _, t := range a.cfg.Registry.List() {
		tags := make([]string, 0, len(t.Tags()))
		for _, tg := range t.Tags() {
			tags = append(tags, string(tg))
		}
		out = append(out, provider.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
			Tags:        tags,
		})
	}
	return out
}

// handleProviderError classifies a synchronous Stream failure and acts per
// §4.6's running-state error rows.
func (a *Agent) handleProviderError(ctx context.Context, err error) error {
	switch provider.Classify(err) {
	case provider.ClassOverflow:
		return a.recoverFromOverflow(ctx, err)
	case provider.ClassTransient:
		return a.retryTurn(ctx, err)
	default:
		a.publish(message.AgentEvent{Type: message.EventError, Reason: err.Error()})
		a.setState(StateIdle)
		a.autoSave()
		return err
	}
}

func (a *Agent) retryTurn(ctx context.Context, cause error) error {
	a.mu.Lock()
	a.retryCount++
	attempt := a.retryCount
	a.mu.Unlock()

	if attempt > a.cfg.MaxRetries {
		a.publish(message.AgentEvent{Type: message.EventError, Reason: fmt.Sprintf("max retries exceeded: %v", cause)})
		a.setState(StateIdle)
		a.autoSave()
		a.mu.Lock()
		a.retryCount = 0
		a.mu.Unlock()
		return cause
	}

	backoff := time.Duration(float64(a.cfg.RetryBaseDelay) * math.Pow(2, float64(attempt-1)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
	}
	return a.runTurn(ctx)
}

func (a *Agent) recoverFromOverflow(ctx context.Context, cause error) error {
	a.mu.Lock()
	a.retryCount = 0
	a.mu.Unlock()

	path, err := a.session.GetPath()
	if err != nil {
		return err
	}
	if _, err := contextmgr.Recover(ctx, a.session, path, a.cfg.ContextWindow, a.cfg.Summarizer, a.fileOps); err != nil {
		a.publish(message.AgentEvent{Type: message.EventError, Reason: fmt.Sprintf("overflow recovery failed: %v (original: %v)", err, cause)})
		a.setState(StateIdle)
		return err
	}
	return a.runTurn(ctx)
}

// streamTurn is the "streaming" state: fold the provider's channel through
// the Stream Reducer, guard against the watchdog, and finalize on
// response_done (§4.6, §4.7 Layer 3).
func (a *Agent) streamTurn(ctx context.Context, stream <-chan message.StreamEvent) error {
	streamCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelActive = cancel
	a.mu.Unlock()
	defer func() {
		cancel()
		a.mu.Lock()
		a.cancelActive = nil
		a.mu.Unlock()
	}()

	a.setState(StateStreaming)

	state := reducer.State{}
	watchdog := time.NewTimer(a.cfg.StreamWatchdog)
	defer watchdog.Stop()

	for {
		select {
		case <-streamCtx.Done():
			if ctx.Err() != nil || a.consumeAbortRequested() {
				a.handleAbort()
				return ctx.Err()
			}
			// Neither the caller's context nor an explicit Abort cancelled
			// us: the watchdog timer fired. Treat as a transient error.
			return a.retryTurn(ctx, fmt.Errorf("stream watchdog: no event for %s", a.cfg.StreamWatchdog))

		case <-watchdog.C:
			cancel()

		case ev, ok := <-stream:
			if !ok {
				return a.finalizeTurn(ctx, state)
			}
			if !watchdog.Stop() {
				select {
				case <-watchdog.C:
				default:
				}
			}
			watchdog.Reset(a.cfg.StreamWatchdog)

			next, events := reducer.Reduce(state, ev)
			state = next
			a.mu.Lock()
			a.lastUsage = message.Usage{PromptTokens: state.LastPromptTokens, CompletionTokens: state.LastCompletionTokens}
			a.mu.Unlock()
			for _, e := range events {
				a.publish(e)
			}
			if state.TurnComplete {
				return a.finalizeTurn(ctx, state)
			}
		}
	}
}

func (a *Agent) handleAbort() {
	path, err := a.session.GetPath()
	if err == nil {
		if synthetic := repair.RepairOrphans(path, true); len(synthetic) > 0 {
			for _, m := range synthetic {
				a.session.Append(m)
			}
		}
	}
	a.publish(message.AgentEvent{Type: message.EventAgentAbort})
	a.setState(StateIdle)
	a.autoSave()
}

// finalizeTurn is §4.7 Layer 3 plus the terminal row of §4.6's streaming
// state: discard on stream_errored, otherwise commit the assistant
// message and either dispatch tools or end the turn cleanly.
func (a *Agent) finalizeTurn(ctx context.Context, state reducer.State) error {
	if discard, reason := repair.StreamErrorGuard(state); discard {
		a.publish(message.AgentEvent{Type: message.EventError, Reason: reason})
		a.setState(StateIdle)
		a.autoSave()
		return fmt.Errorf("stream error: %s", reason)
	}

	finishedCalls := state.FinishedToolCalls()
	assistantMsg := message.Message{
		Role:      message.RoleAssistant,
		Content:   state.CurrentText,
		Thinking:  state.CurrentThinking,
		ToolCalls: finishedCalls,
	}
	msgID, err := a.session.Append(assistantMsg)
	if err != nil {
		return err
	}
	assistantMsg.ID = msgID

	if len(finishedCalls) == 0 {
		a.publish(message.AgentEvent{Type: message.EventTurnEnd, Message: &assistantMsg})
		a.mu.Lock()
		a.retryCount = 0
		a.mu.Unlock()
		a.publish(message.AgentEvent{Type: message.EventAgentEnd})
		a.setState(StateIdle)
		a.autoSave()
		return nil
	}

	return a.executeTools(ctx, finishedCalls)
}

// executeTools is the "executing_tools" state: dispatch the batch via the
// Tool Runner, then either loop back into running for the next turn or
// return to idle on abort (§4.5, §4.6).
func (a *Agent) executeTools(ctx context.Context, calls []message.ToolCall) error {
	a.setState(StateExecutingTools)

	toolCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelActive = cancel
	a.mu.Unlock()
	defer func() {
		cancel()
		a.mu.Lock()
		a.cancelActive = nil
		a.mu.Unlock()
	}()

	tc := tools.Context{
		WorkingDir: a.cfg.WorkingDir,
		SessionID:  a.session.ID(),
	}

	batch := a.runner.Run(toolCtx, a.session.ID(), calls, tc, a.drainPendingPromptsIfAny)
	a.consumeAbortRequested() // clear any flag raised during this batch; handled via batch.Aborted below

	for _, result := range batch.Results {
		if _, err := a.session.Append(result); err != nil {
			return err
		}
	}

	if batch.Aborted {
		a.handleAbort()
		return ctx.Err()
	}

	if len(batch.SteeringPrompts) > 0 {
		for _, p := range batch.SteeringPrompts {
			if _, err := a.session.Append(message.Message{Role: message.RoleUser, Content: p}); err != nil {
				return err
			}
		}
		a.setState(StateRunning)
		return a.runTurn(ctx)
	}

	a.publish(message.AgentEvent{Type: message.EventTurnEnd})
	a.setState(StateRunning)
	return a.runTurn(ctx)
}

// drainPendingPromptsIfAny adapts drainPendingPrompts to the Runner's
// DrainPending signature without exposing a queue peek.
func (a *Agent) drainPendingPromptsIfAny() []string {
	return a.drainPendingPrompts()
}

// autoSave persists the session on every idle transition, if configured
// (§4.6 "Auto-save").
func (a *Agent) autoSave() {
	if a.cfg.PersistOnIdle == nil {
		return
	}
	_ = a.cfg.PersistOnIdle(a.session)
}
