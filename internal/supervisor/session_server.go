package supervisor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/opencoreharness/agentcore/internal/eventbus"
	"github.com/opencoreharness/agentcore/internal/fsm"
	"github.com/opencoreharness/agentcore/internal/message"
	"github.com/opencoreharness/agentcore/internal/session"
)

// command is one request delivered to a SessionServer's mailbox — the
// message-driven dispatch §5 requires: the Agent FSM never shares state
// across goroutines, it only ever reacts to an incoming message.
type command struct {
	kind   commandKind
	text   string
	result chan error
}

type commandKind int

const (
	cmdPrompt commandKind = iota
	cmdSteer
	cmdAbort
)

// SessionServer is the Agent-FSM child of a session's process group: a
// single goroutine that owns an *fsm.Agent and serves Prompt/Steer/Abort
// calls through a mailbox, so the FSM state is never touched from more
// than one goroutine at a time (§5's "must not share the FSM state across
// tasks").
type SessionServer struct {
	sessionID string
	newAgent  func(*session.Session) *fsm.Agent
	sess      *session.Session
	bus       *eventbus.Bus

	mailbox chan command

	// agent is published once Run's recoverOrStart completes, so
	// synchronous callers (pkg/agentapi's get_state/get_context/branch)
	// can read FSM/session state without going through the mailbox —
	// both *fsm.Agent and *session.Session are independently safe for
	// concurrent use.
	agent atomic.Pointer[fsm.Agent]
}

// NewSessionServer creates a SessionServer over sess. newAgent builds a
// fresh *fsm.Agent bound to sess; it is called once per (re)start so a
// restart after a crash gets a clean Agent value wired to the same,
// surviving Session.
func NewSessionServer(sess *session.Session, bus *eventbus.Bus, newAgent func(*session.Session) *fsm.Agent) *SessionServer {
	return &SessionServer{
		sessionID: sess.ID(),
		newAgent:  newAgent,
		sess:      sess,
		bus:       bus,
		mailbox:   make(chan command, 64),
	}
}

func (s *SessionServer) Name() string { return "agent:" + s.sessionID }

// Session returns the underlying Message & Session Store handle, for
// callers that only need to read the conversation (get_context) or move
// the active leaf (branch) without going through the mailbox.
func (s *SessionServer) Session() *session.Session { return s.sess }

// Agent returns the live *fsm.Agent, or nil before Run's first iteration
// has started it. Safe for concurrent use with the mailbox goroutine.
func (s *SessionServer) Agent() *fsm.Agent { return s.agent.Load() }

// Prompt enqueues a prompt and waits for run_turn to finish (or the
// mailbox to be abandoned because the server crashed/stopped).
func (s *SessionServer) Prompt(ctx context.Context, text string) error {
	return s.send(ctx, cmdPrompt, text)
}

// PromptAsync enqueues a prompt without waiting for run_turn to finish,
// matching §6.2's "prompt" operation: non-blocking, returning immediately
// whether the turn will run now (queued=false) or had to wait behind a
// busy FSM (queued=true). Any failure surfaces later as an `error`
// AgentEvent on the bus, exactly as a synchronous Prompt's caller would
// have seen it broadcast.
func (s *SessionServer) PromptAsync(text string) (queued bool) {
	if agent := s.agent.Load(); agent != nil {
		queued = agent.GetState() != fsm.StateIdle
	}
	go func() {
		_ = s.send(context.Background(), cmdPrompt, text)
	}()
	return queued
}

// Steer enqueues a steering message.
func (s *SessionServer) Steer(ctx context.Context, text string) error {
	return s.send(ctx, cmdSteer, text)
}

// Abort enqueues an abort request.
func (s *SessionServer) Abort(ctx context.Context) error {
	return s.send(ctx, cmdAbort, "")
}

func (s *SessionServer) send(ctx context.Context, kind commandKind, text string) error {
	cmd := command{kind: kind, text: text, result: make(chan error, 1)}
	select {
	case s.mailbox <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the Child contract: it recovers the Agent's state per §4.9's
// crash-recovery rule ("call get_path() to reload the conversation; set
// status := idle; broadcast agent_recovered"), then serves the mailbox
// until ctx is cancelled or a handler panics. A panic is recovered into an
// error return so the enclosing Supervisor restarts this child — exactly
// the case the crash-recovery rule exists for.
func (s *SessionServer) Run(ctx context.Context) (err error) {
	agent := s.recoverOrStart()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session server %s panicked: %v", s.sessionID, r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.mailbox:
			cmd.result <- s.dispatch(ctx, agent, cmd)
		}
	}
}

func (s *SessionServer) recoverOrStart() *fsm.Agent {
	agent := s.newAgent(s.sess)
	if path, err := s.sess.GetPath(); err == nil && len(path) > 0 {
		s.publish(message.AgentEvent{Type: message.EventAgentRecovered})
	}
	s.agent.Store(agent)
	return agent
}

func (s *SessionServer) dispatch(ctx context.Context, agent *fsm.Agent, cmd command) error {
	switch cmd.kind {
	case cmdPrompt:
		return agent.Prompt(ctx, cmd.text)
	case cmdSteer:
		return agent.Steer(cmd.text)
	case cmdAbort:
		agent.Abort()
		return nil
	default:
		return fmt.Errorf("session server: unknown command kind %d", cmd.kind)
	}
}

func (s *SessionServer) publish(ev message.AgentEvent) {
	if s.bus == nil {
		return
	}
	ev.SessionID = s.sessionID
	ev.Time = time.Now()
	s.bus.Publish(s.sessionID, ev)
}
