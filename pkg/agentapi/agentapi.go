// Package agentapi is the public core operations surface (§6.2): the
// language-neutral start_session/prompt/abort/... operation table,
// implemented as a Go API over the Event Bus, Message & Session Store,
// Provider Port, Agent FSM, Context Manager, and Session Supervision
// packages. A transport (§6.1, out of scope here) is anything that calls
// these methods and forwards the Core's AgentEvents to a client; cmd/
// agentcored instead drives the same collaborators directly for its own
// minimal daemon, but an embedder that wants the harness as a library
// without running that binary depends on this package instead.
//
// Grounded on haasonsaas-nexus's internal/service package, the teacher's
// thin façade between cmd/nexus and the agent/session internals: Core
// plays the same role this module's public API as internal/service.Service
// plays for the teacher's daemon, translating validated requests into
// calls against the lower-level collaborators and never embedding business
// logic itself.
package agentapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opencoreharness/agentcore/internal/approval"
	"github.com/opencoreharness/agentcore/internal/contextmgr"
	"github.com/opencoreharness/agentcore/internal/eventbus"
	"github.com/opencoreharness/agentcore/internal/fsm"
	"github.com/opencoreharness/agentcore/internal/jobs"
	"github.com/opencoreharness/agentcore/internal/provider"
	"github.com/opencoreharness/agentcore/internal/session"
	"github.com/opencoreharness/agentcore/internal/session/sqlitestore"
	"github.com/opencoreharness/agentcore/internal/supervisor"
	"github.com/opencoreharness/agentcore/internal/tools"
	"github.com/opencoreharness/agentcore/internal/tools/schema"
)

// Config wires Core's collaborators and the §6.5 defaults applied to every
// session it starts. Everything here is already constructed (by
// cmd/agentcored or any other caller); Core does not parse its own
// configuration file.
type Config struct {
	// Providers is the set of Provider Port adapters a session may select
	// via start_session's provider field, keyed by Provider.Name().
	Providers map[string]provider.Provider
	// DefaultProvider names the entry of Providers used when a
	// start_session request does not specify one.
	DefaultProvider string

	// BaseRegistry holds every tool this process knows how to run,
	// including sub_agent/debug/skill/mcp-tagged ones. Each session gets
	// a registry filtered down to what its start_session request and the
	// Features toggles below permit (§6.5 "features.* booleans toggling
	// corresponding tool groups at session start").
	BaseRegistry *tools.Registry
	Bus          *eventbus.Bus
	Summarizer   contextmgr.Summarizer

	// Approval/Validator/Jobs are the Tool Runner's optional hooks,
	// shared process-wide across every session's own Runner (each
	// session's Runner is built fresh against its filtered registry,
	// since the filter differs per request, but these policy objects are
	// the same instances for all of them).
	Approval  *approval.Checker
	Validator *schema.Validator
	Jobs      jobs.Store

	// Catalog, when non-nil, backs list_sessions/stop_session with the
	// durable sqlite session index instead of only this process's
	// in-memory bookkeeping.
	Catalog *sqlitestore.Store
	// LogDir is where a session's JSONL log is created when its
	// start_session request sets session_persist (§6.4).
	LogDir string

	RestartPolicy supervisor.RestartPolicy
	// OnCrash, if set, is called synchronously on every session crash/
	// restart decision (§4.9). Defaults to a no-op.
	OnCrash func(supervisor.CrashReport)

	// Features gates which tagged tool groups a new session may use,
	// independent of its explicit Tools allow-list (§6.5).
	Features FeatureFlags

	// MaxSessions rejects start_session once this many sessions are
	// concurrently open. Zero means unlimited.
	MaxSessions int
	// AutoSave persists a session to LogDir on every return to idle.
	// Default true (§6.5 "auto_save ... Default: true").
	AutoSave *bool
	// StreamStallTimeout is the Agent FSM's no-chunk watchdog interval.
	StreamStallTimeout time.Duration
	// RetryMaxAttempts/RetryBaseDelay bound the transient-error backoff.
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	// DefaultContextWindow sizes auto-compaction when a start_session
	// request's model is not found among its provider's Models().
	DefaultContextWindow int
	// KeepRecentTokensDefault is compact's default recent-window size
	// when a request omits keep_recent_tokens.
	KeepRecentTokensDefault int
}

// FeatureFlags toggles tagged tool groups at session start (§6.5).
type FeatureFlags struct {
	SubAgents bool
	Skills    bool
	MCP       bool
	Debug     bool
}

func (c *Config) autoSave() bool {
	if c.AutoSave == nil {
		return true
	}
	return *c.AutoSave
}

// Core implements the §6.2 public core operations over a shared Provider
// Port, Tool Registry, and Event Bus. The zero value is not usable; build
// one with NewCore.
type Core struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// sessionEntry is everything Core tracks about one open session: the
// supervised SessionServer driving its FSM, plus the cancel func that
// stop_session uses to tear the process group down.
type sessionEntry struct {
	server    *supervisor.SessionServer
	cancel    context.CancelFunc
	provider  provider.Provider
	model     string
	toolNames []string
	created   time.Time
}

// NewCore builds a Core over cfg. Collaborators must already be
// constructed; Core only coordinates them.
func NewCore(cfg Config) (*Core, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("agentapi: at least one Provider is required")
	}
	if cfg.BaseRegistry == nil {
		cfg.BaseRegistry = tools.NewRegistry()
	}
	if cfg.Bus == nil {
		cfg.Bus = eventbus.New()
	}
	if cfg.DefaultProvider == "" {
		for name := range cfg.Providers {
			cfg.DefaultProvider = name
			break
		}
	}
	if _, ok := cfg.Providers[cfg.DefaultProvider]; !ok {
		return nil, fmt.Errorf("agentapi: default provider %q not in Providers", cfg.DefaultProvider)
	}
	return &Core{cfg: cfg, sessions: make(map[string]*sessionEntry)}, nil
}

// Bus exposes the shared Event Bus so a transport can subscribe to a
// session's topic (or eventbus.ALL) and forward AgentEvents as
// notifications (§6.1).
func (c *Core) Bus() *eventbus.Bus { return c.cfg.Bus }

func (c *Core) get(sessionID string) (*sessionEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.sessions[sessionID]
	return e, ok
}

func (c *Core) newAgentFactory(cfg SessionConfig, resolvedProvider provider.Provider, registry *tools.Registry, contextWindow int) func(*session.Session) *fsm.Agent {
	return func(sess *session.Session) *fsm.Agent {
		runner := tools.NewRunner(registry, c.cfg.Bus)
		runner.Approval = c.cfg.Approval
		runner.Validator = c.cfg.Validator
		runner.Jobs = c.cfg.Jobs

		fsmCfg := fsm.Config{
			Provider:       resolvedProvider,
			Registry:       registry,
			Bus:            c.cfg.Bus,
			Summarizer:     c.cfg.Summarizer,
			Model:          cfg.Model,
			ContextWindow:  contextWindow,
			SystemPrompt:   cfg.SystemPrompt,
			WorkingDir:     cfg.WorkingDir,
			Runner:         runner,
			StreamWatchdog: c.cfg.StreamStallTimeout,
			MaxRetries:     c.cfg.RetryMaxAttempts,
			RetryBaseDelay: c.cfg.RetryBaseDelay,
		}
		if c.cfg.autoSave() {
			fsmCfg.PersistOnIdle = func(s *session.Session) error {
				if c.cfg.LogDir == "" {
					return nil
				}
				return session.Save(s, sessionLogPath(c.cfg.LogDir, s.ID()))
			}
		}
		return fsm.New(fsmCfg, sess)
	}
}

func sessionLogPath(logDir, sessionID string) string {
	return logDir + "/" + sessionID + ".jsonl"
}
