// Package subagent implements sub-agent delegation as a Tool (§4.5),
// routed through internal/multiagent's capability router and run inside a
// supervised child session rather than a bare goroutine.
//
// Grounded on haasonsaas-nexus's internal/multiagent SpawnTool/Manager
// (spawn/track/cancel lifecycle, concurrency cap, status/cancel
// companion tools), adapted from the teacher's *agent.Runtime-coupled
// Process call to the specification's Dispatch callback so this package
// never imports internal/fsm (which already imports internal/tools,
// so the reverse import would cycle).
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opencoreharness/agentcore/internal/multiagent"
	"github.com/opencoreharness/agentcore/internal/tools"
)

// Dispatch runs task in a fresh child session and returns its final
// answer. Supplied by the composition root (cmd/agentcored), typically a
// closure over a supervisor.SessionServer-backed child Agent.
type Dispatch func(ctx context.Context, profileID, task string) (string, error)

// Run is one delegated sub-agent invocation.
type Run struct {
	ID          string
	ParentID    string
	ProfileID   string
	Task        string
	Status      string // running, completed, failed, cancelled
	CreatedAt   time.Time
	CompletedAt time.Time
	Result      string
	Error       string

	cancel context.CancelFunc
}

// Manager tracks in-flight delegated sub-agent runs, capped at maxActive
// concurrent runs, routed by capability through router.
type Manager struct {
	mu          sync.RWMutex
	runs        map[string]*Run
	router      *multiagent.Router
	dispatch    Dispatch
	maxActive   int
	activeCount int64
}

// NewManager builds a Manager. maxActive <= 0 defaults to 5, matching the
// teacher's default concurrency cap.
func NewManager(router *multiagent.Router, dispatch Dispatch, maxActive int) *Manager {
	if maxActive <= 0 {
		maxActive = 5
	}
	return &Manager{
		runs:      make(map[string]*Run),
		router:    router,
		dispatch:  dispatch,
		maxActive: maxActive,
	}
}

// Spawn routes task to a capability-matched profile and runs it in the
// background, returning immediately with a trackable Run.
func (m *Manager) Spawn(parentID, capability, chain, task string) (*Run, error) {
	if atomic.LoadInt64(&m.activeCount) >= int64(m.maxActive) {
		return nil, fmt.Errorf("max active sub-agents reached (%d)", m.maxActive)
	}

	profileID, err := m.router.Route(capability, chain)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &Run{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		ProfileID: profileID,
		Task:      task,
		Status:    "running",
		CreatedAt: time.Now(),
		cancel:    cancel,
	}

	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()
	atomic.AddInt64(&m.activeCount, 1)

	release := m.router.Acquire(profileID)
	go m.execute(ctx, run, release)

	return run, nil
}

func (m *Manager) execute(ctx context.Context, run *Run, release func()) {
	defer atomic.AddInt64(&m.activeCount, -1)
	defer release()

	result, err := m.dispatch(ctx, run.ProfileID, run.Task)
	m.router.ReportOutcome(run.ProfileID, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	run.CompletedAt = time.Now()
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		return
	}
	run.Status = "completed"
	run.Result = result
}

// Get returns a tracked run by ID.
func (m *Manager) Get(id string) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	return r, ok
}

// List returns every run spawned by parentID.
func (m *Manager) List(parentID string) []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Run
	for _, r := range m.runs {
		if r.ParentID == parentID {
			out = append(out, r)
		}
	}
	return out
}

// Cancel stops a running delegated run.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("sub-agent run not found: %s", id)
	}
	if r.Status != "running" {
		return fmt.Errorf("sub-agent run not running: %s", r.Status)
	}
	r.cancel()
	r.Status = "cancelled"
	r.CompletedAt = time.Now()
	r.Error = "cancelled"
	return nil
}

// ActiveCount reports the number of runs currently in flight.
func (m *Manager) ActiveCount() int {
	return int(atomic.LoadInt64(&m.activeCount))
}

const spawnSchema = `{
	"type": "object",
	"properties": {
		"capability": {"type": "string", "description": "capability the sub-agent must provide, e.g. research, code_review"},
		"task": {"type": "string", "description": "the task for the sub-agent to complete"},
		"chain": {"type": "string", "description": "fallback chain name to use if no profile directly matches capability"}
	},
	"required": ["capability", "task"]
}`

// SpawnTool exposes Manager.Spawn as a tools.Tool.
type SpawnTool struct {
	manager *Manager
}

// NewSpawnTool wraps manager as a tools.Tool.
func NewSpawnTool(manager *Manager) *SpawnTool { return &SpawnTool{manager: manager} }

func (t *SpawnTool) Name() string        { return "spawn_subagent" }
func (t *SpawnTool) Description() string { return "Delegate a task to a capability-matched sub-agent. Returns a run ID for tracking." }
func (t *SpawnTool) Parameters() json.RawMessage { return json.RawMessage(spawnSchema) }
func (t *SpawnTool) Tags() []tools.Tag            { return []tools.Tag{tools.TagSubAgent, tools.TagAsync} }

func (t *SpawnTool) Execute(ctx context.Context, args map[string]any, tc tools.Context) (string, error) {
	capability, _ := args["capability"].(string)
	task, _ := args["task"].(string)
	chain, _ := args["chain"].(string)
	if capability == "" || task == "" {
		return "", fmt.Errorf("capability and task are required")
	}

	run, err := t.manager.Spawn(tc.SessionID, capability, chain, task)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Sub-agent run %s delegated to %s. Use subagent_status to check progress.", run.ID, run.ProfileID), nil
}

const statusSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "description": "run ID to check; omit to list all runs for this session"}
	}
}`

// StatusTool reports a delegated run's status.
type StatusTool struct{ manager *Manager }

func NewStatusTool(manager *Manager) *StatusTool { return &StatusTool{manager: manager} }

func (t *StatusTool) Name() string               { return "subagent_status" }
func (t *StatusTool) Description() string        { return "Check the status of a delegated sub-agent run, or list all runs." }
func (t *StatusTool) Parameters() json.RawMessage { return json.RawMessage(statusSchema) }
func (t *StatusTool) Tags() []tools.Tag           { return []tools.Tag{tools.TagSubAgent} }

func (t *StatusTool) Execute(ctx context.Context, args map[string]any, tc tools.Context) (string, error) {
	if id, _ := args["id"].(string); id != "" {
		r, ok := t.manager.Get(id)
		if !ok {
			return "", fmt.Errorf("sub-agent run not found: %s", id)
		}
		out := fmt.Sprintf("Run %s -> %s\nStatus: %s\nTask: %s\n", r.ID, r.ProfileID, r.Status, r.Task)
		if r.Status == "completed" {
			out += "Result: " + r.Result + "\n"
		}
		if r.Status == "failed" {
			out += "Error: " + r.Error + "\n"
		}
		return out, nil
	}

	runs := t.manager.List(tc.SessionID)
	if len(runs) == 0 {
		return "No sub-agent runs for this session.", nil
	}
	out := fmt.Sprintf("Active runs: %d/%d\n\n", t.manager.ActiveCount(), t.manager.maxActive)
	for _, r := range runs {
		out += fmt.Sprintf("- %s -> %s: %s\n", r.ID, r.ProfileID, r.Status)
	}
	return out, nil
}

const cancelSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "description": "run ID to cancel"}
	},
	"required": ["id"]
}`

// CancelTool cancels a running delegated run.
type CancelTool struct{ manager *Manager }

func NewCancelTool(manager *Manager) *CancelTool { return &CancelTool{manager: manager} }

func (t *CancelTool) Name() string               { return "subagent_cancel" }
func (t *CancelTool) Description() string        { return "Cancel a running sub-agent delegation." }
func (t *CancelTool) Parameters() json.RawMessage { return json.RawMessage(cancelSchema) }
func (t *CancelTool) Tags() []tools.Tag           { return []tools.Tag{tools.TagSubAgent} }

func (t *CancelTool) Execute(ctx context.Context, args map[string]any, tc tools.Context) (string, error) {
	id, _ := args["id"].(string)
	if id == "" {
		return "", fmt.Errorf("id is required")
	}
	if err := t.manager.Cancel(id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Sub-agent run %s cancelled.", id), nil
}
