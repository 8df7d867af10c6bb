package config

import (
	"fmt"
	"time"
)

// ToolsConfig configures the Tool Registry & Runner.
type ToolsConfig struct {
	Execution ToolExecutionConfig `toml:"execution"`
	Approval  ApprovalConfig      `toml:"approval"`
	Schema    SchemaConfig        `toml:"schema"`
	Jobs      ToolJobsConfig      `toml:"jobs"`
	Subagent  SubagentConfig      `toml:"subagent"`
	Workflow  WorkflowToolConfig  `toml:"workflow"`
}

// WorkflowToolConfig registers the async workflow-pipeline tool
// (internal/tools.WorkflowTool) when enabled.
type WorkflowToolConfig struct {
	Enabled bool `toml:"enabled"`

	// Name is the tool name the model calls (default: "workflow").
	Name string `toml:"name"`

	// ExecPath is the workflow runtime executable (default: "workflow" in PATH).
	ExecPath string `toml:"exec_path"`

	// Timeout bounds a single run/resume invocation.
	Timeout time.Duration `toml:"timeout"`

	// MaxStdoutBytes caps captured stdout.
	MaxStdoutBytes int `toml:"max_stdout_bytes"`
}

// ToolExecutionConfig controls runtime tool dispatch behavior.
type ToolExecutionConfig struct {
	MaxIterations int           `toml:"max_iterations"`
	Parallelism   int           `toml:"parallelism"`
	Timeout       time.Duration `toml:"timeout"`
	MaxAttempts   int           `toml:"max_attempts"`
	RetryBackoff  time.Duration `toml:"retry_backoff"`
}

// ApprovalConfig controls the optional synchronous approval hook gating
// tool execution (internal/approval).
type ApprovalConfig struct {
	// Enabled gates tool execution behind approval checks. Inert by
	// default, as spec.md's Tool Registry & Runner leaves approval
	// policy out of the core contract.
	Enabled bool `toml:"enabled"`

	// Patterns lists tool-name glob patterns that require approval.
	Patterns []string `toml:"patterns"`

	// DefaultDecision when no rule matches: "allow", "deny", or "pending".
	DefaultDecision string `toml:"default_decision"`

	// RequestTTL is how long a pending approval request remains valid.
	RequestTTL time.Duration `toml:"request_ttl"`
}

// SchemaConfig controls JSON Schema validation of tool call arguments
// before dispatch (internal/tools/schema).
type SchemaConfig struct {
	Enabled     bool `toml:"enabled"`
	StrictMode  bool `toml:"strict_mode"`
}

// ToolJobsConfig controls async tool job bookkeeping (internal/jobs).
type ToolJobsConfig struct {
	// AsyncTools lists tool names dispatched as background jobs rather
	// than inline, polled instead of blocking the FSM.
	AsyncTools []string `toml:"async_tools"`

	// Retention is how long completed job records are kept before pruning.
	Retention time.Duration `toml:"retention"`

	// PruneInterval is how often completed jobs older than Retention are
	// swept from the store.
	PruneInterval time.Duration `toml:"prune_interval"`
}

// SubagentConfig controls capability-based sub-agent delegation
// (internal/multiagent, internal/tools/subagent).
type SubagentConfig struct {
	Enabled      bool                `toml:"enabled"`
	MaxActive    int                 `toml:"max_active"`
	Capabilities map[string][]string `toml:"capabilities"`
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.Execution.MaxIterations == 0 {
		cfg.Execution.MaxIterations = 25
	}
	if cfg.Execution.Parallelism == 0 {
		cfg.Execution.Parallelism = 4
	}
	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = 2 * time.Minute
	}
	if cfg.Execution.MaxAttempts == 0 {
		cfg.Execution.MaxAttempts = 3
	}
	if cfg.Execution.RetryBackoff == 0 {
		cfg.Execution.RetryBackoff = time.Second
	}
	if cfg.Approval.DefaultDecision == "" {
		cfg.Approval.DefaultDecision = "allow"
	}
	if cfg.Approval.RequestTTL == 0 {
		cfg.Approval.RequestTTL = 5 * time.Minute
	}
	if cfg.Jobs.Retention == 0 {
		cfg.Jobs.Retention = 24 * time.Hour
	}
	if cfg.Jobs.PruneInterval == 0 {
		cfg.Jobs.PruneInterval = time.Hour
	}
	if cfg.Subagent.MaxActive == 0 {
		cfg.Subagent.MaxActive = 5
	}
	if cfg.Workflow.Name == "" {
		cfg.Workflow.Name = "workflow"
	}
	if cfg.Workflow.ExecPath == "" {
		cfg.Workflow.ExecPath = "workflow"
	}
	if cfg.Workflow.Timeout == 0 {
		cfg.Workflow.Timeout = 20 * time.Second
	}
	if cfg.Workflow.MaxStdoutBytes == 0 {
		cfg.Workflow.MaxStdoutBytes = 512000
	}
}

func validateToolsConfig(cfg *ToolsConfig) error {
	switch cfg.Approval.DefaultDecision {
	case "allow", "deny", "pending":
	default:
		return &ConfigValidationError{Field: "tools.approval.default_decision", Reason: fmt.Sprintf("unknown decision %q", cfg.Approval.DefaultDecision)}
	}
	if cfg.Execution.Parallelism < 0 {
		return &ConfigValidationError{Field: "tools.execution.parallelism", Reason: "must be >= 0"}
	}
	return nil
}
