package config

import "time"

// SupervisorConfig configures Session Supervision: bounded concurrent
// sub-agent fan-out and crash/backoff handling for sessions.
type SupervisorConfig struct {
	// MaxConcurrentSessions bounds how many sessions the supervisor will
	// drive turns for at once (golang.org/x/sync/semaphore-backed).
	MaxConcurrentSessions int `toml:"max_concurrent_sessions"`

	// MaxConcurrentSubagents bounds fan-out within a single session
	// (golang.org/x/sync/errgroup-backed).
	MaxConcurrentSubagents int `toml:"max_concurrent_subagents"`

	Backoff SupervisorBackoffConfig `toml:"backoff"`
}

// SupervisorBackoffConfig controls restart backoff after a session crash.
type SupervisorBackoffConfig struct {
	Initial    time.Duration `toml:"initial"`
	Max        time.Duration `toml:"max"`
	Multiplier float64       `toml:"multiplier"`
	MaxRetries int           `toml:"max_retries"`
}

func applySupervisorDefaults(cfg *SupervisorConfig) {
	if cfg.MaxConcurrentSessions == 0 {
		cfg.MaxConcurrentSessions = 50
	}
	if cfg.MaxConcurrentSubagents == 0 {
		cfg.MaxConcurrentSubagents = 4
	}
	if cfg.Backoff.Initial == 0 {
		cfg.Backoff.Initial = time.Second
	}
	if cfg.Backoff.Max == 0 {
		cfg.Backoff.Max = time.Minute
	}
	if cfg.Backoff.Multiplier == 0 {
		cfg.Backoff.Multiplier = 2
	}
	if cfg.Backoff.MaxRetries == 0 {
		cfg.Backoff.MaxRetries = 5
	}
}

func validateSupervisorConfig(cfg *SupervisorConfig) error {
	if cfg.MaxConcurrentSessions < 0 {
		return &ConfigValidationError{Field: "supervisor.max_concurrent_sessions", Reason: "must be >= 0"}
	}
	if cfg.MaxConcurrentSubagents < 0 {
		return &ConfigValidationError{Field: "supervisor.max_concurrent_subagents", Reason: "must be >= 0"}
	}
	return nil
}

// RestartConfig configures the crash-sentinel/config-watch restart
// machinery in internal/restart.
type RestartConfig struct {
	// StateDir holds the restart sentinel file across process restarts.
	StateDir string `toml:"state_dir"`

	// WatchConfigFile enables watching ConfigPath for changes that should
	// trigger a hot reload.
	WatchConfigFile bool `toml:"watch_config_file"`

	// Debounce is how long to wait after the last detected config change
	// before invoking the reload callback.
	Debounce time.Duration `toml:"debounce"`
}

func applyRestartDefaults(cfg *RestartConfig) {
	if cfg.StateDir == "" {
		cfg.StateDir = "./state"
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 250 * time.Millisecond
	}
}
