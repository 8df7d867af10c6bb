package config

import "time"

// FSMConfig configures the Agent FSM's retry and watchdog timers.
type FSMConfig struct {
	// MaxTurnRetries bounds how many times a turn is retried after a
	// transient provider or tool error before the FSM surfaces a failure.
	MaxTurnRetries int `toml:"max_turn_retries"`

	// RetryBackoff is the base delay between turn retries.
	RetryBackoff time.Duration `toml:"retry_backoff"`

	// StreamStallTimeout is the no-chunk watchdog interval a turn's
	// provider stream is allowed to go silent before the FSM treats it as
	// stalled (§6.5 "stream_stall_timeout").
	StreamStallTimeout time.Duration `toml:"stream_stall_timeout"`

	// DefaultContextWindow sizes auto-compaction for a model a provider's
	// Models() does not describe.
	DefaultContextWindow int `toml:"default_context_window"`

	// KeepRecentTokensDefault is compact's default recent-window size when
	// a request omits keep_recent_tokens.
	KeepRecentTokensDefault int `toml:"keep_recent_tokens_default"`

	// Watchdog configures a cron schedule that checks for stuck runs.
	Watchdog WatchdogConfig `toml:"watchdog"`
}

// WatchdogConfig schedules a periodic stuck-run sweep, reusing the
// teacher's cron scheduling primitives for a different purpose: instead of
// firing a user-facing scheduled message, it scans in-flight runs for ones
// that have exceeded their turn timeout and emits a repair event for them.
type WatchdogConfig struct {
	Enabled bool `toml:"enabled"`

	// Schedule is a standard 5-field cron expression, e.g. "*/1 * * * *".
	Schedule string `toml:"schedule"`

	// StuckAfter is how long a run may sit without progress before the
	// watchdog considers it stuck.
	StuckAfter time.Duration `toml:"stuck_after"`
}

func applyFSMDefaults(cfg *FSMConfig) {
	if cfg.MaxTurnRetries == 0 {
		cfg.MaxTurnRetries = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.Watchdog.Schedule == "" {
		cfg.Watchdog.Schedule = "*/1 * * * *"
	}
	if cfg.Watchdog.StuckAfter == 0 {
		cfg.Watchdog.StuckAfter = 5 * time.Minute
	}
	if cfg.StreamStallTimeout == 0 {
		cfg.StreamStallTimeout = 30 * time.Second
	}
	if cfg.DefaultContextWindow == 0 {
		cfg.DefaultContextWindow = 200000
	}
}

func validateFSMConfig(cfg *FSMConfig) error {
	if cfg.MaxTurnRetries < 0 {
		return &ConfigValidationError{Field: "fsm.max_turn_retries", Reason: "must be >= 0"}
	}
	return nil
}
