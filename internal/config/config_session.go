package config

import (
	"fmt"
	"strings"
	"time"
)

// SessionConfig configures the Message & Session Store.
type SessionConfig struct {
	// Backend selects the store implementation: "memory" (line-delimited
	// in-process log) or "sqlite" (durable, modernc.org/sqlite-backed).
	Backend string `toml:"backend"`

	// SQLitePath is the database file path when Backend is "sqlite".
	SQLitePath string `toml:"sqlite_path"`

	// LogDir is the directory a new session's JSONL log is created under
	// when start_session sets session_persist (§6.4).
	LogDir string `toml:"log_dir"`

	// MaxSessions rejects start_session once this many sessions are
	// concurrently open. Zero means unlimited (§6.5 "max_sessions").
	MaxSessions int `toml:"max_sessions"`

	// DisableAutoSave turns off persisting a session to LogDir on every
	// return to idle. Auto-save defaults on (§6.5 "auto_save ... Default:
	// true"); this field is the opt-out, so the TOML zero value keeps the
	// spec's default without a tri-state bool.
	DisableAutoSave bool `toml:"disable_auto_save"`

	// Reset configures automatic session reset/expiry.
	Reset ResetConfig `toml:"reset"`
}

// ResetConfig controls when a session's branch/message history is reset.
type ResetConfig struct {
	// Mode is the reset mode: "daily", "idle", "daily+idle", or "never" (default).
	Mode string `toml:"mode"`

	// AtHour is the hour (0-23) to reset sessions when mode includes "daily".
	AtHour int `toml:"at_hour"`

	// IdleFor is the duration of inactivity before reset when mode includes "idle".
	IdleFor time.Duration `toml:"idle_for"`
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "memory"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "agentcore.db"
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "sessions"
	}
	if cfg.Reset.Mode == "" {
		cfg.Reset.Mode = "never"
	}
}

func validateSessionConfig(cfg *SessionConfig) error {
	switch cfg.Backend {
	case "memory", "sqlite":
	default:
		return &ConfigValidationError{Field: "session.backend", Reason: fmt.Sprintf("unknown backend %q, want memory or sqlite", cfg.Backend)}
	}
	if !validResetMode(cfg.Reset.Mode) {
		return &ConfigValidationError{Field: "session.reset.mode", Reason: fmt.Sprintf("unknown mode %q", cfg.Reset.Mode)}
	}
	return nil
}

func validResetMode(mode string) bool {
	switch strings.ToLower(mode) {
	case "daily", "idle", "daily+idle", "never", "":
		return true
	}
	return false
}
