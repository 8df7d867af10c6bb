package config

import "fmt"

// ContextConfig configures the Context Manager's pruning behavior for
// stale tool results as a conversation's transcript grows.
type ContextConfig struct {
	// Mode selects the pruning strategy: "off", "soft" (trim), or
	// "soft+hard" (trim then clear once the hard ratio is exceeded).
	Mode string `toml:"mode"`

	// KeepLastAssistants is how many of the most recent assistant turns
	// are always exempt from pruning, regardless of ratio.
	KeepLastAssistants int `toml:"keep_last_assistants"`

	// SoftTrimRatio is the fraction of the model's context window at which
	// soft trimming begins.
	SoftTrimRatio float64 `toml:"soft_trim_ratio"`

	// HardClearRatio is the fraction of the model's context window at
	// which tool results are cleared outright.
	HardClearRatio float64 `toml:"hard_clear_ratio"`

	// MinPrunableToolChars is the minimum tool-result size eligible for
	// pruning; short results are left alone.
	MinPrunableToolChars int `toml:"min_prunable_tool_chars"`

	Tools     ContextPruningToolMatch `toml:"tools"`
	SoftTrim  ContextPruningSoftTrim  `toml:"soft_trim"`
	HardClear ContextPruningHardClear `toml:"hard_clear"`
}

// ContextPruningToolMatch selects which tool results can be trimmed.
type ContextPruningToolMatch struct {
	Allow []string `toml:"allow"`
	Deny  []string `toml:"deny"`
}

// ContextPruningSoftTrim configures soft trimming of tool result content.
type ContextPruningSoftTrim struct {
	MaxChars  int `toml:"max_chars"`
	HeadChars int `toml:"head_chars"`
	TailChars int `toml:"tail_chars"`
}

// ContextPruningHardClear configures hard clearing of tool result content.
type ContextPruningHardClear struct {
	Enabled     bool   `toml:"enabled"`
	Placeholder string `toml:"placeholder"`
}

func applyContextDefaults(cfg *ContextConfig) {
	if cfg.Mode == "" {
		cfg.Mode = "soft"
	}
	if cfg.KeepLastAssistants == 0 {
		cfg.KeepLastAssistants = 2
	}
	if cfg.SoftTrimRatio == 0 {
		cfg.SoftTrimRatio = 0.7
	}
	if cfg.HardClearRatio == 0 {
		cfg.HardClearRatio = 0.9
	}
	if cfg.SoftTrim.MaxChars == 0 {
		cfg.SoftTrim.MaxChars = 4000
	}
	if cfg.SoftTrim.HeadChars == 0 {
		cfg.SoftTrim.HeadChars = 2000
	}
	if cfg.SoftTrim.TailChars == 0 {
		cfg.SoftTrim.TailChars = 1000
	}
	if cfg.HardClear.Placeholder == "" {
		cfg.HardClear.Placeholder = "[tool result cleared: context budget exceeded]"
	}
}

func validateContextConfig(cfg *ContextConfig) error {
	switch cfg.Mode {
	case "off", "soft", "soft+hard":
	default:
		return &ConfigValidationError{Field: "context.mode", Reason: fmt.Sprintf("unknown mode %q", cfg.Mode)}
	}
	if cfg.SoftTrimRatio < 0 || cfg.SoftTrimRatio > 1 {
		return &ConfigValidationError{Field: "context.soft_trim_ratio", Reason: "must be between 0 and 1"}
	}
	if cfg.HardClearRatio < 0 || cfg.HardClearRatio > 1 {
		return &ConfigValidationError{Field: "context.hard_clear_ratio", Reason: "must be between 0 and 1"}
	}
	if cfg.HardClearRatio < cfg.SoftTrimRatio {
		return &ConfigValidationError{Field: "context.hard_clear_ratio", Reason: "must be >= soft_trim_ratio"}
	}
	return nil
}
