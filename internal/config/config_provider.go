package config

import "time"

// ProviderConfig configures the Provider Port: which LLM backends are
// reachable and in what order to fall back between them.
type ProviderConfig struct {
	DefaultProvider string                          `toml:"default_provider"`
	Providers       map[string]ProviderCredentials  `toml:"providers"`
	FallbackChain   []string                        `toml:"fallback_chain"`
	RateLimit       ProviderRateLimitConfig         `toml:"rate_limit"`
	Retry           ProviderRetryConfig             `toml:"retry"`
}

// ProviderCredentials configures a single named provider backend
// (anthropic, openai, or gemini).
type ProviderCredentials struct {
	APIKey       string `toml:"api_key"`
	BaseURL      string `toml:"base_url"`
	DefaultModel string `toml:"default_model"`
}

// ProviderRateLimitConfig bounds outbound request rate per provider,
// backing a golang.org/x/time/rate limiter in front of each adapter.
type ProviderRateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// ProviderRetryConfig controls retry/backoff on transient provider errors.
type ProviderRetryConfig struct {
	MaxAttempts  int           `toml:"max_attempts"`
	InitialDelay time.Duration `toml:"initial_delay"`
	MaxDelay     time.Duration `toml:"max_delay"`
}

func applyProviderDefaults(cfg *ProviderConfig) {
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderCredentials{}
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 5
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 10
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = 500 * time.Millisecond
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 10 * time.Second
	}
}
