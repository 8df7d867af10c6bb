package config

import (
	"fmt"
	"os"
	"strings"
)

// Config is the root configuration for an agentcored process: which
// providers it can reach, how sessions are persisted, how tools run, and
// the ambient logging/tracing/metrics stack around all of it.
type Config struct {
	Version       int                 `toml:"version"`
	Server        ServerConfig        `toml:"server"`
	Provider      ProviderConfig      `toml:"provider"`
	Session       SessionConfig       `toml:"session"`
	Context       ContextConfig       `toml:"context"`
	Tools         ToolsConfig         `toml:"tools"`
	FSM           FSMConfig           `toml:"fsm"`
	Supervisor    SupervisorConfig    `toml:"supervisor"`
	Restart       RestartConfig       `toml:"restart"`
	Logging       LoggingConfig       `toml:"logging"`
	Observability ObservabilityConfig `toml:"observability"`
}

// ServerConfig configures the listeners cmd/agentcored exposes.
type ServerConfig struct {
	// TransportAddr is the host:port the JSON-RPC/websocket transport listens on.
	TransportAddr string `toml:"transport_addr"`
	// MetricsAddr is the host:port the Prometheus /metrics handler listens on.
	MetricsAddr string `toml:"metrics_addr"`
}

// Load reads, merges (resolving include directives), and validates a
// config file at path, applying defaults and environment overrides.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyProviderDefaults(&cfg.Provider)
	applySessionDefaults(&cfg.Session)
	applyContextDefaults(&cfg.Context)
	applyToolsDefaults(&cfg.Tools)
	applyFSMDefaults(&cfg.FSM)
	applySupervisorDefaults(&cfg.Supervisor)
	applyRestartDefaults(&cfg.Restart)
	applyLoggingDefaults(&cfg.Logging)
	applyObservabilityDefaults(&cfg.Observability)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.TransportAddr == "" {
		cfg.TransportAddr = "127.0.0.1:7421"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = "127.0.0.1:9421"
	}
}

// applyEnvOverrides lets deployment env vars win over file values for the
// handful of settings operators commonly override without editing the
// config file (listener addresses, provider credentials).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTCORE_TRANSPORT_ADDR"); v != "" {
		cfg.Server.TransportAddr = v
	}
	if v := os.Getenv("AGENTCORE_METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		setProviderAPIKey(cfg.Provider.Providers, "anthropic", v)
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		setProviderAPIKey(cfg.Provider.Providers, "openai", v)
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		setProviderAPIKey(cfg.Provider.Providers, "gemini", v)
	}
}

func setProviderAPIKey(providers map[string]ProviderCredentials, name, key string) {
	if providers == nil {
		return
	}
	entry := providers[name]
	entry.APIKey = key
	providers[name] = entry
}

// ConfigValidationError reports a single invalid field found while
// validating a loaded Config.
type ConfigValidationError struct {
	Field  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func validateConfig(cfg *Config) error {
	if cfg.Provider.DefaultProvider != "" {
		if _, ok := cfg.Provider.Providers[cfg.Provider.DefaultProvider]; !ok {
			return &ConfigValidationError{
				Field:  "provider.default_provider",
				Reason: fmt.Sprintf("no provider.providers entry for %q", cfg.Provider.DefaultProvider),
			}
		}
	}

	if err := validateSessionConfig(&cfg.Session); err != nil {
		return err
	}
	if err := validateContextConfig(&cfg.Context); err != nil {
		return err
	}
	if err := validateToolsConfig(&cfg.Tools); err != nil {
		return err
	}
	if err := validateFSMConfig(&cfg.FSM); err != nil {
		return err
	}
	if err := validateSupervisorConfig(&cfg.Supervisor); err != nil {
		return err
	}
	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return err
	}

	return nil
}

func validLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "":
		return true
	}
	return false
}

func validLogFormat(format string) bool {
	switch format {
	case "json", "text", "":
		return true
	}
	return false
}
