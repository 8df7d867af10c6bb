package config

import "fmt"

// LoggingConfig configures the zerolog-backed structured logger threaded
// through the FSM, Tool Runner, and Session Supervision.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "text"
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func validateLoggingConfig(cfg *LoggingConfig) error {
	if !validLogLevel(cfg.Level) {
		return &ConfigValidationError{Field: "logging.level", Reason: fmt.Sprintf("unknown level %q", cfg.Level)}
	}
	if !validLogFormat(cfg.Format) {
		return &ConfigValidationError{Field: "logging.format", Reason: fmt.Sprintf("unknown format %q", cfg.Format)}
	}
	return nil
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	Tracing TracingConfig `toml:"tracing"`
	Metrics MetricsConfig `toml:"metrics"`
}

// TracingConfig controls OpenTelemetry span export for internal/trace.
type TracingConfig struct {
	Enabled        bool              `toml:"enabled"`
	Endpoint       string            `toml:"endpoint"`
	ServiceName    string            `toml:"service_name"`
	ServiceVersion string            `toml:"service_version"`
	Environment    string            `toml:"environment"`
	SamplingRate   float64           `toml:"sampling_rate"`
	Insecure       bool              `toml:"insecure"`
	Attributes     map[string]string `toml:"attributes"`
}

// MetricsConfig controls the Prometheus metrics handler.
type MetricsConfig struct {
	// Enabled defaults to true when unset (nil).
	Enabled *bool `toml:"enabled"`
}

func applyObservabilityDefaults(cfg *ObservabilityConfig) {
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "agentcored"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
}
