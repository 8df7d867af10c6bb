package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
[server]
transport_addr = "0.0.0.0:7421"
extra = true

[provider]
default_provider = "anthropic"
[provider.providers.anthropic]
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
[provider]
default_provider = "openai"
[provider.providers.anthropic]
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "default_provider") {
		t.Fatalf("expected default_provider error, got %v", err)
	}
}

func TestLoadValidatesSessionBackend(t *testing.T) {
	path := writeConfig(t, `
[session]
backend = "postgres"

[provider]
default_provider = "anthropic"
[provider.providers.anthropic]
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "session.backend") {
		t.Fatalf("expected session.backend error, got %v", err)
	}
}

func TestLoadValidatesSessionResetMode(t *testing.T) {
	path := writeConfig(t, `
[session.reset]
mode = "nope"

[provider]
default_provider = "anthropic"
[provider.providers.anthropic]
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "session.reset.mode") {
		t.Fatalf("expected session.reset.mode error, got %v", err)
	}
}

func TestLoadValidatesContextMode(t *testing.T) {
	path := writeConfig(t, `
[context]
mode = "nope"

[provider]
default_provider = "anthropic"
[provider.providers.anthropic]
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "context.mode") {
		t.Fatalf("expected context.mode error, got %v", err)
	}
}

func TestLoadValidatesContextRatios(t *testing.T) {
	path := writeConfig(t, `
[context]
soft_trim_ratio = 0.9
hard_clear_ratio = 0.5

[provider]
default_provider = "anthropic"
[provider.providers.anthropic]
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "context.hard_clear_ratio") {
		t.Fatalf("expected context.hard_clear_ratio error, got %v", err)
	}
}

func TestLoadValidatesApprovalDefaultDecision(t *testing.T) {
	path := writeConfig(t, `
[tools.approval]
default_decision = "maybe"

[provider]
default_provider = "anthropic"
[provider.providers.anthropic]
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "approval.default_decision") {
		t.Fatalf("expected approval.default_decision error, got %v", err)
	}
}

func TestLoadValidatesLoggingLevel(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "nope"

[provider]
default_provider = "anthropic"
[provider.providers.anthropic]
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "logging.level") {
		t.Fatalf("expected logging.level error, got %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
[session]
backend = "sqlite"
sqlite_path = "test.db"

[provider]
default_provider = "anthropic"
[provider.providers.anthropic]
api_key = "sk-test"
default_model = "claude-sonnet-4-5"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Session.Backend != "sqlite" {
		t.Fatalf("expected sqlite backend, got %q", cfg.Session.Backend)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[provider]
default_provider = "anthropic"
[provider.providers.anthropic]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.TransportAddr == "" {
		t.Fatalf("expected default transport_addr to be set")
	}
	if cfg.Tools.Execution.MaxIterations == 0 {
		t.Fatalf("expected default max_iterations to be set")
	}
	if cfg.FSM.Watchdog.Schedule == "" {
		t.Fatalf("expected default watchdog schedule to be set")
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("AGENTCORE_TRANSPORT_ADDR", "127.0.0.1:9000")
	t.Setenv("ANTHROPIC_API_KEY", "sk-override")

	path := writeConfig(t, `
[server]
transport_addr = "0.0.0.0:7421"

[provider]
default_provider = "anthropic"
[provider.providers.anthropic]
api_key = "sk-default"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.TransportAddr != "127.0.0.1:9000" {
		t.Fatalf("expected transport_addr override, got %q", cfg.Server.TransportAddr)
	}
	if cfg.Provider.Providers["anthropic"].APIKey != "sk-override" {
		t.Fatalf("expected api_key override, got %q", cfg.Provider.Providers["anthropic"].APIKey)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.toml")
	if err := os.WriteFile(basePath, []byte(`
[provider]
default_provider = "anthropic"
[provider.providers.anthropic]
api_key = "sk-base"
`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	mainPath := filepath.Join(dir, "main.toml")
	if err := os.WriteFile(mainPath, []byte(`
include = "base.toml"

[session]
backend = "sqlite"
`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider.Providers["anthropic"].APIKey != "sk-base" {
		t.Fatalf("expected included provider config, got %q", cfg.Provider.Providers["anthropic"].APIKey)
	}
	if cfg.Session.Backend != "sqlite" {
		t.Fatalf("expected main config to override, got %q", cfg.Session.Backend)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentcore.toml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
