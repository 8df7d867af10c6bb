package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opencoreharness/agentcore/internal/tools"
)

// ExecTool runs shell commands.
type ExecTool struct {
	name    string
	manager *Manager
}

// NewExecTool creates an exec tool with the given name.
func NewExecTool(name string, manager *Manager) *ExecTool {
	if strings.TrimSpace(name) == "" {
		name = "exec"
	}
	return &ExecTool{name: name, manager: manager}
}

func (t *ExecTool) Name() string      { return t.name }
func (t *ExecTool) Tags() []tools.Tag { return nil }

func (t *ExecTool) Description() string {
	return "Run a shell command in the workspace (supports optional background execution)."
}

// Parameters returns the JSON schema for the tool's arguments.
func (t *ExecTool) Parameters() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"cwd": map[string]interface{}{
				"type":        "string",
				"description": "Working directory (relative to workspace).",
			},
			"env": map[string]interface{}{
				"type":        "object",
				"description": "Environment overrides (string values).",
			},
			"input": map[string]interface{}{
				"type":        "string",
				"description": "Stdin content to pass to the command.",
			},
			"timeout_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in seconds (0 = no timeout).",
				"minimum":     0,
			},
			"background": map[string]interface{}{
				"type":        "boolean",
				"description": "Run in background and return a process id.",
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any, tc tools.Context) (string, error) {
	if t.manager == nil {
		return "", fmt.Errorf("exec manager unavailable")
	}
	var input struct {
		Command        string            `json:"command"`
		Cwd            string            `json:"cwd"`
		Env            map[string]string `json:"env"`
		Input          string            `json:"input"`
		TimeoutSeconds int               `json:"timeout_seconds"`
		Background     bool              `json:"background"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return "", err
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return "", fmt.Errorf("command is required")
	}

	timeout := time.Duration(input.TimeoutSeconds) * time.Second

	if input.Background {
		proc, err := t.manager.startBackground(ctx, command, input.Cwd, input.Env, input.Input, timeout)
		if err != nil {
			return "", err
		}
		payload, _ := json.MarshalIndent(map[string]interface{}{
			"status":     "running",
			"process_id": proc.id,
		}, "", "  ")
		return string(payload), nil
	}

	result, err := t.manager.runSync(ctx, command, input.Cwd, input.Env, input.Input, timeout)
	if err != nil {
		return "", err
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(payload), nil
}

// ProcessTool inspects and manages background exec processes.
type ProcessTool struct {
	manager *Manager
}

// NewProcessTool creates a process tool.
func NewProcessTool(manager *Manager) *ProcessTool {
	return &ProcessTool{manager: manager}
}

func (t *ProcessTool) Name() string      { return "process" }
func (t *ProcessTool) Tags() []tools.Tag { return []tools.Tag{tools.TagDebug} }

func (t *ProcessTool) Description() string {
	return "Manage background exec processes (list, status, log, write, kill, remove)."
}

// Parameters returns the JSON schema for the tool's arguments.
func (t *ProcessTool) Parameters() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "Action: list, status, log, write, kill, remove.",
			},
			"process_id": map[string]interface{}{
				"type":        "string",
				"description": "Process id for actions that target a process.",
			},
			"input": map[string]interface{}{
				"type":        "string",
				"description": "Input for write action.",
			},
		},
		"required": []string{"action"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *ProcessTool) Execute(ctx context.Context, args map[string]any, tc tools.Context) (string, error) {
	if t.manager == nil {
		return "", fmt.Errorf("process manager unavailable")
	}
	var input struct {
		Action    string `json:"action"`
		ProcessID string `json:"process_id"`
		Input     string `json:"input"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return "", err
	}
	action := strings.ToLower(strings.TrimSpace(input.Action))
	if action == "" {
		return "", fmt.Errorf("action is required")
	}

	switch action {
	case "list":
		payload, _ := json.MarshalIndent(map[string]interface{}{"processes": t.manager.list()}, "", "  ")
		return string(payload), nil
	case "status", "log", "write", "kill", "remove":
		if strings.TrimSpace(input.ProcessID) == "" {
			return "", fmt.Errorf("process_id is required")
		}
		proc, ok := t.manager.get(strings.TrimSpace(input.ProcessID))
		if !ok {
			return "", fmt.Errorf("process not found")
		}
		switch action {
		case "status":
			payload, _ := json.MarshalIndent(proc.info(), "", "  ")
			return string(payload), nil
		case "log":
			payload, _ := json.MarshalIndent(map[string]interface{}{
				"stdout": proc.stdout.String(),
				"stderr": proc.stderr.String(),
				"status": proc.status(),
			}, "", "  ")
			return string(payload), nil
		case "write":
			if proc.stdin == nil {
				return "", fmt.Errorf("process stdin unavailable")
			}
			if input.Input == "" {
				return "", fmt.Errorf("input is required")
			}
			if _, err := proc.stdin.Write([]byte(input.Input)); err != nil {
				return "", fmt.Errorf("write stdin: %w", err)
			}
			payload, _ := json.MarshalIndent(map[string]interface{}{"status": "written"}, "", "  ")
			return string(payload), nil
		case "kill":
			if proc.cmd.Process == nil {
				return "", fmt.Errorf("process not running")
			}
			if err := proc.cmd.Process.Kill(); err != nil {
				return "", fmt.Errorf("kill process: %w", err)
			}
			payload, _ := json.MarshalIndent(map[string]interface{}{"status": "killed"}, "", "  ")
			return string(payload), nil
		case "remove":
			if proc.status() == "running" {
				return "", fmt.Errorf("process still running")
			}
			if !t.manager.remove(proc.id) {
				return "", fmt.Errorf("remove failed")
			}
			payload, _ := json.MarshalIndent(map[string]interface{}{"status": "removed"}, "", "  ")
			return string(payload), nil
		}
	}
	return "", fmt.Errorf("unsupported action")
}

func decodeArgs(args map[string]any, out any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}
