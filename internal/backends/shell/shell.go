// ABOUTME: Shell backend (mcpz-shell) exposing execute_command behind a command policy.
// ABOUTME: Runs commands through <shell> -c with a timeout and optional stderr capture.

package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/2389/mcpz/internal/guard"
	"github.com/2389/mcpz/internal/mcp"
	"github.com/2389/mcpz/internal/version"
)

// ServerName is reported in serverInfo.
const ServerName = "mcpz-shell"

// Defaults applied when Config leaves a field zero.
const (
	DefaultShell   = "/bin/sh"
	DefaultTimeout = 30 * time.Second
)

const deniedOutput = "Command denied by security policy"

// Config configures the shell backend.
type Config struct {
	WorkingDir    string
	Shell         string
	Timeout       time.Duration
	Policy        guard.CommandPolicy
	IncludeStderr bool
	Logger        *slog.Logger
}

// CommandResult is the JSON payload returned for every execution.
type CommandResult struct {
	Command    string `json:"command"`
	Output     string `json:"output"`
	ReturnCode int    `json:"return_code"`
}

// Backend implements mcp.Backend for shell commands.
type Backend struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a shell backend.
func New(cfg Config) *Backend {
	if cfg.Shell == "" {
		cfg.Shell = DefaultShell
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{cfg: cfg, logger: logger}
}

// Name returns the serverInfo name.
func (b *Backend) Name() string { return ServerName }

// Version returns the serverInfo version.
func (b *Backend) Version() string { return version.Version }

// Tools lists the single execute_command tool.
func (b *Backend) Tools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "execute_command",
			Description: "Execute a shell command and return its output",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"command":{"type":"string","description":"Shell command to execute"}},"required":["command"]}`),
		},
	}
}

// CallTool runs execute_command. Policy denials come back as error results
// carrying the same JSON payload as a normal run.
func (b *Backend) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	if name != "execute_command" {
		return mcp.ErrorResult("Unknown tool: %s", name), nil
	}

	var in struct {
		Command *string `json:"command"`
	}
	if err := mcp.DecodeArguments(args, &in); err != nil {
		return mcp.ErrorResult("%v", err), nil
	}
	if in.Command == nil {
		return mcp.ErrorResult("Missing 'command' argument"), nil
	}

	result, denied := b.Execute(ctx, *in.Command)
	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode command result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{{Type: "text", Text: string(text)}},
		IsError: denied,
	}, nil
}

// Execute runs command if the policy allows it. denied reports a policy refusal.
func (b *Backend) Execute(ctx context.Context, command string) (result CommandResult, denied bool) {
	if err := b.cfg.Policy.Check(command); err != nil {
		b.logger.Warn("command denied", "command", command)
		return CommandResult{Command: command, Output: deniedOutput, ReturnCode: -1}, true
	}

	b.logger.Debug("executing command", "command", command)

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.cfg.Shell, "-c", command)
	cmd.Dir = b.cfg.WorkingDir
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String()
	if b.cfg.IncludeStderr {
		output += stderr.String()
	}

	// Partial output of a killed command is dropped.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		b.logger.Warn("command timed out", "command", command, "timeout", b.cfg.Timeout, "partial_bytes", len(output))
		return CommandResult{
			Command:    command,
			Output:     fmt.Sprintf("Command timed out after %s", b.cfg.Timeout),
			ReturnCode: -1,
		}, false
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return CommandResult{Command: command, Output: output, ReturnCode: 0}, false
	case errors.As(err, &exitErr):
		b.logger.Debug("command exited", "command", command, "code", exitErr.ExitCode())
		return CommandResult{Command: command, Output: output, ReturnCode: exitErr.ExitCode()}, false
	default:
		b.logger.Warn("command failed to start", "command", command, "error", err)
		return CommandResult{
			Command:    command,
			Output:     fmt.Sprintf("Failed to execute: %v", err),
			ReturnCode: -1,
		}, false
	}
}
