// Shell Command Executor Tool.
//
// Information Hiding:
// - Shell execution details hidden
// - Timeout handling hidden

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ShellFeature bundles the shell tool.
func ShellFeature(timeoutSecs uint64) Feature {
	return Feature{Name: "shell", Tools: []Tool{NewShellTool(timeoutSecs)}}
}

// ShellTool executes shell commands via sh -c. Stderr goes to the tool
// output so it lands in the printed section of the report.
type ShellTool struct {
	BaseTool
	timeoutSecs uint64
}

// NewShellTool creates a new shell tool with the given default timeout.
func NewShellTool(timeoutSecs uint64) *ShellTool {
	return &ShellTool{timeoutSecs: timeoutSecs}
}

// Metadata returns the tool metadata.
func (t *ShellTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "shell",
		Description: "Execute a shell command. Its stdout is returned and its stderr is printed",
		Parameters: []ToolParameter{
			{Name: "command", ParamType: "string", Description: "The shell command to execute", Required: true},
			{Name: "timeout_secs", ParamType: "integer", Description: "Seconds before the command is killed", Required: false},
		},
	}
}

type shellArgs struct {
	Command     string `json:"command"`
	TimeoutSecs uint64 `json:"timeout_secs"`
}

// Validate validates the tool arguments.
func (t *ShellTool) Validate(args json.RawMessage) error {
	var a shellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Command == "" {
		return fmt.Errorf("command cannot be empty")
	}
	return nil
}

// Execute runs the shell command.
func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a shellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	secs := t.timeoutSecs
	if a.TimeoutSecs > 0 {
		secs = a.TimeoutSecs
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(secs)*time.Second)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", a.Command)
	cmd.Stdout = &stdout
	cmd.Stderr = Stdout(ctx)
	err := cmd.Run()
	output := stdout.Bytes()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return FailureResultf("command timed out after %d seconds", secs), nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return ToolResult{
				Output: string(output),
				Error:  fmt.Errorf("command failed with exit code %d", exitErr.ExitCode()),
			}, nil
		}
		return FailureResult(fmt.Errorf("failed to execute command: %w", err)), nil
	}

	return SuccessResult(string(output)), nil
}
