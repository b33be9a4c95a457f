package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// RestartTool re-executes the current binary with the same arguments.
// Useful after the process has edited its own sources and rebuilt.
type RestartTool struct {
	BaseTool
	exec func(argv0 string, argv []string, envv []string) error
}

// NewRestartTool creates the restart tool.
func NewRestartTool() *RestartTool {
	return &RestartTool{exec: execSelf}
}

// Metadata returns the tool metadata.
func (t *RestartTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "restart",
		Description: "Restart the current process (run it after editing and rebuilding sources)",
	}
}

// Execute replaces the process image. It only returns on failure.
func (t *RestartTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	self, err := os.Executable()
	if err != nil {
		return FailureResult(fmt.Errorf("cannot locate executable: %w", err)), nil
	}
	if err := t.exec(self, os.Args, os.Environ()); err != nil {
		return FailureResult(fmt.Errorf("exec failed: %w", err)), nil
	}
	return SuccessResult(""), nil
}
