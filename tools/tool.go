// Package tools provides the tool system for the control loop.
//
// Information Hiding:
// - Tool execution details hidden behind interface
// - Tool parameters and schemas hidden in implementations
// - Output capture mechanism hidden behind Stdout(ctx)
// - Error handling internalized per tool
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ToolParameter defines a parameter schema for a tool.
// Parameters bind positional call arguments in declaration order.
type ToolParameter struct {
	Name        string `json:"name"`
	ParamType   string `json:"param_type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolMetadata describes what a tool does and how to use it.
type ToolMetadata struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
}

// String returns a string representation of the tool metadata.
func (m ToolMetadata) String() string {
	return fmt.Sprintf("%s: %s", m.Name, m.Description)
}

// Signature renders the call form shown to the model, e.g. read_file(name: string, encoding?: string).
func (m ToolMetadata) Signature() string {
	params := make([]string, 0, len(m.Parameters))
	for _, p := range m.Parameters {
		name := p.Name
		if !p.Required {
			name += "?"
		}
		if p.ParamType != "" {
			name += ": " + p.ParamType
		}
		params = append(params, name)
	}
	return fmt.Sprintf("%s(%s)", m.Name, strings.Join(params, ", "))
}

// ToolResult represents the result of a tool execution.
// Output is the tool's return value; success is determined by whether Error is nil.
type ToolResult struct {
	Output string
	Error  error
}

// Success returns true if the tool execution succeeded.
func (t ToolResult) Success() bool {
	return t.Error == nil
}

// SuccessResult creates a successful tool result.
func SuccessResult(output string) ToolResult {
	return ToolResult{Output: output}
}

// FailureResult creates a failed tool result.
func FailureResult(err error) ToolResult {
	return ToolResult{Error: err}
}

// FailureResultf creates a failed tool result with a formatted error message.
func FailureResultf(format string, args ...interface{}) ToolResult {
	return ToolResult{Error: fmt.Errorf(format, args...)}
}

// Tool is the interface that all tools must implement.
type Tool interface {
	// Metadata returns tool metadata (name, description, parameters).
	Metadata() ToolMetadata

	// Execute runs the tool with given arguments. Text written to Stdout(ctx)
	// is captured into the execution report.
	Execute(ctx context.Context, args json.RawMessage) (ToolResult, error)

	// Validate validates arguments before execution (optional).
	Validate(args json.RawMessage) error
}

// BaseTool provides a default implementation for Validate.
type BaseTool struct{}

// Validate provides a default no-op validation.
func (BaseTool) Validate(args json.RawMessage) error {
	return nil
}

// NoCaptureMarker at the start of captured output drops that output from the report.
const NoCaptureMarker = "[NO_CAPTURE]"

type stdoutKey struct{}

// WithStdout returns a context whose tool output goes to w.
func WithStdout(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, stdoutKey{}, w)
}

// Stdout returns the writer tools print to. Outside an executor it discards.
func Stdout(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(stdoutKey{}).(io.Writer); ok {
		return w
	}
	return io.Discard
}

// Printf formats to the tool output of ctx.
func Printf(ctx context.Context, format string, args ...any) {
	fmt.Fprintf(Stdout(ctx), format, args...)
}
