// MCP Tool Wrapper - Makes MCP tools usable in the tool table.
//
// Information Hiding:
// - Shared client hidden
// - Schema parsing hidden
// - Result content flattening hidden

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/richinex/morph/tools"
)

// Caller is the part of an MCP client a tool needs.
type Caller interface {
	CallTool(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error)
}

// Tool wraps one remote tool. Calls go through the server's shared client.
type Tool struct {
	caller Caller
	name   string
	desc   string
	params []tools.ToolParameter
}

func newTool(caller Caller, t mcptypes.Tool) *Tool {
	return &Tool{
		caller: caller,
		name:   t.Name,
		desc:   t.Description,
		params: parseParameters(t.InputSchema),
	}
}

// Metadata returns the tool metadata extracted from the MCP schema.
func (t *Tool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name:        t.name,
		Description: t.desc,
		Parameters:  t.params,
	}
}

// parseParameters lists required parameters in schema order, then the
// optional ones sorted by name, so positional calls bind predictably.
func parseParameters(schema mcptypes.ToolInputSchema) []tools.ToolParameter {
	var optional []string
	for name := range schema.Properties {
		if !slices.Contains(schema.Required, name) {
			optional = append(optional, name)
		}
	}
	sort.Strings(optional)

	params := make([]tools.ToolParameter, 0, len(schema.Properties))
	add := func(name string, required bool) {
		prop, _ := schema.Properties[name].(map[string]any)
		desc, _ := prop["description"].(string)
		params = append(params, tools.ToolParameter{
			Name:        name,
			ParamType:   paramType(prop["type"]),
			Description: desc,
			Required:    required,
		})
	}
	for _, name := range schema.Required {
		if _, ok := schema.Properties[name]; ok {
			add(name, true)
		}
	}
	for _, name := range optional {
		add(name, false)
	}
	return params
}

// paramType maps a JSON schema type onto the call binder's types.
// Unions and unknown types accept anything.
func paramType(v any) string {
	s, _ := v.(string)
	switch s {
	case "string", "integer", "number", "boolean", "array", "object":
		return s
	default:
		return "any"
	}
}

// Execute calls the remote tool.
func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	var arguments map[string]any
	if err := json.Unmarshal(args, &arguments); err != nil {
		return tools.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}

	result, err := t.caller.CallTool(ctx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      t.name,
			Arguments: arguments,
		},
	})
	if err != nil {
		return tools.ToolResult{}, fmt.Errorf("tool call failed: %w", err)
	}

	text := flatten(result.Content)
	if result.IsError {
		return tools.FailureResult(errors.New(text)), nil
	}
	return tools.SuccessResult(text), nil
}

// Validate validates that arguments are valid JSON.
// Schema validation is performed by the MCP server.
func (t *Tool) Validate(args json.RawMessage) error {
	var v map[string]any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("invalid JSON arguments: %w", err)
	}
	return nil
}

// flatten joins text content; other content kinds are shown as JSON.
func flatten(content []mcptypes.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if text, ok := mcptypes.AsTextContent(c); ok {
			parts = append(parts, text.Text)
			continue
		}
		data, err := json.Marshal(c)
		if err != nil {
			parts = append(parts, fmt.Sprintf("%v", c))
			continue
		}
		parts = append(parts, string(data))
	}
	return strings.Join(parts, "\n")
}
