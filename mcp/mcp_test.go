package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/richinex/morph/tools"
)

type fakeCaller struct {
	got    mcptypes.CallToolRequest
	result *mcptypes.CallToolResult
}

func (f *fakeCaller) CallTool(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
	f.got = request
	return f.result, nil
}

func TestParseParametersOrdersRequiredFirst(t *testing.T) {
	schema := mcptypes.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"zeta":  map[string]any{"type": "boolean"},
			"path":  map[string]any{"type": "string", "description": "file to read"},
			"alpha": map[string]any{"type": []any{"string", "null"}},
			"limit": map[string]any{"type": "integer"},
		},
		Required: []string{"path", "limit"},
	}

	params := parseParameters(schema)
	require.Equal(t, []tools.ToolParameter{
		{Name: "path", ParamType: "string", Description: "file to read", Required: true},
		{Name: "limit", ParamType: "integer", Required: true},
		{Name: "alpha", ParamType: "any"},
		{Name: "zeta", ParamType: "boolean"},
	}, params)
}

func TestToolExecuteFlattensContent(t *testing.T) {
	caller := &fakeCaller{result: &mcptypes.CallToolResult{
		Content: []mcptypes.Content{
			mcptypes.NewTextContent("first"),
			mcptypes.NewTextContent("second"),
		},
	}}
	tool := newTool(caller, mcptypes.NewTool("lookup", mcptypes.WithString("q", mcptypes.Required())))

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"q":"x"}`))
	require.NoError(t, err)
	require.NoError(t, res.Error)
	require.Equal(t, "first\nsecond", res.Output)
	require.Equal(t, "lookup", caller.got.Params.Name)
	require.Equal(t, map[string]any{"q": "x"}, caller.got.Params.Arguments)
}

func TestToolExecuteReportsServerError(t *testing.T) {
	caller := &fakeCaller{result: &mcptypes.CallToolResult{
		Content: []mcptypes.Content{mcptypes.NewTextContent("not found")},
		IsError: true,
	}}
	tool := newTool(caller, mcptypes.NewTool("lookup"))

	res, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	require.EqualError(t, res.Error, "not found")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
	  "mcpServers": {
	    "memory": {"command": "npx", "args": ["-y", "server-memory"]},
	    "fs": {"command": "fs-server", "env": {"ROOT": "/tmp"}}
	  }
	}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, []string{"fs", "memory"}, cfg.Names())
	require.Equal(t, []string{"-y", "server-memory"}, cfg.MCPServers["memory"].Args)
	require.Equal(t, "/tmp", cfg.MCPServers["fs"].Env["ROOT"])
}

func TestLoadConfigRejectsMissingCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers": {"broken": {"args": ["x"]}}}`), 0o644))

	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "broken has no command")
}

func TestAddCommand(t *testing.T) {
	var cfg Config
	require.NoError(t, cfg.AddCommand("npx -y server-memory"))
	require.Error(t, cfg.AddCommand("   "))

	require.Equal(t, ServerConfig{Command: "npx", Args: []string{"-y", "server-memory"}}, cfg.MCPServers["cli-1"])
}

func newEchoServer() *server.MCPServer {
	s := server.NewMCPServer("echo", "1.0.0", server.WithToolCapabilities(false))
	s.AddTool(
		mcptypes.NewTool("echo",
			mcptypes.WithDescription("Echo text back"),
			mcptypes.WithString("text", mcptypes.Required(), mcptypes.Description("text to echo")),
		),
		func(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
			return mcptypes.NewToolResultText(strings.ToUpper(request.GetString("text", ""))), nil
		},
	)
	s.AddTool(
		mcptypes.NewTool("shell", mcptypes.WithDescription("Shadowed by the built-in")),
		func(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
			return mcptypes.NewToolResultText("remote shell"), nil
		},
	)
	return s
}

func TestManagerInstallsToolsBehindBuiltins(t *testing.T) {
	ctx := context.Background()
	c, err := client.NewInProcessClient(newEchoServer())
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))

	m := NewManager(nil)
	t.Cleanup(func() { m.Close() })
	require.NoError(t, m.Attach(ctx, "echo", c))
	require.Len(t, m.Tools(), 2)

	table := tools.NewRegistry()
	require.NoError(t, table.Register(tools.NewShellTool(5)))
	added := m.Install(table)
	require.Equal(t, []string{"echo"}, added)

	exec := tools.NewExecutor(table)
	report := exec.Execute(ctx, `echo("hello")`)
	require.False(t, report.HasFault(), report.Fault)
	require.Equal(t, "HELLO", report.Return)
}
