// Package mcp exposes tools of Model Context Protocol servers to the tool table.
//
// Information Hiding:
// - Server process management and JSON-RPC hidden behind mcp-go clients
// - Schema translation to call parameters hidden
// - Result flattening to text hidden
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/richinex/morph/tools"
)

const clientName = "morph"

// Manager owns the connections to every configured server.
// The caller must call Close when done.
type Manager struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]*client.Client
	tools   []tools.Tool
}

// NewManager creates a manager with no connections.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger, clients: make(map[string]*client.Client)}
}

// Connect starts a stdio server and discovers its tools.
func (m *Manager) Connect(ctx context.Context, name string, server ServerConfig) error {
	env := os.Environ()
	for k, v := range server.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(server.Command, env, server.Args...)
	if err != nil {
		return fmt.Errorf("failed to start MCP server %s: %w", name, err)
	}
	if err := m.Attach(ctx, name, c); err != nil {
		c.Close()
		return err
	}
	return nil
}

// ConnectAll connects every server in cfg, in name order. Servers that
// fail are logged and skipped; their errors are joined in the result.
func (m *Manager) ConnectAll(ctx context.Context, cfg *Config) error {
	var errs []error
	for _, name := range cfg.Names() {
		if err := m.Connect(ctx, name, cfg.MCPServers[name]); err != nil {
			m.logger.Warn("MCP server unavailable", zap.String("server", name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Attach initializes an already started client and records its tools.
func (m *Manager) Attach(ctx context.Context, name string, c *client.Client) error {
	initReq := mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: mcptypes.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    clientName,
				Version: "0.1.0",
			},
		},
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("failed to initialize MCP server %s: %w", name, err)
	}

	listed, err := c.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list tools of MCP server %s: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[name] = c
	for _, t := range listed.Tools {
		m.tools = append(m.tools, newTool(c, t))
	}
	m.logger.Info("MCP server connected",
		zap.String("server", name),
		zap.Int("tools", len(listed.Tools)))
	return nil
}

// Tools returns the discovered tools of all servers.
func (m *Manager) Tools() []tools.Tool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tools.Tool(nil), m.tools...)
}

// Install merges the discovered tools into table. Names already present
// keep their built-in tool; the shadowed ones are logged.
func (m *Manager) Install(table *tools.Registry) []string {
	discovered := m.Tools()
	added := table.Merge(discovered)
	if skipped := len(discovered) - len(added); skipped > 0 {
		m.logger.Info("MCP tools shadowed by built-ins", zap.Int("count", skipped))
	}
	return added
}

// Close stops every server.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, c := range m.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	clear(m.clients)
	m.tools = nil
	return errors.Join(errs...)
}
