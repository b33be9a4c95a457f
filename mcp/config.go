// MCP server configuration file support.
//
// Supports Anthropic-style MCP configuration format:
//
//	{
//	  "mcpServers": {
//	    "filesystem": {
//	      "command": "npx",
//	      "args": ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
//	    }
//	  }
//	}
package mcp

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
)

// Config represents the MCP configuration file format.
type Config struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig represents a single MCP server configuration.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

// LoadConfig loads MCP configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.MCPServers == nil {
		config.MCPServers = map[string]ServerConfig{}
	}
	for name, server := range config.MCPServers {
		if server.Command == "" {
			return nil, fmt.Errorf("MCP server %s has no command", name)
		}
	}

	return &config, nil
}

// AddCommand registers a server given as one command line, e.g.
// "npx -y @modelcontextprotocol/server-memory". It is named after its
// position: cli-1, cli-2, ...
func (c *Config) AddCommand(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return fmt.Errorf("empty MCP server command")
	}
	if c.MCPServers == nil {
		c.MCPServers = map[string]ServerConfig{}
	}
	name := fmt.Sprintf("cli-%d", len(c.MCPServers)+1)
	c.MCPServers[name] = ServerConfig{Command: fields[0], Args: fields[1:]}
	return nil
}

// Names returns server names in sorted order.
func (c *Config) Names() []string {
	return slices.Sorted(maps.Keys(c.MCPServers))
}
