// Package tools provides tool management and registration.
//
// Information Hiding:
// - Tool storage and lookup implementation hidden
// - Feature grouping and prompt rendering hidden
// - Registration and merge policy abstracted

package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry is the tool table: tool name to invokable capability.
// Tools arrive either bundled in features or loose (e.g. from MCP servers).
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	features []Feature
	owner    map[string]string
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		owner: make(map[string]string),
	}
}

// Register adds a new tool to the registry.
// Returns error if a tool with the same name already exists.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(tool)
}

func (r *Registry) registerLocked(tool Tool) error {
	name := tool.Metadata().Name
	if name == "" {
		return fmt.Errorf("tool has no name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool '%s' already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// RegisterFeature registers every tool of a feature and remembers the feature for rendering.
// Nothing is registered if any name collides.
func (r *Registry) RegisterFeature(f Feature) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range f.Tools {
		if _, exists := r.tools[t.Metadata().Name]; exists {
			return fmt.Errorf("feature %s: tool '%s' already registered", f.Name, t.Metadata().Name)
		}
	}
	for _, t := range f.Tools {
		if err := r.registerLocked(t); err != nil {
			return fmt.Errorf("feature %s: %w", f.Name, err)
		}
		r.owner[t.Metadata().Name] = f.Name
	}
	r.features = append(r.features, f)
	return nil
}

// Merge adds tools whose names are not taken yet and returns the names actually added.
// Existing entries win, so built-in tools shadow external ones.
func (r *Registry) Merge(tools []Tool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var added []string
	for _, t := range tools {
		if err := r.registerLocked(t); err != nil {
			continue
		}
		added = append(added, t.Metadata().Name)
	}
	return added
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// Has checks if a tool exists in the registry.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

// Names returns all registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Features returns registered features in registration order.
func (r *Registry) Features() []Feature {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Feature, len(r.features))
	copy(out, r.features)
	return out
}

// Loose returns metadata of tools that belong to no feature, sorted by name.
func (r *Registry) Loose() []ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var metadata []ToolMetadata
	for name, tool := range r.tools {
		if _, ok := r.owner[name]; ok {
			continue
		}
		metadata = append(metadata, tool.Metadata())
	}
	sort.Slice(metadata, func(i, j int) bool { return metadata[i].Name < metadata[j].Name })
	return metadata
}

// Description returns the rendered features followed by loose tools, for the system message.
func (r *Registry) Description() string {
	var sections []string
	for _, f := range r.Features() {
		sections = append(sections, f.Render())
	}
	for _, meta := range r.Loose() {
		sections = append(sections, strings.TrimRight(RenderTool(meta, ""), "\n"))
	}
	return strings.Join(sections, "\n\n")
}

// Default limits for built-in tools.
const (
	DefaultToolTimeout = 30          // seconds
	DefaultMaxFileSize = 1024 * 1024 // 1MB
)
