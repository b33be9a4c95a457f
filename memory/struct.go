// Package memory provides the memory_struct feature: a nested key-value
// structure the model edits by dotted path and sees as YAML every turn.
//
// Information Hiding:
// - Path traversal hidden
// - Persistence after every mutation hidden
// - YAML rendering hidden behind the feature view
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/richinex/morph/storage"
	"github.com/richinex/morph/tools"
)

// DefaultName is the feature name and tool prefix.
const DefaultName = "memory_struct"

// Struct is a nested map addressed by dotted paths such as "a.b.c".
type Struct struct {
	mu    sync.Mutex
	name  string
	data  map[string]any
	store storage.StateStorage
	key   string
}

// NewStruct creates a structure seeded with a copy of seed.
func NewStruct(name string, seed map[string]any) *Struct {
	if name == "" {
		name = DefaultName
	}
	data := maps.Clone(seed)
	if data == nil {
		data = map[string]any{}
	}
	return &Struct{name: name, data: data}
}

// WithStore persists the structure to store under key after every mutation.
func (s *Struct) WithStore(store storage.StateStorage, key string) *Struct {
	s.store = store
	s.key = key
	return s
}

// Load replaces the seed with the stored structure, if one exists.
func (s *Struct) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	data, err := s.store.LoadState(ctx, s.key)
	if err != nil {
		return fmt.Errorf("failed to load %s for %q: %w", s.name, s.key, err)
	}
	if len(data) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	return nil
}

// Write sets the value at path, creating intermediate maps as needed.
func (s *Struct) Write(ctx context.Context, path string, value any) error {
	keys, err := splitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.data
	for i, key := range keys[:len(keys)-1] {
		next, ok := node[key]
		if !ok {
			child := map[string]any{}
			node[key] = child
			node = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot write %q: %q is a %T, not a mapping", path, strings.Join(keys[:i+1], "."), next)
		}
		node = child
	}
	node[keys[len(keys)-1]] = value
	return s.saveLocked(ctx)
}

// Drop removes the value at path. Missing keys are ignored.
func (s *Struct) Drop(ctx context.Context, path string) error {
	keys, err := splitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.data
	for _, key := range keys[:len(keys)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			return nil
		}
		node = child
	}
	if _, ok := node[keys[len(keys)-1]]; !ok {
		return nil
	}
	delete(node, keys[len(keys)-1])
	return s.saveLocked(ctx)
}

// Get returns the value at path.
func (s *Struct) Get(path string) (any, bool) {
	keys, err := splitPath(path)
	if err != nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var value any = s.data
	for _, key := range keys {
		node, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		if value, ok = node[key]; !ok {
			return nil, false
		}
	}
	return value, true
}

// View renders the structure as "DATA:" followed by YAML.
func (s *Struct) View() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s.data); err != nil {
		return "DATA:\n(unrenderable: " + err.Error() + ")"
	}
	_ = enc.Close()
	return "DATA:\n" + buf.String()
}

// Feature exposes the structure as <name>.write and <name>.drop plus its view.
func (s *Struct) Feature() tools.Feature {
	return tools.Feature{
		Name:  s.name,
		Tools: []tools.Tool{&writeTool{s: s}, &dropTool{s: s}},
		Views: []tools.View{s.View},
	}
}

func (s *Struct) saveLocked(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveState(ctx, s.key, s.data); err != nil {
		return fmt.Errorf("failed to save %s for %q: %w", s.name, s.key, err)
	}
	return nil
}

func splitPath(path string) ([]string, error) {
	keys := strings.Split(path, ".")
	for _, key := range keys {
		if key == "" {
			return nil, fmt.Errorf("invalid path %q", path)
		}
	}
	return keys, nil
}

type writeTool struct {
	tools.BaseTool
	s *Struct
}

func (t *writeTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name: t.s.name + ".write",
		Description: fmt.Sprintf("Write a value to the structure by path, example: \"a.b.c\" with value 1 "+
			"will set %s[\"a\"][\"b\"][\"c\"] = 1", t.s.name),
		Parameters: []tools.ToolParameter{
			{Name: "path", ParamType: "string", Required: true},
			{Name: "value", ParamType: "any", Required: true},
		},
	}
}

type writeArgs struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

func (t *writeTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	var in writeArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := t.s.Write(ctx, in.Path, in.Value); err != nil {
		return tools.FailureResult(err), nil
	}
	return tools.SuccessResult(""), nil
}

type dropTool struct {
	tools.BaseTool
	s *Struct
}

func (t *dropTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name: t.s.name + ".drop",
		Description: fmt.Sprintf("Remove a value from the structure by path, example: \"a.b.c\" "+
			"will remove %s[\"a\"][\"b\"][\"c\"]", t.s.name),
		Parameters: []tools.ToolParameter{
			{Name: "path", ParamType: "string", Required: true},
		},
	}
}

type dropArgs struct {
	Path string `json:"path"`
}

func (t *dropTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	var in dropArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := t.s.Drop(ctx, in.Path); err != nil {
		return tools.FailureResult(err), nil
	}
	return tools.SuccessResult(""), nil
}
