// Filesystem Tools - ls, read, write, delete.
//
// Information Hiding:
// - File I/O implementation details hidden
// - Text encoding conversion hidden
// - .gitignore filtering hidden

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// FilesystemFeature bundles the filesystem tools.
func FilesystemFeature() Feature {
	return Feature{
		Name: "fs",
		Tools: []Tool{
			NewListTool("."),
			NewReadFileTool(DefaultMaxFileSize),
			NewWriteFileTool(),
			NewDeleteFileTool(),
		},
	}
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	if name == "" {
		name = "utf-8"
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
	return enc, nil
}

// ListTool lists directory entries, hiding names listed in .gitignore.
type ListTool struct {
	BaseTool
	root string
}

// NewListTool creates an ls tool; root is where .gitignore is read from.
func NewListTool(root string) *ListTool {
	return &ListTool{root: root}
}

// Metadata returns the tool metadata.
func (t *ListTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "ls",
		Description: "List files",
		Parameters: []ToolParameter{
			{Name: "path", ParamType: "string", Description: "Directory to list", Required: false},
		},
	}
}

type lsArgs struct {
	Path string `json:"path"`
}

// Execute lists the directory; directories get a trailing slash.
func (t *ListTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a lsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if a.Path == "" {
		a.Path = "."
	}

	entries, err := os.ReadDir(a.Path)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to list directory: %w", err)), nil
	}

	ignored := t.ignored()
	var names []string
	for _, e := range entries {
		if ignored[e.Name()] {
			continue
		}
		name := filepath.Join(a.Path, e.Name())
		if e.IsDir() {
			name += string(filepath.Separator)
		}
		names = append(names, name)
	}
	return SuccessResult(strings.Join(names, "\n")), nil
}

func (t *ListTool) ignored() map[string]bool {
	set := make(map[string]bool)
	data, err := os.ReadFile(filepath.Join(t.root, ".gitignore"))
	if err != nil {
		return set
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[strings.Trim(line, "/")] = true
	}
	return set
}

// ReadFileTool reads file contents.
type ReadFileTool struct {
	BaseTool
	maxSizeBytes int64
}

// NewReadFileTool creates a new read file tool.
func NewReadFileTool(maxSizeBytes int64) *ReadFileTool {
	return &ReadFileTool{maxSizeBytes: maxSizeBytes}
}

// Metadata returns the tool metadata.
func (t *ReadFileTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "read_file",
		Description: "Read file",
		Parameters: []ToolParameter{
			{Name: "name", ParamType: "string", Description: "Path to the file to read", Required: true},
			{Name: "encoding", ParamType: "string", Description: "Text encoding, default utf-8", Required: false},
		},
	}
}

type readFileArgs struct {
	Name     string `json:"name"`
	Encoding string `json:"encoding"`
}

// Validate validates the arguments.
func (t *ReadFileTool) Validate(args json.RawMessage) error {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	return nil
}

// Execute reads and decodes the file.
func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	enc, err := lookupEncoding(a.Encoding)
	if err != nil {
		return FailureResult(err), nil
	}

	info, err := os.Stat(a.Name)
	if os.IsNotExist(err) {
		return FailureResultf("file does not exist: %s", a.Name), nil
	}
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read file metadata: %w", err)), nil
	}
	if info.Size() > t.maxSizeBytes {
		return FailureResultf("file too large: %d bytes (max: %d bytes)", info.Size(), t.maxSizeBytes), nil
	}

	raw, err := os.ReadFile(a.Name)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read file: %w", err)), nil
	}
	content, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to decode %s: %w", a.Name, err)), nil
	}
	return SuccessResult(string(content)), nil
}

// WriteFileTool writes text to a file, creating parent directories.
type WriteFileTool struct {
	BaseTool
}

// NewWriteFileTool creates a new write file tool.
func NewWriteFileTool() *WriteFileTool {
	return &WriteFileTool{}
}

// Metadata returns the tool metadata.
func (t *WriteFileTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "write_file",
		Description: "Write file",
		Parameters: []ToolParameter{
			{Name: "name", ParamType: "string", Description: "Path to the file", Required: true},
			{Name: "content", ParamType: "string", Description: "Text to write", Required: true},
			{Name: "encoding", ParamType: "string", Description: "Text encoding, default utf-8", Required: false},
		},
	}
}

type writeFileArgs struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Validate validates the arguments.
func (t *WriteFileTool) Validate(args json.RawMessage) error {
	var a writeFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	return nil
}

// Execute encodes and writes the file, returning its path.
func (t *WriteFileTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a writeFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	enc, err := lookupEncoding(a.Encoding)
	if err != nil {
		return FailureResult(err), nil
	}
	data, err := enc.NewEncoder().Bytes([]byte(a.Content))
	if err != nil {
		return FailureResult(fmt.Errorf("failed to encode content: %w", err)), nil
	}

	if dir := filepath.Dir(a.Name); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return FailureResult(fmt.Errorf("failed to create directory: %w", err)), nil
		}
	}
	if err := os.WriteFile(a.Name, data, 0644); err != nil {
		return FailureResult(fmt.Errorf("failed to write file: %w", err)), nil
	}
	return SuccessResult(a.Name), nil
}

// DeleteFileTool removes a file or a directory tree.
type DeleteFileTool struct {
	BaseTool
}

// NewDeleteFileTool creates a new delete tool.
func NewDeleteFileTool() *DeleteFileTool {
	return &DeleteFileTool{}
}

// Metadata returns the tool metadata.
func (t *DeleteFileTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "delete_file",
		Description: "Delete file or directory",
		Parameters: []ToolParameter{
			{Name: "name", ParamType: "string", Description: "Path to delete", Required: true},
		},
	}
}

type deleteFileArgs struct {
	Name string `json:"name"`
}

// Execute deletes the path.
func (t *DeleteFileTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a deleteFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if _, err := os.Lstat(a.Name); err != nil {
		return FailureResult(fmt.Errorf("cannot delete %s: %w", a.Name, err)), nil
	}
	if err := os.RemoveAll(a.Name); err != nil {
		return FailureResult(fmt.Errorf("failed to delete: %w", err)), nil
	}
	return SuccessResult(""), nil
}
