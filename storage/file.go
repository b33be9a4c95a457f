// Package storage provides filesystem storage.
//
// Information Hiding:
// - Directory layout hidden behind interface
// - Atomic replace via temp file and rename
// - One directory per nickname so processes never share a file

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/richinex/morph/llm"
	"gopkg.in/yaml.v3"
)

const (
	conversationFile = "conversation.json"
	stateFile        = "memory.yaml"
)

// FileStorage implements Store as plain files under a root directory:
// <root>/<key>/conversation.json and <root>/<key>/memory.yaml.
type FileStorage struct {
	root string
}

// NewFileStorage creates the root directory if needed.
func NewFileStorage(root string) (*FileStorage, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStorage{root: root}, nil
}

// Root returns the storage directory.
func (s *FileStorage) Root() string {
	return s.root
}

func (s *FileStorage) path(key, name string) (string, error) {
	if key == "" || key == "." || key == ".." || filepath.Base(key) != key {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.root, key, name), nil
}

// Save replaces the conversation history for key.
func (s *FileStorage) Save(ctx context.Context, key string, history []llm.ChatMessage) error {
	path, err := s.path(key, conversationFile)
	if err != nil {
		return err
	}
	if history == nil {
		history = []llm.ChatMessage{}
	}
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}
	return writeAtomic(path, data)
}

// Load loads conversation history for key.
// Returns empty slice if nothing is stored.
func (s *FileStorage) Load(ctx context.Context, key string) ([]llm.ChatMessage, error) {
	path, err := s.path(key, conversationFile)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []llm.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	messages := []llm.ChatMessage{}
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("corrupt conversation file %s: %w", path, err)
	}
	return messages, nil
}

// Delete deletes conversation history for key.
func (s *FileStorage) Delete(ctx context.Context, key string) error {
	path, err := s.path(key, conversationFile)
	if err != nil {
		return err
	}
	return removeFile(path)
}

// ListSessions lists all keys with stored history, sorted.
func (s *FileStorage) ListSessions(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage directory: %w", err)
	}

	keys := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, entry.Name(), conversationFile)); err == nil {
			keys = append(keys, entry.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists checks if history is stored for key.
func (s *FileStorage) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.path(key, conversationFile)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat conversation: %w", err)
	}
	return true, nil
}

// SaveState writes the structure for key as YAML.
func (s *FileStorage) SaveState(ctx context.Context, key string, data map[string]any) error {
	path, err := s.path(key, stateFile)
	if err != nil {
		return err
	}
	if data == nil {
		data = map[string]any{}
	}
	encoded, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	return writeAtomic(path, encoded)
}

// LoadState reads the structure for key, or an empty map.
func (s *FileStorage) LoadState(ctx context.Context, key string) (map[string]any, error) {
	path, err := s.path(key, stateFile)
	if err != nil {
		return nil, err
	}
	encoded, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	data := map[string]any{}
	if err := yaml.Unmarshal(encoded, &data); err != nil {
		return nil, fmt.Errorf("corrupt state file %s: %w", path, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// DeleteState removes the structure for key.
func (s *FileStorage) DeleteState(ctx context.Context, key string) error {
	path, err := s.path(key, stateFile)
	if err != nil {
		return err
	}
	return removeFile(path)
}

// Close is a no-op.
func (s *FileStorage) Close() error {
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func removeFile(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	// Drop the per-key directory once it is empty.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

// Verify FileStorage implements Store
var _ Store = (*FileStorage)(nil)
