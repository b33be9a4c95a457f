// Package storage provides in-memory storage.
//
// Information Hiding:
// - Map storage structure hidden from users
// - Thread-safe access via RWMutex hidden behind interface
// - Suitable for testing and ephemeral sessions

package storage

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/richinex/morph/llm"
)

// InMemoryStorage implements Store using in-memory maps.
// Data is lost when process terminates.
type InMemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string][]llm.ChatMessage
	states   map[string]map[string]any
}

// NewInMemoryStorage creates a new in-memory storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		sessions: make(map[string][]llm.ChatMessage),
		states:   make(map[string]map[string]any),
	}
}

// Save saves conversation history for key.
func (s *InMemoryStorage) Save(ctx context.Context, key string, history []llm.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Make a copy to avoid external mutations
	copied := make([]llm.ChatMessage, len(history))
	copy(copied, history)
	s.sessions[key] = copied

	return nil
}

// Load loads conversation history for key.
// Returns empty slice if nothing is stored.
func (s *InMemoryStorage) Load(ctx context.Context, key string) ([]llm.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.sessions[key]
	if !ok {
		return []llm.ChatMessage{}, nil
	}

	copied := make([]llm.ChatMessage, len(history))
	copy(copied, history)
	return copied, nil
}

// Delete deletes conversation history for key.
func (s *InMemoryStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, key)
	return nil
}

// ListSessions lists all keys, sorted.
func (s *InMemoryStorage) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.sessions))
	for key := range s.sessions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists checks if history is stored for key.
func (s *InMemoryStorage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions[key]
	return ok, nil
}

// SaveState stores a shallow copy of data.
func (s *InMemoryStorage) SaveState(ctx context.Context, key string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[key] = maps.Clone(data)
	return nil
}

// LoadState returns a shallow copy of the stored structure.
func (s *InMemoryStorage) LoadState(ctx context.Context, key string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.states[key]
	if !ok {
		return map[string]any{}, nil
	}
	return maps.Clone(data), nil
}

// DeleteState removes the stored structure.
func (s *InMemoryStorage) DeleteState(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, key)
	return nil
}

// Close is a no-op.
func (s *InMemoryStorage) Close() error {
	return nil
}

// Verify InMemoryStorage implements Store
var _ Store = (*InMemoryStorage)(nil)
