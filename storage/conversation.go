// Package storage provides persistence for per-nickname process state.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interfaces
// - Allows swapping between memory, filesystem, SQLite without API changes
// - Each storage implementation encapsulates its own data structures and protocols

package storage

import (
	"context"
	"errors"

	"github.com/richinex/morph/llm"
)

// ConversationStorage stores conversation history keyed by process nickname.
type ConversationStorage interface {
	// Save replaces the stored history for key.
	Save(ctx context.Context, key string, history []llm.ChatMessage) error

	// Load loads conversation history for key.
	// Returns empty slice (not nil) if nothing is stored.
	// Returns error only for storage failures (I/O errors, etc.), not missing keys.
	Load(ctx context.Context, key string) ([]llm.ChatMessage, error)

	// Delete deletes conversation history for key.
	Delete(ctx context.Context, key string) error

	// ListSessions lists all keys with stored history.
	ListSessions(ctx context.Context) ([]string, error)

	// Exists checks if history is stored for key.
	Exists(ctx context.Context, key string) (bool, error)
}

// StateStorage stores a key-path addressable structure per nickname.
type StateStorage interface {
	// SaveState replaces the stored structure for key.
	SaveState(ctx context.Context, key string, data map[string]any) error

	// LoadState returns the stored structure, or an empty map if none.
	LoadState(ctx context.Context, key string) (map[string]any, error)

	// DeleteState removes the stored structure for key.
	DeleteState(ctx context.Context, key string) error
}

// Store is a backend that persists both conversations and state.
type Store interface {
	ConversationStorage
	StateStorage
	Close() error
}

// Purge removes everything persisted for key. Both deletions are attempted.
func Purge(ctx context.Context, store Store, key string) error {
	return errors.Join(store.Delete(ctx, key), store.DeleteState(ctx, key))
}
