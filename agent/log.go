// Conversation log - the bounded, persisted message history of one process.
//
// Information Hiding:
// - Eviction policy hidden
// - Persistence after every append hidden
// - Thread-safe so worker forwarding and the loop may append concurrently

package agent

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/richinex/morph/llm"
	"github.com/richinex/morph/storage"
)

// DefaultHistorySize is the number of messages kept when no capacity is configured.
const DefaultHistorySize = 10

// Log is an ordered, capacity-bounded sequence of messages. When full, the
// oldest message is evicted. With a store attached, the whole sequence is
// saved after every mutation, so the stored order always equals the
// in-memory order as of the last successful save.
type Log struct {
	mu       sync.Mutex
	messages []llm.ChatMessage
	capacity int
	store    storage.ConversationStorage
	key      string
}

// NewLog creates an empty log. A capacity below one means DefaultHistorySize.
func NewLog(capacity int) *Log {
	if capacity < 1 {
		capacity = DefaultHistorySize
	}
	return &Log{capacity: capacity}
}

// WithStore mirrors the log to store under key.
func (l *Log) WithStore(store storage.ConversationStorage, key string) *Log {
	l.store = store
	l.key = key
	return l
}

// Capacity returns the maximum number of messages retained.
func (l *Log) Capacity() int {
	return l.capacity
}

// Load replaces the in-memory messages with the stored ones, keeping the newest
// messages when the stored history exceeds the capacity.
func (l *Log) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	history, err := l.store.Load(ctx, l.key)
	if err != nil {
		return fmt.Errorf("failed to load conversation %q: %w", l.key, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(history) > l.capacity {
		history = history[len(history)-l.capacity:]
	}
	l.messages = history
	return nil
}

// Append adds msg, evicting the oldest message on overflow, then persists.
// The message stays in memory even if persisting fails.
func (l *Log) Append(ctx context.Context, msg llm.ChatMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)
	if over := len(l.messages) - l.capacity; over > 0 {
		l.messages = slices.Delete(l.messages, 0, over)
	}
	return l.saveLocked(ctx)
}

// Messages returns a copy of the messages in order.
func (l *Log) Messages() []llm.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.messages)
}

// Len returns the number of messages held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Clear empties the log and removes the stored copy.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = nil
	if l.store == nil {
		return nil
	}
	if err := l.store.Delete(ctx, l.key); err != nil {
		return fmt.Errorf("failed to clear conversation %q: %w", l.key, err)
	}
	return nil
}

func (l *Log) saveLocked(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	if err := l.store.Save(ctx, l.key, l.messages); err != nil {
		return fmt.Errorf("failed to save conversation %q: %w", l.key, err)
	}
	return nil
}
