package storage

import (
	"context"
	"sync"

	"github.com/richinex/morph/llm"
)

// Sealable wraps a Store so that writes can be stopped for good. After
// PurgeAndSeal, saves in flight have finished and later ones are dropped,
// so nothing recreates the purged state before the process exits.
type Sealable struct {
	Store

	mu     sync.RWMutex
	sealed bool
}

// NewSealable wraps store.
func NewSealable(store Store) *Sealable {
	return &Sealable{Store: store}
}

func (s *Sealable) Save(ctx context.Context, key string, history []llm.ChatMessage) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sealed {
		return nil
	}
	return s.Store.Save(ctx, key, history)
}

func (s *Sealable) SaveState(ctx context.Context, key string, data map[string]any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sealed {
		return nil
	}
	return s.Store.SaveState(ctx, key, data)
}

// PurgeAndSeal removes everything stored for key and drops all later saves.
func (s *Sealable) PurgeAndSeal(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	return Purge(ctx, s.Store, key)
}

// Sealed reports whether PurgeAndSeal has run.
func (s *Sealable) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}
