package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/ports"
)

type memoryEntry struct {
	set       *core.SessionCredentialSet
	expiresAt time.Time
}

// MemoryStore is an in-memory implementation of the CredentialStore interface
type MemoryStore struct {
	entries map[string]memoryEntry
	mu      sync.RWMutex
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

var _ ports.CredentialStore = (*MemoryStore)(nil)

// Set stores a credential set for ttl
func (s *MemoryStore) Set(ctx context.Context, key string, set *core.SessionCredentialSet, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{set: set, expiresAt: s.now().Add(ttl)}
	return nil
}

// Get returns the credential set stored under key. Entries past their ttl are
// dropped here rather than by a background sweeper.
func (s *MemoryStore) Get(ctx context.Context, key string) (*core.SessionCredentialSet, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()
	if !exists {
		return nil, core.ErrCredentialNotFound
	}

	if !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		// only delete if nobody stored a newer entry meanwhile
		if current, ok := s.entries[key]; ok && current.expiresAt.Equal(entry.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, core.ErrCredentialNotFound
	}
	return entry.set, nil
}

// Delete removes key
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Len returns the number of stored entries, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
