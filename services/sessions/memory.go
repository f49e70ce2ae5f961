package sessions

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	mapping   Mapping
	expiresAt time.Time
}

// MemoryStore is an in-memory Store for tests and single-node deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, fingerprint string) (*Mapping, error) {
	s.mu.RLock()
	entry, ok := s.entries[fingerprint]
	now := s.now()
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if now.After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, fingerprint)
		s.mu.Unlock()
		return nil, nil
	}
	mapping := entry.mapping
	return &mapping, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, fingerprint string, mapping Mapping, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[fingerprint] = memoryEntry{
		mapping:   mapping,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, fingerprint)
	return nil
}

// TTLRemaining implements Store.
func (s *MemoryStore) TTLRemaining(_ context.Context, fingerprint string) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[fingerprint]
	if !ok {
		return 0, nil
	}
	remaining := entry.expiresAt.Sub(s.now())
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// Extend implements Store.
func (s *MemoryStore) Extend(_ context.Context, fingerprint string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[fingerprint]
	if !ok {
		return nil
	}
	entry.expiresAt = s.now().Add(ttl)
	s.entries[fingerprint] = entry
	return nil
}
