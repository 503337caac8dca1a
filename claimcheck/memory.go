package claimcheck

import (
	"context"
	"sync"
	"time"

	"github.com/glimte/sedaflow-go/contracts"
)

type memoryEntry struct {
	payload  []byte
	storedAt time.Time
}

// MemoryStore keeps claimed payloads in process memory. Entries live
// for the process lifetime; there is no TTL or eviction, so the store
// grows with every Put. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
	}
}

// Put implements Store. The payload is copied so later mutation of
// the caller's slice cannot change what the ticket resolves to.
func (s *MemoryStore) Put(ctx context.Context, payload []byte) (string, error) {
	ticket := NewTicket()

	stored := make([]byte, len(payload))
	copy(stored, payload)

	s.mu.Lock()
	s.entries[ticket] = memoryEntry{payload: stored, storedAt: time.Now().UTC()}
	s.mu.Unlock()

	return ticket, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, ticket string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.entries[ticket]
	s.mu.RUnlock()

	if !ok {
		return nil, contracts.ErrClaimNotFound
	}

	payload := make([]byte, len(entry.payload))
	copy(payload, entry.payload)
	return payload, nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
