package otp

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	Entry
	evictAt time.Time
}

// MemoryStore keeps codes in process. Entries disappear once their ttl has
// elapsed.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*memoryEntry
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, entries: make(map[string]*memoryEntry)}
}

func (m *MemoryStore) Save(_ context.Context, phone string, entry Entry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[phone] = &memoryEntry{Entry: entry, evictAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, phone string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(phone)
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e.Entry, nil
}

func (m *MemoryStore) IncrementAttempts(_ context.Context, phone string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(phone)
	if !ok {
		return 0, ErrNotFound
	}
	e.Attempts++
	return e.Attempts, nil
}

func (m *MemoryStore) Delete(_ context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, phone)
	return nil
}

// lookup must be called with m.mu held.
func (m *MemoryStore) lookup(phone string) (*memoryEntry, bool) {
	e, ok := m.entries[phone]
	if !ok {
		return nil, false
	}
	if !m.now().Before(e.evictAt) {
		delete(m.entries, phone)
		return nil, false
	}
	return e, true
}
