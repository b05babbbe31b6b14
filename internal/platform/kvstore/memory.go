package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryStore keeps entries in process memory. It backs tests and
// single-instance deployments that do not need persistence across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	entries map[string]memoryEntry
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock injects the clock used for TTL expiry.
func WithMemoryClock(c clockwork.Clock) MemoryOption {
	return func(s *MemoryStore) {
		if c != nil {
			s.clock = c
		}
	}
}

func NewMemory(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		clock:   clockwork.NewRealClock(),
		entries: make(map[string]memoryEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get evicts an expired entry on read.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if s.expired(entry) {
		s.mu.Lock()
		if current, ok := s.entries[key]; ok && s.expired(current) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	entry := memoryEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = s.clock.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for key, entry := range s.entries {
		if strings.HasPrefix(key, prefix) && !s.expired(entry) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// PurgeExpired drops every entry whose TTL has elapsed.
func (s *MemoryStore) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if s.expired(entry) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Retained returns the number of entries held, expired or not.
func (s *MemoryStore) Retained() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, entry := range s.entries {
		if !s.expired(entry) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !s.clock.Now().Before(entry.expiresAt)
}
