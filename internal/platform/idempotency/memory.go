package idempotency

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps keys in process. It backs the memory persistence mode and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) lookup(id string) *Entry {
	if entry, ok := s.entries[id]; ok {
		return &entry
	}
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := entryID(key)
	result, held, err := claim(s.lookup(id), key, fingerprint, now.UTC(), ttl)
	if err != nil {
		return Claim{}, err
	}
	if held != nil {
		s.entries[id] = *held
	}
	return result, nil
}

func (s *MemoryStore) Settle(_ context.Context, key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := entryID(key)
	entry, err := settle(s.lookup(id), key, fingerprint, reply, now.UTC(), ttl)
	if err != nil {
		return err
	}
	s.entries[id] = entry
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, entryID(key))
	s.mu.Unlock()
	return nil
}

// CleanupExpired removes expired keys, oldest expiry first. A non-positive limit removes all.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, entry := range s.entries {
		if entry.expired(now) {
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return s.entries[expired[i]].ExpiresAt.Before(s.entries[expired[j]].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, id := range expired {
		delete(s.entries, id)
	}
	return len(expired), nil
}
