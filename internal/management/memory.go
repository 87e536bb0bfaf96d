package management

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	record    *Record
	expiresAt time.Time
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[ObjectName]*memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[ObjectName]*memoryEntry),
		now:     time.Now,
	}
}

var (
	platformOnce  sync.Once
	platformStore *MemoryStore
)

// PlatformStore returns the store shared by everything in this process.
func PlatformStore() *MemoryStore {
	platformOnce.Do(func() { platformStore = NewMemoryStore() })
	return platformStore
}

func (s *MemoryStore) live(name ObjectName) (*memoryEntry, bool) {
	e, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, name)
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, name ObjectName) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(name)
	if !ok {
		return nil, ErrNotRegistered
	}
	return cloneRecord(e.record), nil
}

func (s *MemoryStore) Create(_ context.Context, rec *Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(rec.Name); ok {
		return ErrAlreadyRegistered
	}
	s.entries[rec.Name] = &memoryEntry{record: cloneRecord(rec), expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) Update(_ context.Context, rec *Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(rec.Name); !ok {
		return ErrNotRegistered
	}
	s.entries[rec.Name] = &memoryEntry{record: cloneRecord(rec), expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, name ObjectName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(name); !ok {
		return ErrNotRegistered
	}
	delete(s.entries, name)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, 0, len(s.entries))
	for name := range s.entries {
		if e, ok := s.live(name); ok {
			out = append(out, cloneRecord(e.record))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) Touch(_ context.Context, name ObjectName, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(name)
	if !ok {
		return ErrNotRegistered
	}
	e.expiresAt = s.expiry(ttl)
	return nil
}
