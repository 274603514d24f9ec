package state

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore keeps keys in a bounded in-process LRU. It only coordinates
// callers sharing the same process.
type MemoryStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, memEntry]
	now   func() time.Time
}

func NewMemoryStore(size int) *MemoryStore {
	if size <= 0 {
		size = 1024
	}
	return &MemoryStore{
		cache: expirable.NewLRU[string, memEntry](size, nil, 0),
		now:   time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.load(key)
	return v, ok, nil
}

func (s *MemoryStore) load(key string) ([]byte, bool) {
	e, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.cache.Remove(key)
		return nil, false
	}
	return append([]byte(nil), e.value...), true
}

func (s *MemoryStore) store(key string, value []byte, ttl time.Duration) {
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.cache.Add(key, e)
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(key, value, ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _ := s.load(key)
	next, err := fn(current)
	if err != nil {
		return err
	}
	s.store(key, next, ttl)
	return nil
}
