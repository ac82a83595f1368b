package store

import (
	"sync"
	"time"
)

// memoryStore is the TTL map used when Redis is unreachable.
type memoryStore struct {
	mu          sync.RWMutex
	values      map[string][]byte
	expirations map[string]time.Time
	now         func() time.Time

	janitorStop chan struct{}
	janitorDone chan struct{}
	stopOnce    sync.Once
}

func newMemoryStore(janitorInterval time.Duration) *memoryStore {
	s := &memoryStore{
		values:      make(map[string][]byte),
		expirations: make(map[string]time.Time),
		now:         time.Now,
		janitorStop: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}
	if janitorInterval > 0 {
		go s.janitor(janitorInterval)
	} else {
		close(s.janitorDone)
	}
	return s
}

func (s *memoryStore) janitor(interval time.Duration) {
	defer close(s.janitorDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.janitorStop:
			return
		}
	}
}

func (s *memoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, expiry := range s.expirations {
		if !now.Before(expiry) {
			delete(s.values, key)
			delete(s.expirations, key)
		}
	}
}

// expiredLocked must be called with mu held.
func (s *memoryStore) expiredLocked(key string) bool {
	expiry, ok := s.expirations[key]
	return ok && !s.now().Before(expiry)
}

func (s *memoryStore) get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.expiredLocked(key) {
		return nil, false
	}
	value, ok := s.values[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true
}

func (s *memoryStore) set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.values[key] = stored
	if ttl > 0 {
		s.expirations[key] = s.now().Add(ttl)
	} else {
		delete(s.expirations, key)
	}
}

func (s *memoryStore) del(keys ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, key := range keys {
		if _, ok := s.values[key]; ok && !s.expiredLocked(key) {
			removed++
		}
		delete(s.values, key)
		delete(s.expirations, key)
	}
	return removed
}

func (s *memoryStore) exists(key string) bool {
	_, ok := s.get(key)
	return ok
}

func (s *memoryStore) close() {
	s.stopOnce.Do(func() {
		close(s.janitorStop)
	})
	<-s.janitorDone
}
