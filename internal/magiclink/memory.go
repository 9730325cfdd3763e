package magiclink

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	payload Payload
	expires time.Time
}

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemoryStore returns a single-process store. Expired tokens are swept
// every interval until Close.
func NewMemoryStore(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if interval > 0 {
		go s.sweepLoop(interval)
	}
	return s
}

func (s *MemoryStore) Save(_ context.Context, token string, p Payload, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = memoryEntry{payload: p, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, token string) (Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token]
	if !ok {
		return Payload{}, ErrInvalidToken
	}
	delete(s.entries, token)
	if s.now().After(e.expires) {
		return Payload{}, ErrInvalidToken
	}
	return e.payload, nil
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for token, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, token)
		}
	}
}

func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.stopCh) })
}
