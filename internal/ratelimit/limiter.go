// Package ratelimit provides fixed-window request limiting backed by memory
// or Redis, and a Fiber middleware around it.
package ratelimit

import (
	"sync"
	"time"
)

const sweepInterval = 5 * time.Minute

type Limiter interface {
	Allow(key string, limit int, window time.Duration) Decision
	Close()
}

type Decision struct {
	Allowed   bool
	Count     int
	WindowEnd time.Time
}

type memoryLimiter struct {
	mu      sync.Mutex
	entries map[string]window
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

type window struct {
	count int
	end   time.Time
}

// NewMemory returns a process-local limiter. Expired windows are swept in the
// background until Close is called.
func NewMemory() Limiter {
	l := &memoryLimiter{
		entries: make(map[string]window),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

func (l *memoryLimiter) Allow(key string, limit int, win time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if win <= 0 {
		win = time.Minute
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.entries[key]
	if !ok || now.After(w.end) {
		w = window{count: 1, end: now.Add(win)}
		l.entries[key] = w
		return Decision{Allowed: true, Count: 1, WindowEnd: w.end}
	}
	if w.count >= limit {
		return Decision{Allowed: false, Count: w.count, WindowEnd: w.end}
	}
	w.count++
	l.entries[key] = w
	return Decision{Allowed: true, Count: w.count, WindowEnd: w.end}
}

func (l *memoryLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep(l.now())
		case <-l.stopCh:
			return
		}
	}
}

func (l *memoryLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.entries {
		if now.After(w.end) {
			delete(l.entries, key)
		}
	}
}

func (l *memoryLimiter) Close() {
	l.once.Do(func() { close(l.stopCh) })
}
