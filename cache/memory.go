package cache

import (
	"context"
	"sync"
	"time"
)

// entry holds a cached value with its expiry.
type entry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process Backend. It is safe for concurrent use.
// Expired entries are invisible to Get immediately and are swept from the
// map every five minutes.
type Memory struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	done       chan struct{}
	closeOnce  sync.Once
}

// NewMemory creates a Memory backend holding at most maxEntries values
// (maxEntries <= 0 means unbounded) and starts the sweep goroutine.
func NewMemory(maxEntries int) *Memory {
	m := &Memory{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		done:       make(chan struct{}),
	}
	go m.cleanupLoop(5 * time.Minute)
	return m
}

// Get returns the value for key or ErrMiss.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	e, ok := m.store[key]
	m.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		return "", ErrMiss
	}
	return e.value, nil
}

// Set stores value under key. When the backend is full a random entry is
// evicted (map iteration order is random in Go).
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.store[key]; !exists && m.maxEntries > 0 && len(m.store) >= m.maxEntries {
		for k := range m.store {
			delete(m.store, k)
			break
		}
	}

	m.store[key] = &entry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store)
}

// Close stops the sweep goroutine.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *Memory) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

func (m *Memory) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.store {
		if now.After(e.expiresAt) {
			delete(m.store, k)
		}
	}
}
