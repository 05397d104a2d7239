package cache

import (
	"context"
	"sync"
	"time"

	"marketgateway/internal/observ"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Store with a background janitor that evicts
// expired entries. Reads also check expiry so correctness never depends
// on janitor timing.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	maxSize int

	janitorOnce sync.Once
	stop        chan struct{}
}

func NewMemory(maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = 10000
	}
	m := &Memory{
		entries: make(map[string]memoryEntry),
		maxSize: maxSize,
		stop:    make(chan struct{}),
	}
	m.janitorOnce.Do(func() { go m.janitor() })
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		observ.IncCounter("cache_miss_total", map[string]string{"backend": "memory"})
		return nil, false, nil
	}
	observ.IncCounter("cache_hit_total", map[string]string{"backend": "memory"})
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) >= m.maxSize {
		m.evictLocked()
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) Close() error {
	close(m.stop)
	return nil
}

// Len is for tests and the status surface.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// evictLocked drops expired entries first, then arbitrary ones until
// there is room for one more.
func (m *Memory) evictLocked() {
	now := time.Now()
	evicted := 0
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
			evicted++
		}
	}
	for k := range m.entries {
		if len(m.entries) < m.maxSize {
			break
		}
		delete(m.entries, k)
		evicted++
	}
	if evicted > 0 {
		observ.IncCounterBy("cache_evictions_total", map[string]string{"backend": "memory"}, int64(evicted))
	}
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			now := time.Now()
			evicted := 0
			for k, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, k)
					evicted++
				}
			}
			m.mu.Unlock()
			if evicted > 0 {
				observ.IncCounterBy("cache_evictions_total", map[string]string{"backend": "memory"}, int64(evicted))
			}
		}
	}
}
