package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   map[string]string
	expires time.Time
}

// Memory is a process-local cache. Expired entries are dropped lazily on read.
type Memory struct {
	mu       sync.RWMutex
	entries  map[string]memoryEntry
	versions map[string]uint64
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[string]memoryEntry),
		versions: make(map[string]uint64),
		now:      time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (map[string]string, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if !m.now().Before(entry.expires) {
		m.mu.Lock()
		if cur, still := m.entries[key]; still && cur.expires.Equal(entry.expires) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return copyMap(entry.value), true, nil
}

func (m *Memory) Version(_ context.Context, key string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[key], nil
}

func (m *Memory) Fill(_ context.Context, key string, value map[string]string, ttl time.Duration, version uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions[key] != version {
		return false, nil
	}
	m.entries[key] = memoryEntry{value: copyMap(value), expires: m.now().Add(ttl)}
	return true, nil
}

func (m *Memory) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[key]++
	delete(m.entries, key)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
