package cache

import (
	"context"
	"sync"
	"time"
)

type scalarEntry struct {
	value   float64
	expires time.Time
}

// Memory is an in-process Store used by the simulate command and tests.
type Memory struct {
	mu      sync.Mutex
	lists   map[string][]Observation
	scalars map[string]scalarEntry
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		lists:   make(map[string][]Observation),
		scalars: make(map[string]scalarEntry),
		now:     time.Now,
	}
}

func (m *Memory) History(_ context.Context, key string) ([]Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	out := make([]Observation, len(list))
	copy(out, list)
	return out, nil
}

func (m *Memory) Push(_ context.Context, key string, obs Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]Observation{obs}, m.lists[key]...)
	if len(list) > MaxHistory {
		list = list[:MaxHistory]
	}
	m.lists[key] = list
	return nil
}

func (m *Memory) Scalar(_ context.Context, key string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.scalars[key]
	if !ok {
		return 0, false, nil
	}
	if !entry.expires.IsZero() && !m.now().Before(entry.expires) {
		delete(m.scalars, key)
		return 0, false, nil
	}
	return entry.value, true, nil
}

// SetScalar stores value; a non-positive ttl never expires.
func (m *Memory) SetScalar(_ context.Context, key string, value float64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := scalarEntry{value: value}
	if ttl > 0 {
		entry.expires = m.now().Add(ttl)
	}
	m.scalars[key] = entry
	return nil
}

var _ Store = (*Memory)(nil)
