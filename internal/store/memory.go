package store

import (
	"context"
	"errors"
	"sync"
)

// ErrInjected is returned by MemoryStore when failures are switched on.
var ErrInjected = errors.New("injected storage failure")

// MemoryStore is an in-process Store used by tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	sets     int
	failGets bool
	failSets bool
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// FailGets makes every subsequent Get fail (or succeed again).
func (m *MemoryStore) FailGets(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGets = fail
}

// FailSets makes every subsequent Set fail (or succeed again).
func (m *MemoryStore) FailSets(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSets = fail
}

// SetCount returns the number of successful writes.
func (m *MemoryStore) SetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

// Get returns a copy of the value at key.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGets {
		return nil, false, ErrInjected
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set stores a copy of value at key.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSets {
		return ErrInjected
	}
	m.data[key] = append([]byte(nil), value...)
	m.sets++
	return nil
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }
func (m *MemoryStore) Close() error                 { return nil }

var _ Store = (*MemoryStore)(nil)
