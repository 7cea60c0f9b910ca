package kv

import (
	"context"
	"sync"
)

// Memory is an in-process Store. A positive quota bounds the total number of
// value bytes held, mirroring the storage limits of a browser profile.
type Memory struct {
	mu    sync.RWMutex
	data  map[string][]byte
	size  int
	quota int
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store. quota <= 0 means unbounded.
func NewMemory(quota int) *Memory {
	return &Memory{
		data:  make(map[string][]byte),
		quota: quota,
	}
}

// Get returns a copy of the value stored under key.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value under key.
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.size - len(m.data[key]) + len(value)
	if m.quota > 0 && next > m.quota {
		return ErrQuotaExceeded
	}
	m.data[key] = append([]byte(nil), value...)
	m.size = next
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (m *Memory) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.size -= len(m.data[key])
	delete(m.data, key)
	return nil
}
