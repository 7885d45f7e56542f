package cache

import (
	"context"
	"sync"
	"time"
)

// memoryBackend keeps envelopes in a map. It is the default when no
// persistent cache is configured and the backend tests run against.
type memoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{entries: make(map[string][]byte)}
}

func (m *memoryBackend) get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.entries[key]
	return raw, ok, nil
}

func (m *memoryBackend) set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *memoryBackend) del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

func (m *memoryBackend) close() error { return nil }
