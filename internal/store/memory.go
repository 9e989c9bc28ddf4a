package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Repository for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	creds    map[string]map[string]string
	lastSeen map[string]time.Time
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		creds:    make(map[string]map[string]string),
		lastSeen: make(map[string]time.Time),
	}
}

func (m *MemoryStore) GetCredential(_ context.Context, deviceID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.creds[deviceID][key]
	return v, ok, nil
}

func (m *MemoryStore) PutCredential(_ context.Context, deviceID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds[deviceID] == nil {
		m.creds[deviceID] = make(map[string]string)
	}
	m.creds[deviceID][key] = value
	if _, ok := m.lastSeen[deviceID]; !ok {
		m.lastSeen[deviceID] = time.Now()
	}
	return nil
}

func (m *MemoryStore) DeleteCredential(_ context.Context, deviceID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds[deviceID], key)
	return nil
}

func (m *MemoryStore) TouchDevice(_ context.Context, deviceID string, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen[deviceID] = seen
	return nil
}

func (m *MemoryStore) ListStaleDevices(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, seen := range m.lastSeen {
		if seen.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) DeleteDevice(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, deviceID)
	delete(m.lastSeen, deviceID)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
