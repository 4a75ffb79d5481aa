package storage

import (
	"context"
	"sort"
	"sync"
)

// MockStorage is a mock implementation of Storage for testing
type MockStorage struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	pingError error
	saveError error
	loadError error
	saveCalls int
}

// Ensure MockStorage implements Storage interface
var _ Storage = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		snapshots: make(map[string][]byte),
	}
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetSaveError configures the mock to fail every save with err; nil restores success
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// SetLoadError configures the mock to fail every load with err
func (m *MockStorage) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadError = err
}

// SaveCalls returns how many saves were attempted
func (m *MockStorage) SaveCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveCalls
}

// Ping mocks storage ping
func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

// Close mocks storage close
func (m *MockStorage) Close() error {
	return nil
}

// SaveSnapshot stores a copy of data
func (m *MockStorage) SaveSnapshot(ctx context.Context, target string, data []byte) error {
	if err := ValidateTarget(target); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if m.saveError != nil {
		return m.saveError
	}
	m.snapshots[target] = append([]byte(nil), data...)
	return nil
}

// LoadSnapshot returns a copy of the stored document
func (m *MockStorage) LoadSnapshot(ctx context.Context, target string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.loadError != nil {
		return nil, m.loadError
	}
	data, ok := m.snapshots[target]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// PutRaw stores data without validation, for seeding corrupt documents
func (m *MockStorage) PutRaw(target string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[target] = data
}

// DeleteSnapshot removes the stored document
func (m *MockStorage) DeleteSnapshot(ctx context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, target)
	return nil
}

// ListSnapshots returns stored targets in sorted order
func (m *MockStorage) ListSnapshots(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	targets := make([]string, 0, len(m.snapshots))
	for t := range m.snapshots {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets, nil
}
