package credential

import (
	"fmt"
	"sync"
)

// MemoryStore is a Backend that keeps records in process memory. It backs
// --ephemeral runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Kind][]byte
}

// NewMemoryStore returns an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Kind][]byte)}
}

func (m *MemoryStore) Put(kind Kind, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[kind] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Get(kind Kind) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.records[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, kind)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Delete(kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, kind)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
