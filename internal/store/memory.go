package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process RecordStore for tests and local runs.
// It counts writes so callers can assert that a handler wrote nothing.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]string
	writes  int
	err     error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]string)}
}

// FailWith makes every subsequent call return err. Pass nil to recover.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Writes returns the number of successful write calls so far.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemoryStore) HasField(_ context.Context, kind Kind, id, field string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.records[kind.Key(id)][field]
	return ok, nil
}

func (m *MemoryStore) GetField(_ context.Context, kind Kind, id, field string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.records[kind.Key(id)][field]
	return v, ok, nil
}

func (m *MemoryStore) GetFields(_ context.Context, kind Kind, id string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]string, len(m.records[kind.Key(id)]))
	for k, v := range m.records[kind.Key(id)] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) SetField(ctx context.Context, kind Kind, id, field, value string) error {
	return m.SetFields(ctx, kind, id, map[string]string{field: value})
}

func (m *MemoryStore) SetFields(_ context.Context, kind Kind, id string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if len(fields) == 0 {
		return nil
	}
	rec, ok := m.records[kind.Key(id)]
	if !ok {
		rec = make(map[string]string, len(fields))
		m.records[kind.Key(id)] = rec
	}
	for k, v := range fields {
		rec[k] = v
	}
	m.writes++
	return nil
}

func (m *MemoryStore) IDs(_ context.Context, kind Kind) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	var ids []string
	for key := range m.records {
		if id := kind.ID(key); id != key && id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}
