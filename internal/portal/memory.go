package portal

import (
	"context"
	"sync"

	"github.com/roach88/membersync/internal/ir"
	"github.com/roach88/membersync/internal/store"
)

// MemoryStore is an in-process DocumentStore for tests and development.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]ir.Object
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]ir.Object)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (ir.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, key string, doc ir.Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := ir.Object{}
	stored.Merge(doc)
	m.docs[key] = stored
	return nil
}

func (m *MemoryStore) Merge(_ context.Context, key string, fragment ir.Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key]
	if !ok {
		return store.ErrNotFound
	}
	doc.Merge(fragment)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[key]; !ok {
		return store.ErrNotFound
	}
	delete(m.docs, key)
	return nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs), nil
}

func (m *MemoryStore) Close() error {
	return nil
}
