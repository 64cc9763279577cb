package records

import (
	"context"
	"sync"
)

// MemoryStore keeps records in a map keyed by document path.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[string]ModelRecord
	writes int

	// SetFn, when set, runs before each write and can inject failures.
	SetFn func(path string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]ModelRecord)}
}

func (m *MemoryStore) SetVideoURL(ctx context.Context, userID, modelID, url string) error {
	path := DocumentPath(userID, modelID)
	if m.SetFn != nil {
		if err := m.SetFn(path); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[path] = ModelRecord{VideoURL: url}
	m.writes++
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, userID, modelID string) (*ModelRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.docs[DocumentPath(userID, modelID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// Writes counts successful writes.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Len returns the number of stored documents.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}
