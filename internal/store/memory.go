package store

import (
	"context"
	"sync"
)

// Memory keeps only the most recent record.
type Memory struct {
	mu     sync.RWMutex
	latest *Record
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Save(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = &rec
	return nil
}

func (m *Memory) Latest(ctx context.Context) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return Record{}, ErrNotFound
	}
	return *m.latest, nil
}
