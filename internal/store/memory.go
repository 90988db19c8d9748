package store

import (
	"context"
	"sync"
)

// MemoryBacking keeps the document in process memory. Used in tests and
// for throwaway sessions.
type MemoryBacking struct {
	mu  sync.RWMutex
	doc []byte
}

var _ Backing = (*MemoryBacking)(nil)

func NewMemoryBacking() *MemoryBacking {
	return &MemoryBacking{}
}

func (m *MemoryBacking) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.doc == nil {
		return nil, nil
	}
	return append([]byte(nil), m.doc...), nil
}

func (m *MemoryBacking) Save(ctx context.Context, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = append([]byte(nil), doc...)
	return nil
}
