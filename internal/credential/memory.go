package credential

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory. Records are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, uid string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[uid], nil
}

func (s *MemoryStore) Put(_ context.Context, uid string, update Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[uid] = s.records[uid].Merge(update)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
