package memory

import (
	"context"
	"sync"

	"dust-sweeper/internal/storage"
)

// DepositProgressStore is an in-memory implementation of storage.DepositProgressStore.
type DepositProgressStore struct {
	mu       sync.RWMutex
	progress map[string]storage.DepositProgress
}

// NewDepositProgressStore creates a new in-memory deposit progress store.
func NewDepositProgressStore() *DepositProgressStore {
	return &DepositProgressStore{
		progress: make(map[string]storage.DepositProgress),
	}
}

// Compile-time interface check.
var _ storage.DepositProgressStore = (*DepositProgressStore)(nil)

// GetLastProcessed returns the checkpoint of source.
func (s *DepositProgressStore) GetLastProcessed(_ context.Context, source string) (*storage.DepositProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[source]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

// SetLastProcessed saves the checkpoint unless it would move backwards.
func (s *DepositProgressStore) SetLastProcessed(_ context.Context, progress *storage.DepositProgress) error {
	if progress == nil || progress.Source == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.progress[progress.Source]; ok && cur.BlockNumber > progress.BlockNumber {
		return nil
	}
	s.progress[progress.Source] = *progress
	return nil
}
