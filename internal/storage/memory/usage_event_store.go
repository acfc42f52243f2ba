package memory

import (
	"context"
	"sort"
	"sync"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/storage"
)

// UsageEventStore is an in-memory implementation of storage.UsageEventStore.
type UsageEventStore struct {
	mu     sync.RWMutex
	ids    map[string]struct{}
	events []*domain.UsageEvent
}

// NewUsageEventStore creates a new in-memory usage event store.
func NewUsageEventStore() *UsageEventStore {
	return &UsageEventStore{
		ids: make(map[string]struct{}),
	}
}

// Compile-time interface check.
var _ storage.UsageEventStore = (*UsageEventStore)(nil)

// Insert adds an event. Returns ErrDuplicateKey if event_id exists.
func (s *UsageEventStore) Insert(_ context.Context, e *domain.UsageEvent) error {
	if e == nil || e.EventID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[e.EventID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *e
	s.ids[e.EventID] = struct{}{}
	s.events = append(s.events, &copy)
	return nil
}

// GetByWallet retrieves events within [start, end] (inclusive), ordered by CreatedAt ASC.
func (s *UsageEventStore) GetByWallet(_ context.Context, wallet string, start, end int64) ([]*domain.UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.UsageEvent
	for _, e := range s.events {
		if e.WalletAddress == wallet && e.CreatedAt >= start && e.CreatedAt <= end {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt < result[j].CreatedAt
	})
	return result, nil
}
