package memory

import (
	"context"
	"sync"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/storage"
)

// QuoteStore is an in-memory implementation of storage.QuoteStore.
type QuoteStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Quote // keyed by id
}

// NewQuoteStore creates a new in-memory quote store.
func NewQuoteStore() *QuoteStore {
	return &QuoteStore{
		data: make(map[string]*domain.Quote),
	}
}

// Compile-time interface check.
var _ storage.QuoteStore = (*QuoteStore)(nil)

// Insert adds a quote. Returns ErrDuplicateKey if the id exists.
func (s *QuoteStore) Insert(_ context.Context, q *domain.Quote) error {
	if q == nil || q.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[q.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[q.ID] = cloneQuote(q)
	return nil
}

// GetByID retrieves a quote. Returns ErrNotFound if not exists.
func (s *QuoteStore) GetByID(_ context.Context, id string) (*domain.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneQuote(q), nil
}

// DeleteExpired removes quotes with ExpiresAt <= before.
func (s *QuoteStore) DeleteExpired(_ context.Context, before int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, q := range s.data {
		if q.ExpiresAt <= before {
			delete(s.data, id)
			n++
		}
	}
	return n, nil
}

func cloneQuote(q *domain.Quote) *domain.Quote {
	c := *q
	c.SourceTokens = make([]domain.SourceToken, len(q.SourceTokens))
	for i, t := range q.SourceTokens {
		t.Reasons = append([]string(nil), t.Reasons...)
		c.SourceTokens[i] = t
	}
	c.Route.Steps = append([]domain.RouteStep{}, q.Route.Steps...)
	return &c
}
