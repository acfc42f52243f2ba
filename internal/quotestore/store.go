// Package quotestore holds quotes for their lifetime: cache first, durable
// store behind it, expiry re-checked on every read.
package quotestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dust-sweeper/internal/cache"
	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/logger"
	"dust-sweeper/internal/observability"
	"dust-sweeper/internal/storage"
)

// DefaultRetention is how long expired quotes stay readable as expired
// before Cleanup removes them.
const DefaultRetention = 24 * time.Hour

const cacheKeyPrefix = "quote:"

var (
	// ErrQuoteNotFound is returned for an unknown quote id.
	ErrQuoteNotFound = errors.New("quote not found")

	// ErrQuoteExpired is returned for a quote read at or after its expiresAt.
	ErrQuoteExpired = errors.New("quote expired")
)

// Store is the QuoteStore.
type Store struct {
	cache     cache.Cache
	durable   storage.QuoteStore
	retention time.Duration
	now       func() time.Time
	logger    *logger.Logger
}

// Options for creating Store.
type Options struct {
	Cache     cache.Cache // optional
	Durable   storage.QuoteStore
	Retention time.Duration
	Now       func() time.Time
	Logger    *logger.Logger
}

// New creates a quote store.
func New(opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		cache:     opts.Cache,
		durable:   opts.Durable,
		retention: retention,
		now:       now,
		logger:    logger.OrNop(opts.Logger).WithComponent("quote-store"),
	}
}

// Put persists q and caches it for ttl. A non-positive ttl caches until
// q.ExpiresAt. The durable write is authoritative; a cache failure is logged.
func (s *Store) Put(ctx context.Context, q *domain.Quote, ttl time.Duration) error {
	if q == nil || q.ID == "" || q.ExpiresAt <= q.CreatedAt {
		return fmt.Errorf("%w: quote needs an id and expiresAt after createdAt", storage.ErrInvalidInput)
	}

	if err := s.durable.Insert(ctx, q); err != nil {
		return fmt.Errorf("store quote %s: %w", q.ID, err)
	}

	if ttl <= 0 {
		ttl = s.remaining(q)
	}
	s.cacheQuote(ctx, q, ttl)
	return nil
}

// Get returns the quote while it is active. A quote read at or after its
// expiresAt yields ErrQuoteExpired, wherever it was found.
func (s *Store) Get(ctx context.Context, id string) (*domain.Quote, error) {
	q, err := s.lookup(ctx, id)
	if err != nil {
		if errors.Is(err, ErrQuoteNotFound) {
			observability.RecordQuoteLookup("not_found")
		}
		return nil, err
	}

	if !q.ActiveAt(s.now().UnixMilli()) {
		observability.RecordQuoteLookup("expired")
		return nil, fmt.Errorf("%w: %s expired at %d", ErrQuoteExpired, id, q.ExpiresAt)
	}

	observability.RecordQuoteLookup("active")
	return q, nil
}

func (s *Store) lookup(ctx context.Context, id string) (*domain.Quote, error) {
	key := cacheKeyPrefix + id

	if s.cache != nil {
		var cached domain.Quote
		ok, err := cache.GetJSON(ctx, s.cache, key, &cached)
		if err != nil {
			s.logger.Warn("quote cache read failed", zap.String("quote_id", id), zap.Error(err))
		}
		observability.RecordCacheLookup("quote", ok)
		if ok {
			return &cached, nil
		}
	}

	q, err := s.durable.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrQuoteNotFound, id)
		}
		return nil, fmt.Errorf("load quote %s: %w", id, err)
	}

	s.cacheQuote(ctx, q, s.remaining(q))
	return q, nil
}

// Cleanup removes quotes expired for longer than the retention period.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	before := s.now().Add(-s.retention).UnixMilli()
	n, err := s.durable.DeleteExpired(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("cleanup quotes: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired quotes removed", zap.Int("count", n))
	}
	return n, nil
}

func (s *Store) remaining(q *domain.Quote) time.Duration {
	return time.Duration(q.ExpiresAt-s.now().UnixMilli()) * time.Millisecond
}

// cacheQuote caches q for ttl; non-positive ttl (already expired) skips it.
func (s *Store) cacheQuote(ctx context.Context, q *domain.Quote, ttl time.Duration) {
	if s.cache == nil || ttl <= 0 {
		return
	}
	if err := cache.SetJSON(ctx, s.cache, cacheKeyPrefix+q.ID, q, ttl); err != nil {
		s.logger.Warn("quote cache write failed", zap.String("quote_id", q.ID), zap.Error(err))
	}
}
