package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/storage"
)

// QuoteStore implements storage.QuoteStore using PostgreSQL.
// The quote is stored whole as JSONB; it is never updated.
type QuoteStore struct {
	pool *Pool
}

// NewQuoteStore creates a new QuoteStore.
func NewQuoteStore(pool *Pool) *QuoteStore {
	return &QuoteStore{pool: pool}
}

// Compile-time interface check.
var _ storage.QuoteStore = (*QuoteStore)(nil)

// Insert adds a quote. Returns ErrDuplicateKey if the id exists.
func (s *QuoteStore) Insert(ctx context.Context, q *domain.Quote) (err error) {
	if q == nil || q.ID == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("quote_insert", start, err) }(time.Now())

	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}

	query := `
		INSERT INTO quotes (id, wallet_address, payload, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = s.pool.Exec(ctx, query, q.ID, q.WalletAddress, payload, q.CreatedAt, q.ExpiresAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert quote: %w", err)
	}
	return nil
}

// GetByID retrieves a quote. Returns ErrNotFound if not exists.
func (s *QuoteStore) GetByID(ctx context.Context, id string) (q *domain.Quote, err error) {
	defer func(start time.Time) { observe("quote_get", start, err) }(time.Now())

	var payload []byte
	err = s.pool.QueryRow(ctx, `SELECT payload FROM quotes WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get quote: %w", err)
	}

	q = &domain.Quote{}
	if err := json.Unmarshal(payload, q); err != nil {
		return nil, fmt.Errorf("unmarshal quote %s: %w", id, err)
	}
	return q, nil
}

// DeleteExpired removes quotes with expires_at <= before.
func (s *QuoteStore) DeleteExpired(ctx context.Context, before int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quotes WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired quotes: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
