package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"dust-sweeper/internal/storage"
)

// DepositProgressStore is a PostgreSQL implementation of storage.DepositProgressStore.
// One row per source in deposit_progress.
type DepositProgressStore struct {
	pool *Pool
}

// NewDepositProgressStore creates a new PostgreSQL deposit progress store.
func NewDepositProgressStore(pool *Pool) *DepositProgressStore {
	return &DepositProgressStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DepositProgressStore = (*DepositProgressStore)(nil)

// GetLastProcessed returns the checkpoint of source.
func (s *DepositProgressStore) GetLastProcessed(ctx context.Context, source string) (*storage.DepositProgress, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT source, block_number, updated_at
		FROM deposit_progress
		WHERE source = $1
	`, source)

	var p storage.DepositProgress
	var block int64
	if err := row.Scan(&p.Source, &block, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	p.BlockNumber = uint64(block)
	return &p, nil
}

// SetLastProcessed upserts the checkpoint. The GREATEST guard keeps it
// monotonic under concurrent writers.
func (s *DepositProgressStore) SetLastProcessed(ctx context.Context, progress *storage.DepositProgress) error {
	if progress == nil || progress.Source == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO deposit_progress (source, block_number, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (source) DO UPDATE
		SET block_number = GREATEST(deposit_progress.block_number, EXCLUDED.block_number),
		    updated_at = EXCLUDED.updated_at
	`, progress.Source, int64(progress.BlockNumber), progress.UpdatedAt)
	return err
}
