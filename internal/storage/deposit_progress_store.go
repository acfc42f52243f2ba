package storage

import "context"

// DepositProgress is the last block whose deposits a source has handled.
type DepositProgress struct {
	Source      string
	BlockNumber uint64
	UpdatedAt   int64 // ms
}

// DepositProgressStore persists per-source deposit checkpoints so log
// ingestion can resume after a restart.
type DepositProgressStore interface {
	// GetLastProcessed returns the checkpoint of source.
	// Returns ErrNotFound if no progress has been saved yet.
	GetLastProcessed(ctx context.Context, source string) (*DepositProgress, error)

	// SetLastProcessed saves the checkpoint. A block lower than the stored
	// one is ignored; checkpoints never move backwards.
	SetLastProcessed(ctx context.Context, progress *DepositProgress) error
}
