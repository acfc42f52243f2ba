package ingestion

import (
	"context"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/evm"
)

// DepositSource delivers claimed deposits until ctx is cancelled.
// The channel is closed when the source stops.
type DepositSource interface {
	Name() string
	Subscribe(ctx context.Context) (<-chan domain.DepositEvent, error)
}

// Checkpointer is implemented by sources that resume from a saved position.
// The runner calls Checkpoint after an event has been handled and Hold
// after it failed with an error worth retrying; a held event keeps the
// checkpoint below its block so a restart replays it.
type Checkpointer interface {
	Checkpoint(ctx context.Context, ev domain.DepositEvent) error
	Hold(ev domain.DepositEvent)
}

// Verifier confirms a deposit on chain.
type Verifier interface {
	Verify(ctx context.Context, txHash string) (*evm.Deposit, error)
}
