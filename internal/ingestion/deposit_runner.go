package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"dust-sweeper/internal/credits"
	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/evm"
	"dust-sweeper/internal/logger"
)

// ErrWalletMismatch is returned when a claimed sender differs from the
// sender found on chain.
var ErrWalletMismatch = errors.New("claimed wallet does not match on-chain sender")

// ErrIncompleteDeposit is returned for an event without wallet or amount
// when there is no verifier to supply them.
var ErrIncompleteDeposit = errors.New("wallet and amount are required without on-chain verification")

// Crediter credits verified deposits.
type Crediter interface {
	ProcessDeposit(ctx context.Context, origin, wallet, txHash, amountRaw string) (*credits.DepositResult, error)
}

type sourcedEvent struct {
	src DepositSource
	ev  domain.DepositEvent
}

// DepositRunner fans in deposit sources, verifies each event and credits it.
// Duplicate deliveries are harmless: crediting is idempotent per tx hash.
type DepositRunner struct {
	sources  []DepositSource
	verifier Verifier
	ledger   Crediter
	logger   *logger.Logger
}

// DepositRunnerOptions contains configuration for creating a DepositRunner.
type DepositRunnerOptions struct {
	Sources []DepositSource
	// Verifier confirms events on chain. Without it events are credited
	// with their claimed wallet and amount.
	Verifier Verifier
	Ledger   Crediter
	Logger   *logger.Logger
}

// NewDepositRunner creates a new deposit runner.
func NewDepositRunner(opts DepositRunnerOptions) *DepositRunner {
	return &DepositRunner{
		sources:  opts.Sources,
		verifier: opts.Verifier,
		ledger:   opts.Ledger,
		logger:   logger.OrNop(opts.Logger).WithComponent("deposit-ingestion"),
	}
}

// Run subscribes to every source and processes events until ctx is
// cancelled or all sources close. It blocks.
func (r *DepositRunner) Run(ctx context.Context) error {
	if len(r.sources) == 0 {
		return errors.New("no deposit sources configured")
	}

	merged := make(chan sourcedEvent)
	var wg sync.WaitGroup
	for _, src := range r.sources {
		ch, err := src.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", src.Name(), err)
		}
		r.logger.Info("subscribed to deposit source", zap.String("source", src.Name()))

		wg.Add(1)
		go func(src DepositSource, ch <-chan domain.DepositEvent) {
			defer wg.Done()
			for ev := range ch {
				if ev.Origin == "" {
					ev.Origin = src.Name()
				}
				select {
				case merged <- sourcedEvent{src: src, ev: ev}:
				case <-ctx.Done():
					return
				}
			}
			r.logger.Info("deposit source closed", zap.String("source", src.Name()))
		}(src, ch)
	}

	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("deposit ingestion stopping")
			return ctx.Err()
		case se, ok := <-merged:
			if !ok {
				return errors.New("all deposit sources closed")
			}
			ev := se.ev
			_, err := r.Handle(ctx, ev)
			if err != nil {
				r.logger.Warn("deposit not credited",
					zap.String("origin", ev.Origin),
					zap.String("tx_hash", ev.TxHash),
					zap.Bool("retryable", !isPermanent(err)),
					zap.Error(err))
			}
			cp, ok := se.src.(Checkpointer)
			if !ok {
				continue
			}
			if err != nil && !isPermanent(err) {
				cp.Hold(ev)
				continue
			}
			if err := cp.Checkpoint(ctx, ev); err != nil {
				r.logger.Warn("deposit checkpoint failed",
					zap.String("source", se.src.Name()),
					zap.Uint64("block", ev.BlockNumber),
					zap.Error(err))
			}
		}
	}
}

// isPermanent reports whether a failed deposit would fail the same way on
// replay. Anything else, such as an RPC outage, is retried after a restart.
func isPermanent(err error) bool {
	for _, target := range []error{
		ErrWalletMismatch,
		ErrIncompleteDeposit,
		evm.ErrInvalidTxHash,
		evm.ErrTxFailed,
		evm.ErrNoDeposit,
		credits.ErrInvalidWallet,
		credits.ErrInvalidAmount,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Handle verifies and credits one event. Soft ledger failures such as
// "already processed" are returned in the result, not as errors.
func (r *DepositRunner) Handle(ctx context.Context, ev domain.DepositEvent) (*credits.DepositResult, error) {
	wallet, amount := ev.Wallet, ev.AmountRaw

	// 1. Verify on chain; the receipt is authoritative for sender and amount
	if r.verifier != nil {
		dep, err := r.verifier.Verify(ctx, ev.TxHash)
		if err != nil {
			return nil, fmt.Errorf("verify deposit: %w", err)
		}
		if wallet != "" && domain.NormalizeAddress(wallet) != dep.Wallet {
			return nil, fmt.Errorf("%w: claimed %s, sender %s", ErrWalletMismatch, wallet, dep.Wallet)
		}
		wallet, amount = dep.Wallet, dep.AmountRaw.String()
	}
	if wallet == "" || amount == "" {
		return nil, fmt.Errorf("%w: deposit %s", ErrIncompleteDeposit, ev.TxHash)
	}

	// 2. Credit
	res, err := r.ledger.ProcessDeposit(ctx, ev.Origin, wallet, ev.TxHash, amount)
	if err != nil {
		return nil, err
	}
	if res.Success {
		r.logger.Info("deposit credited",
			zap.String("origin", ev.Origin),
			zap.String("wallet", wallet),
			zap.String("tx_hash", ev.TxHash),
			zap.Int64("credits_added", res.CreditsAdded))
	} else {
		r.logger.Debug("deposit skipped",
			zap.String("origin", ev.Origin),
			zap.String("tx_hash", ev.TxHash),
			zap.String("reason", res.Error))
	}
	return res, nil
}
