package ingestion

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"dust-sweeper/internal/credits"
	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/evm"
	"dust-sweeper/internal/logger"
	"dust-sweeper/internal/storage"
)

// DefaultBackfillRange is the largest block span requested per eth_getLogs call.
const DefaultBackfillRange = 2000

// ChainDepositSource turns stablecoin Transfer logs to the treasury into
// deposit events.
type ChainDepositSource struct {
	client   evm.WSClient
	verifier *evm.DepositVerifier

	// Optional backfill of logs missed while the process was down.
	reader   evm.LogReader
	progress storage.DepositProgressStore
	maxRange uint64

	// heldBlock is the lowest block with a deposit that failed and must be
	// replayed; 0 when none.
	mu        sync.Mutex
	heldBlock uint64

	now    func() time.Time
	logger *logger.Logger
}

// ChainSourceOption configures a ChainDepositSource.
type ChainSourceOption func(*ChainDepositSource)

// WithBackfill makes Subscribe replay logs since the saved checkpoint
// before streaming live ones. maxRange <= 0 uses DefaultBackfillRange.
func WithBackfill(reader evm.LogReader, progress storage.DepositProgressStore, maxRange uint64) ChainSourceOption {
	return func(s *ChainDepositSource) {
		s.reader = reader
		s.progress = progress
		if maxRange > 0 {
			s.maxRange = maxRange
		}
	}
}

// WithSourceLogger sets the logger.
func WithSourceLogger(log *logger.Logger) ChainSourceOption {
	return func(s *ChainDepositSource) {
		s.logger = logger.OrNop(log).WithComponent("chain-deposits")
	}
}

// NewChainDepositSource creates a log-driven deposit source. The verifier
// supplies the token and treasury addresses used for the log filter.
func NewChainDepositSource(client evm.WSClient, verifier *evm.DepositVerifier, opts ...ChainSourceOption) *ChainDepositSource {
	s := &ChainDepositSource{
		client:   client,
		verifier: verifier,
		maxRange: DefaultBackfillRange,
		now:      time.Now,
		logger:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the source name.
func (s *ChainDepositSource) Name() string { return credits.OriginChain }

// Filter is the subscription filter: Transfer(*, treasury) on the token.
func (s *ChainDepositSource) Filter() evm.LogsFilter {
	return evm.LogsFilter{
		Addresses: []string{s.verifier.Token()},
		Topics: [][]string{
			{evm.TransferEventTopic},
			nil,
			{evm.AddressTopic(s.verifier.Treasury())},
		},
	}
}

// Subscribe streams deposit events. Reorged-out logs and transfers that do
// not match the token and treasury are dropped. With backfill enabled, logs
// since the checkpoint are emitted first; the live subscription is opened
// before the backfill so nothing falls between the two.
func (s *ChainDepositSource) Subscribe(ctx context.Context) (<-chan domain.DepositEvent, error) {
	logs, err := s.client.SubscribeLogs(ctx, s.Filter())
	if err != nil {
		return nil, err
	}

	out := make(chan domain.DepositEvent, 256)
	go func() {
		defer close(out)

		if s.reader != nil && s.progress != nil {
			if err := s.backfill(ctx, out); err != nil && ctx.Err() == nil {
				s.logger.Warn("Deposit backfill failed", zap.Error(err))
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case l, ok := <-logs:
				if !ok {
					return
				}
				if !s.emit(ctx, out, l) {
					return
				}
			}
		}
	}()
	return out, nil
}

// Checkpoint records that every block before ev's block has been handled.
// The block of ev itself is replayed after a restart; crediting is
// idempotent per tx hash. A held block caps the checkpoint.
func (s *ChainDepositSource) Checkpoint(ctx context.Context, ev domain.DepositEvent) error {
	if s.progress == nil || ev.BlockNumber == 0 {
		return nil
	}
	block := ev.BlockNumber
	s.mu.Lock()
	if s.heldBlock != 0 && s.heldBlock < block {
		block = s.heldBlock
	}
	s.mu.Unlock()

	return s.progress.SetLastProcessed(ctx, &storage.DepositProgress{
		Source:      s.Name(),
		BlockNumber: block - 1,
		UpdatedAt:   s.now().UnixMilli(),
	})
}

// Hold pins the checkpoint below ev's block for the life of the process,
// so the deposit is replayed on the next start.
func (s *ChainDepositSource) Hold(ev domain.DepositEvent) {
	if ev.BlockNumber == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heldBlock == 0 || ev.BlockNumber < s.heldBlock {
		s.heldBlock = ev.BlockNumber
		s.logger.Warn("Deposit checkpoint held",
			zap.String("tx_hash", ev.TxHash),
			zap.Uint64("block", ev.BlockNumber))
	}
}

// backfill emits matching logs in (checkpoint, head]. Without a checkpoint
// the head is saved and nothing is replayed.
func (s *ChainDepositSource) backfill(ctx context.Context, out chan<- domain.DepositEvent) error {
	head, err := s.reader.BlockNumber(ctx)
	if err != nil {
		return err
	}

	last, err := s.progress.GetLastProcessed(ctx, s.Name())
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Info("No deposit checkpoint, starting at head", zap.Uint64("block", head))
		return s.save(ctx, head)
	}
	if err != nil {
		return err
	}
	if last.BlockNumber >= head {
		return nil
	}

	filter := s.Filter()
	emitted := 0
	for from := last.BlockNumber + 1; from <= head; from += s.maxRange {
		to := from + s.maxRange - 1
		if to > head {
			to = head
		}
		logs, err := s.reader.GetLogs(ctx, filter, from, to)
		if err != nil {
			return err
		}
		for _, l := range logs {
			if _, ok := s.verifier.Match(l); !ok {
				continue
			}
			if !s.emit(ctx, out, l) {
				return ctx.Err()
			}
			emitted++
		}
	}

	s.logger.Info("Deposit backfill complete",
		zap.Uint64("from", last.BlockNumber+1),
		zap.Uint64("to", head),
		zap.Int("deposits", emitted))

	// Emitted events advance the checkpoint once credited.
	if emitted == 0 {
		return s.save(ctx, head)
	}
	return nil
}

func (s *ChainDepositSource) save(ctx context.Context, block uint64) error {
	return s.progress.SetLastProcessed(ctx, &storage.DepositProgress{
		Source:      s.Name(),
		BlockNumber: block,
		UpdatedAt:   s.now().UnixMilli(),
	})
}

// emit sends l as a deposit event if it matches. It reports false when ctx
// is cancelled.
func (s *ChainDepositSource) emit(ctx context.Context, out chan<- domain.DepositEvent, l evm.Log) bool {
	t, ok := s.verifier.Match(l)
	if !ok {
		return true
	}
	ev := domain.DepositEvent{
		TxHash:      l.TxHash,
		Wallet:      t.From,
		AmountRaw:   t.Amount.String(),
		Origin:      credits.OriginChain,
		BlockNumber: l.BlockNumber,
	}
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
