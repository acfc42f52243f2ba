package ingestion

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dust-sweeper/internal/credits"
	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/evm"
	"dust-sweeper/internal/storage"
	"dust-sweeper/internal/storage/memory"
)

type fakeReader struct {
	head   uint64
	logs   []evm.Log
	ranges [][2]uint64
}

func (f *fakeReader) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeReader) GetLogs(_ context.Context, _ evm.LogsFilter, from, to uint64) ([]evm.Log, error) {
	f.ranges = append(f.ranges, [2]uint64{from, to})
	var out []evm.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func blockLog(l evm.Log, block uint64) evm.Log {
	l.BlockNumber = block
	return l
}

func lastProcessed(t *testing.T, p storage.DepositProgressStore) uint64 {
	t.Helper()
	got, err := p.GetLastProcessed(context.Background(), credits.OriginChain)
	require.NoError(t, err)
	return got.BlockNumber
}

func TestChainDepositSource_Backfill(t *testing.T) {
	other := "0x" + "9999999999999999999999999999999999999999"
	reader := &fakeReader{
		head: 105,
		logs: []evm.Log{
			blockLog(transferLog(usdc, sender, treasury, 2_000_000, txHash(30)), 103),
			blockLog(transferLog(usdc, sender, other, 2_000_000, txHash(31)), 104),
		},
	}
	progress := memory.NewDepositProgressStore()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, progress.SetLastProcessed(ctx, &storage.DepositProgress{Source: credits.OriginChain, BlockNumber: 100}))

	ws := &fakeWS{logs: make(chan evm.Log, 4)}
	src := NewChainDepositSource(ws, evm.NewDepositVerifier(nil, usdc, treasury), WithBackfill(reader, progress, 2))

	ch, err := src.Subscribe(ctx)
	require.NoError(t, err)
	ws.logs <- blockLog(transferLog(usdc, sender, treasury, 3_000_000, txHash(32)), 106)
	close(ws.logs)

	var got []domain.DepositEvent
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, txHash(30), got[0].TxHash, "backfilled events come first")
	assert.Equal(t, uint64(103), got[0].BlockNumber)
	assert.Equal(t, txHash(32), got[1].TxHash)
	assert.Equal(t, [][2]uint64{{101, 102}, {103, 104}, {105, 105}}, reader.ranges)

	// Not advanced until the emitted deposit is handled
	assert.Equal(t, uint64(100), lastProcessed(t, progress))

	require.NoError(t, src.Checkpoint(ctx, got[1]))
	assert.Equal(t, uint64(105), lastProcessed(t, progress))
}

func TestChainDepositSource_BackfillWithoutCheckpoint(t *testing.T) {
	reader := &fakeReader{head: 500}
	progress := memory.NewDepositProgressStore()
	ws := &fakeWS{logs: make(chan evm.Log)}
	src := NewChainDepositSource(ws, evm.NewDepositVerifier(nil, usdc, treasury), WithBackfill(reader, progress, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := src.Subscribe(ctx)
	require.NoError(t, err)
	close(ws.logs)
	for range ch {
	}

	assert.Empty(t, reader.ranges)
	assert.Equal(t, uint64(500), lastProcessed(t, progress))
}

func TestChainDepositSource_BackfillNothingToReplay(t *testing.T) {
	reader := &fakeReader{head: 20}
	progress := memory.NewDepositProgressStore()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, progress.SetLastProcessed(ctx, &storage.DepositProgress{Source: credits.OriginChain, BlockNumber: 10}))

	ws := &fakeWS{logs: make(chan evm.Log)}
	src := NewChainDepositSource(ws, evm.NewDepositVerifier(nil, usdc, treasury), WithBackfill(reader, progress, 0))

	ch, err := src.Subscribe(ctx)
	require.NoError(t, err)
	close(ws.logs)
	for range ch {
	}

	assert.Equal(t, [][2]uint64{{11, 20}}, reader.ranges)
	assert.Equal(t, uint64(20), lastProcessed(t, progress), "empty range advances to head")
}

func TestDepositRunner_Checkpoints(t *testing.T) {
	ledger, _ := newLedger()
	reader := &fakeReader{head: 150}
	progress := memory.NewDepositProgressStore()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, progress.SetLastProcessed(ctx, &storage.DepositProgress{Source: credits.OriginChain, BlockNumber: 150}))

	ws := &fakeWS{logs: make(chan evm.Log, 2)}
	src := NewChainDepositSource(ws, evm.NewDepositVerifier(nil, usdc, treasury), WithBackfill(reader, progress, 0))
	ws.logs <- blockLog(transferLog(usdc, sender, treasury, 1_500_000, txHash(40)), 200)
	close(ws.logs)

	r := NewDepositRunner(DepositRunnerOptions{Sources: []DepositSource{src}, Ledger: ledger})
	require.Error(t, r.Run(ctx))

	assert.Equal(t, int64(150), balance(t, ledger, sender))
	assert.Equal(t, uint64(199), lastProcessed(t, progress))
}

type flakyVerifier struct {
	fakeVerifier
	unavailable map[string]bool
}

func (f *flakyVerifier) Verify(ctx context.Context, hash string) (*evm.Deposit, error) {
	if f.unavailable[strings.ToLower(hash)] {
		return nil, errors.New("rpc unavailable")
	}
	return f.fakeVerifier.Verify(ctx, hash)
}

func runChainDeposits(t *testing.T, verifier Verifier, logs ...evm.Log) (*credits.Ledger, storage.DepositProgressStore) {
	t.Helper()
	ledger, _ := newLedger()
	reader := &fakeReader{head: 90}
	progress := memory.NewDepositProgressStore()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, progress.SetLastProcessed(ctx, &storage.DepositProgress{Source: credits.OriginChain, BlockNumber: 90}))

	ws := &fakeWS{logs: make(chan evm.Log, len(logs))}
	src := NewChainDepositSource(ws, evm.NewDepositVerifier(nil, usdc, treasury), WithBackfill(reader, progress, 0))
	for _, l := range logs {
		ws.logs <- l
	}
	close(ws.logs)

	r := NewDepositRunner(DepositRunnerOptions{Sources: []DepositSource{src}, Verifier: verifier, Ledger: ledger})
	require.Error(t, r.Run(ctx))
	return ledger, progress
}

func TestDepositRunner_CheckpointHeldOnRetryableFailure(t *testing.T) {
	failed, credited := txHash(50), txHash(51)
	verifier := &flakyVerifier{
		fakeVerifier: fakeVerifier{deposits: map[string]*evm.Deposit{
			strings.ToLower(failed):   {TxHash: failed, Wallet: sender, AmountRaw: big.NewInt(1_000_000)},
			strings.ToLower(credited): {TxHash: credited, Wallet: sender, AmountRaw: big.NewInt(2_500_000)},
		}},
		unavailable: map[string]bool{strings.ToLower(failed): true},
	}

	ledger, progress := runChainDeposits(t, verifier,
		blockLog(transferLog(usdc, sender, treasury, 1_000_000, failed), 100),
		blockLog(transferLog(usdc, sender, treasury, 2_500_000, credited), 105),
	)

	assert.Equal(t, int64(250), balance(t, ledger, sender))
	assert.Equal(t, uint64(99), lastProcessed(t, progress), "block 100 is replayed on restart")
}

func TestDepositRunner_CheckpointPastRejectedDeposit(t *testing.T) {
	credited := txHash(53)
	verifier := &fakeVerifier{deposits: map[string]*evm.Deposit{
		strings.ToLower(credited): {TxHash: credited, Wallet: sender, AmountRaw: big.NewInt(2_500_000)},
	}}

	// txHash(52) has no deposit in its receipt; replaying it would fail again
	ledger, progress := runChainDeposits(t, verifier,
		blockLog(transferLog(usdc, sender, treasury, 1_000_000, txHash(52)), 100),
		blockLog(transferLog(usdc, sender, treasury, 2_500_000, credited), 105),
	)

	assert.Equal(t, int64(250), balance(t, ledger, sender))
	assert.Equal(t, uint64(104), lastProcessed(t, progress))
}

func TestChainDepositSource_HoldKeepsLowestBlock(t *testing.T) {
	progress := memory.NewDepositProgressStore()
	src := NewChainDepositSource(&fakeWS{}, nil, WithBackfill(&fakeReader{}, progress, 0))
	ctx := context.Background()

	src.Hold(domain.DepositEvent{BlockNumber: 120})
	src.Hold(domain.DepositEvent{BlockNumber: 110})
	src.Hold(domain.DepositEvent{BlockNumber: 130})

	require.NoError(t, src.Checkpoint(ctx, domain.DepositEvent{BlockNumber: 105}))
	assert.Equal(t, uint64(104), lastProcessed(t, progress), "blocks below the hold advance")

	require.NoError(t, src.Checkpoint(ctx, domain.DepositEvent{BlockNumber: 140}))
	assert.Equal(t, uint64(109), lastProcessed(t, progress))
}
