package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"dust-sweeper/internal/domain"
)

// Deposit verification errors.
var (
	ErrInvalidTxHash = errors.New("invalid transaction hash")
	ErrTxNotFound    = errors.New("transaction not found")
	ErrTxFailed      = errors.New("transaction failed")
	ErrNoDeposit     = errors.New("no deposit to treasury in transaction")
)

// Deposit is a verified stablecoin transfer to the treasury.
type Deposit struct {
	TxHash      string
	Wallet      string // sender
	AmountRaw   *big.Int
	BlockNumber uint64
}

// DepositVerifier confirms deposits from transaction receipts.
type DepositVerifier struct {
	client   RPCClient
	token    string
	treasury string
}

// NewDepositVerifier creates a verifier for transfers of token to treasury.
func NewDepositVerifier(client RPCClient, token, treasury string) *DepositVerifier {
	return &DepositVerifier{
		client:   client,
		token:    domain.NormalizeAddress(token),
		treasury: domain.NormalizeAddress(treasury),
	}
}

// Treasury returns the normalized treasury address.
func (v *DepositVerifier) Treasury() string { return v.treasury }

// Token returns the normalized deposit token address.
func (v *DepositVerifier) Token() string { return v.token }

// Verify fetches the receipt of txHash and returns the deposit it contains.
// Several transfers from the same sender in one transaction are summed.
func (v *DepositVerifier) Verify(ctx context.Context, txHash string) (*Deposit, error) {
	txHash = domain.NormalizeAddress(txHash)
	if raw, err := hexutil.Decode(txHash); err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTxHash, txHash)
	}

	receipt, err := v.client.GetTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	if receipt == nil {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txHash)
	}
	if receipt.Status != 1 {
		return nil, fmt.Errorf("%w: %s", ErrTxFailed, txHash)
	}

	var dep *Deposit
	for _, l := range receipt.Logs {
		t, ok := v.match(l)
		if !ok {
			continue
		}
		if dep == nil {
			dep = &Deposit{
				TxHash:      txHash,
				Wallet:      t.From,
				AmountRaw:   new(big.Int),
				BlockNumber: receipt.BlockNumber,
			}
		}
		if t.From == dep.Wallet {
			dep.AmountRaw.Add(dep.AmountRaw, t.Amount)
		}
	}
	if dep == nil || dep.AmountRaw.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDeposit, txHash)
	}
	return dep, nil
}

// Match reports whether l is a deposit transfer to the treasury.
func (v *DepositVerifier) Match(l Log) (*Transfer, bool) {
	return v.match(l)
}

func (v *DepositVerifier) match(l Log) (*Transfer, bool) {
	if l.Removed || domain.NormalizeAddress(l.Address) != v.token {
		return nil, false
	}
	t, ok := DecodeTransfer(l)
	if !ok || t.To != v.treasury {
		return nil, false
	}
	return t, true
}
