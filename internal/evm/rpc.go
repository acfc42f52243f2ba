// Package evm talks to EVM chains over JSON-RPC: receipts, read-only calls
// and log subscriptions.
package evm

import (
	"context"
	"math/big"
)

// RPCClient defines the EVM JSON-RPC calls the service uses.
type RPCClient interface {
	// GetTransactionReceipt returns the receipt of a mined transaction,
	// or nil if the node does not know the hash.
	GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)

	// Call executes a read-only call against the latest block.
	// A revert is returned as *RevertError.
	Call(ctx context.Context, msg CallMsg) ([]byte, error)

	// BlockNumber returns the latest block number.
	BlockNumber(ctx context.Context) (uint64, error)
}

// LogReader reads historical logs.
type LogReader interface {
	// GetLogs returns logs matching filter in [fromBlock, toBlock].
	GetLogs(ctx context.Context, filter LogsFilter, fromBlock, toBlock uint64) ([]Log, error)

	// BlockNumber returns the latest block number.
	BlockNumber(ctx context.Context) (uint64, error)
}

// Receipt is a mined transaction receipt.
type Receipt struct {
	TxHash      string
	From        string
	To          string // empty for contract creation
	Status      uint64 // 1 success, 0 failure
	BlockNumber uint64
	Logs        []Log
}

// Log is an emitted event.
type Log struct {
	Address     string
	Topics      []string
	Data        []byte
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
	Removed     bool // true when dropped by a reorg
}

// CallMsg is an eth_call request.
type CallMsg struct {
	From  string
	To    string
	Data  []byte
	Value *big.Int // optional
}
