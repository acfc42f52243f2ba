package storage

import (
	"context"

	"dust-sweeper/internal/domain"
)

// QuoteStore is the durable side of the quote store.
type QuoteStore interface {
	// Insert adds a quote. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, q *domain.Quote) error

	// GetByID retrieves a quote regardless of expiry. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Quote, error)

	// DeleteExpired removes quotes with expires_at <= before (ms) and returns how many.
	DeleteExpired(ctx context.Context, before int64) (int, error)
}

// AccountUpdate mutates an account in place and returns the ledger entry
// recording the change. Returning a nil entry leaves the account untouched;
// returning an error aborts without writing.
type AccountUpdate func(acct *domain.CreditAccount) (*domain.CreditTransaction, error)

// CreditTotals are aggregates over a wallet's ledger.
type CreditTotals struct {
	Deposited        int64 // sum of deposit amounts
	Spent            int64 // sum of deduction amounts, positive
	Refunded         int64
	Expired          int64 // positive
	TransactionCount int
}

// CreditStore provides access to credit_accounts and credit_transactions.
type CreditStore interface {
	// GetAccount retrieves an account by normalized wallet. Returns ErrNotFound if not exists.
	GetAccount(ctx context.Context, wallet string) (*domain.CreditAccount, error)

	// Update applies fn to the wallet's account under a per-wallet lock or
	// transaction. A missing account is passed in as a zero-balance account.
	// The account write and the entry append happen atomically. An entry
	// carrying a TxHash on a deposit also marks that hash processed; a hash
	// already marked yields ErrDuplicateKey and nothing is written.
	Update(ctx context.Context, wallet string, fn AccountUpdate) (*domain.CreditAccount, error)

	// IsDepositProcessed reports whether txHash has been credited.
	IsDepositProcessed(ctx context.Context, txHash string) (bool, error)

	// Transactions returns a wallet's entries, newest first.
	Transactions(ctx context.Context, wallet string, limit, offset int) ([]*domain.CreditTransaction, error)

	// Totals aggregates a wallet's ledger.
	Totals(ctx context.Context, wallet string) (*CreditTotals, error)

	// ExpiryCandidates returns wallets with balance > 0 and expires_at <= now (ms).
	ExpiryCandidates(ctx context.Context, now int64) ([]string, error)
}

// UsageEventStore provides access to usage_events storage.
type UsageEventStore interface {
	// Insert adds an event. Returns ErrDuplicateKey if event_id exists.
	Insert(ctx context.Context, e *domain.UsageEvent) error

	// GetByWallet retrieves a wallet's events within [start, end] (inclusive), ordered by created_at ASC.
	GetByWallet(ctx context.Context, wallet string, start, end int64) ([]*domain.UsageEvent, error)
}
