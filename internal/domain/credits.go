package domain

// CreditTxType is the kind of ledger entry.
type CreditTxType string

const (
	CreditTxDeposit    CreditTxType = "deposit"
	CreditTxDeduction  CreditTxType = "deduction"
	CreditTxRefund     CreditTxType = "refund"
	CreditTxExpiry     CreditTxType = "expiry"
	CreditTxAdjustment CreditTxType = "adjustment"
)

// CreditAccount is a prepaid balance keyed by normalized wallet address.
type CreditAccount struct {
	WalletAddress string
	BalanceCents  int64
	ExpiresAt     *int64 // ms, nil if never funded
	CreatedAt     int64  // ms
	UpdatedAt     int64  // ms
}

// CreditTransaction is an append-only ledger entry.
// BalanceAfter equals the account balance right after the entry's operation.
type CreditTransaction struct {
	ID            string
	WalletAddress string
	Type          CreditTxType
	AmountCents   int64 // signed
	BalanceAfter  int64
	Endpoint      *string
	TxHash        *string
	Description   *string
	CreatedAt     int64 // ms
}
