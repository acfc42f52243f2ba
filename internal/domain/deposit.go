package domain

// DepositEvent is a claimed stablecoin deposit awaiting verification.
// Wallet and AmountRaw are as reported by the origin and may be empty when
// the origin only knows the transaction hash.
type DepositEvent struct {
	TxHash      string `json:"txHash"`
	Wallet      string `json:"walletAddress,omitempty"`
	AmountRaw   string `json:"amount,omitempty"` // USDC base units, decimal string
	Origin      string `json:"-"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
}
