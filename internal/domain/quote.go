package domain

import "github.com/shopspring/decimal"

// StepType is the kind of a route step.
type StepType string

const (
	StepSwap    StepType = "swap"
	StepBridge  StepType = "bridge"
	StepDeposit StepType = "deposit"
)

// RouteStep is one economic action. Amounts are raw integer units as decimal strings.
type RouteStep struct {
	Type      StepType `json:"type"`
	Chain     Chain    `json:"chain"`
	Protocol  string   `json:"protocol"`
	TokenIn   string   `json:"tokenIn"`
	TokenOut  string   `json:"tokenOut"`
	AmountIn  string   `json:"amountIn"`
	AmountOut string   `json:"amountOut"`
}

// Route is the ordered step sequence. Order is significant.
type Route struct {
	Steps []RouteStep `json:"steps"`
}

// SourceToken is a candidate dust balance as it appears in a quote.
type SourceToken struct {
	Address          string          `json:"address"`
	Chain            Chain           `json:"chain"`
	Symbol           string          `json:"symbol,omitempty"`
	Decimals         int             `json:"decimals"`
	Amount           string          `json:"amount"` // raw units
	UsdValue         decimal.Decimal `json:"usdValue"`
	CanSweep         bool            `json:"canSweep"`
	RequiresApproval bool            `json:"requiresApproval"`
	Reasons          []string        `json:"reasons,omitempty"`
}

// Destination is where swept value ends up.
type Destination struct {
	Chain    Chain  `json:"chain"`
	Token    string `json:"token"`
	Decimals int    `json:"decimals"`
	Protocol string `json:"protocol,omitempty"`
	Vault    string `json:"vault,omitempty"`
}

// HasDeposit reports whether the destination is a yield protocol or vault.
func (d Destination) HasDeposit() bool {
	return d.Protocol != "" || d.Vault != ""
}

// QuoteSummary carries the route economics.
type QuoteSummary struct {
	TotalInputValueUsd      decimal.Decimal `json:"totalInputValueUsd"`
	EstimatedOutputAmount   string          `json:"estimatedOutputAmount"`
	EstimatedOutputValueUsd decimal.Decimal `json:"estimatedOutputValueUsd"`
	EstimatedGasUsd         decimal.Decimal `json:"estimatedGasUsd"`
	NetValueUsd             decimal.Decimal `json:"netValueUsd"`
	MinOutputAmount         string          `json:"minOutputAmount"`
}

// Quote is an immutable, time-boxed sweep proposal.
// Timestamps are epoch milliseconds.
type Quote struct {
	ID               string        `json:"id"`
	WalletAddress    string        `json:"walletAddress"`
	SourceTokens     []SourceToken `json:"sourceTokens"`
	Destination      Destination   `json:"destination"`
	Route            Route         `json:"route"`
	Summary          QuoteSummary  `json:"summary"`
	SlippageBps      int           `json:"slippageBps"`
	RequiresApproval bool          `json:"requiresApproval"`
	CreatedAt        int64         `json:"createdAt"`
	ExpiresAt        int64         `json:"expiresAt"`
}

// ActiveAt reports whether the quote is active at nowMs (createdAt <= now < expiresAt).
func (q *Quote) ActiveAt(nowMs int64) bool {
	return q.CreatedAt <= nowMs && nowMs < q.ExpiresAt
}
