package decision

import (
	"math/big"
	"time"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/simulation"
)

// Verdict summarizes a SweepDecision for metrics and reports.
type Verdict string

const (
	VerdictAuto     Verdict = "auto"     // sweepable without confirmation
	VerdictApproval Verdict = "approval" // sweepable after user confirmation
	VerdictBlocked  Verdict = "blocked"  // not sweepable
)

// Candidate is one token the wallet wants to sweep.
type Candidate struct {
	Token  domain.TokenRef
	Wallet string
	// Amount in raw units; used as the simulated transfer amount.
	Amount *big.Int
}

// Facts are the raw check results for one token.
type Facts struct {
	Token  domain.TokenRef
	Denied bool

	Price    *domain.ValidatedPrice
	PriceErr error

	Holders    *domain.HolderDistribution
	HoldersErr error

	// TaxChecked is false when transfer tax checking is disabled.
	TaxChecked  bool
	Tax         *simulation.TaxResult
	TaxErr      error
	TaxExceeded bool // HasHiddenTransferFee(Tax)

	// ListChecked and MarketChecked are false when those checks are off.
	ListChecked bool
	ListStatus  domain.ListStatus
	ListErr     error

	MarketChecked bool
	Market        *domain.MarketStats
	MarketErr     error

	EvaluatedAt int64 // unix ms, for token age
}

// Market activity defaults.
const (
	DefaultMinVolume24hUSD = 5_000
	DefaultMinTokenAge     = 7 * 24 * time.Hour
	DefaultMaxDexDeviation = 0.05
)

// MarketThresholds are the approval triggers for market activity.
type MarketThresholds struct {
	MinVolume24hUSD float64
	MinTokenAge     time.Duration
	// MaxDexDeviation is the largest (max-min)/min spread across DEX prices.
	MaxDexDeviation float64
}

// DefaultMarketThresholds returns default market thresholds.
func DefaultMarketThresholds() MarketThresholds {
	return MarketThresholds{
		MinVolume24hUSD: DefaultMinVolume24hUSD,
		MinTokenAge:     DefaultMinTokenAge,
		MaxDexDeviation: DefaultMaxDexDeviation,
	}
}

// CriterionResult represents pass/fail for one safety check.
// Pass=false blocks the sweep; Approval=true asks the user to confirm.
type CriterionResult struct {
	Name      string `json:"name"`
	Threshold string `json:"threshold"`
	Actual    string `json:"actual"`
	Pass      bool   `json:"pass"`
	Approval  bool   `json:"approval"`
	Reason    string `json:"reason,omitempty"`
}

// TokenEvaluation is the SafetyGate result for one token.
type TokenEvaluation struct {
	Token    domain.TokenRef            `json:"token"`
	Amount   *big.Int                   `json:"amount,omitempty"`
	Decision domain.SweepDecision       `json:"decision"`
	Verdict  Verdict                    `json:"verdict"`
	Price    *domain.ValidatedPrice     `json:"price,omitempty"`
	Holders  *domain.HolderDistribution `json:"holders,omitempty"`
	Tax      *simulation.TaxResult      `json:"tax,omitempty"`
	Market   *domain.MarketStats        `json:"market,omitempty"`
	Criteria []CriterionResult          `json:"criteria"`
}
