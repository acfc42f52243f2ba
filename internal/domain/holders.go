package domain

import "math/big"

// HolderRecord is one token holder as reported by a holder source.
type HolderRecord struct {
	Address    string   `json:"address"`
	Balance    *big.Int `json:"balance"`              // raw units
	Percentage *float64 `json:"percentage,omitempty"` // 0-100, nil if the source does not supply it
}

// HolderSnapshot is the raw answer of a holder source.
type HolderSnapshot struct {
	Holders []HolderRecord
	// HolderCount is the total holder count if the source knows it, 0 otherwise.
	HolderCount int
	// TotalSupply in raw units, nil if unknown.
	TotalSupply *big.Int
}

// HolderDistribution is the derived concentration summary of a token.
// TopHolders has at most 10 entries, sorted by percentage then balance, descending.
type HolderDistribution struct {
	Top10Percentage float64        `json:"top10Percentage"`
	HolderCount     int            `json:"holderCount"` // 0 means unknown
	TopHolders      []HolderRecord `json:"topHolders"`
	IsConcentrated  bool           `json:"isConcentrated"`
	Source          string         `json:"source,omitempty"`
}

// WhaleRisk classifies holder concentration risk.
type WhaleRisk string

const (
	WhaleRiskLow    WhaleRisk = "low"
	WhaleRiskMedium WhaleRisk = "medium"
	WhaleRiskHigh   WhaleRisk = "high"
)
