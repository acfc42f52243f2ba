package domain

import "github.com/shopspring/decimal"

// MarketStats is trading activity for a token aggregated across its pools.
type MarketStats struct {
	Volume24hUSD float64 `json:"volume24hUsd"`
	// PairCreatedAt is the creation time of the token's oldest pool in unix
	// ms; 0 when unknown.
	PairCreatedAt int64 `json:"pairCreatedAt"`
	// DexPrices holds one USD price per DEX, from its deepest pool.
	DexPrices map[string]decimal.Decimal `json:"dexPrices"`
}

// ListStatus classifies a token against curated token lists.
type ListStatus string

const (
	ListAllowed ListStatus = "ALLOWED"
	ListGray    ListStatus = "GRAYLIST"
	ListUnknown ListStatus = "UNKNOWN"
)
