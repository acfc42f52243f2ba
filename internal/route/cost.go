package route

import (
	"context"

	"github.com/shopspring/decimal"

	"dust-sweeper/internal/domain"
)

// Default flat cost assumptions, used until live aggregator quotes are wired.
var (
	DefaultFeeRate        = decimal.RequireFromString("0.005")
	DefaultGasPerChainUSD = decimal.RequireFromString("0.05")
)

// CostRequest describes the route being priced.
type CostRequest struct {
	// Chains are the distinct source chains the route touches.
	Chains        []domain.Chain
	InputValueUSD decimal.Decimal
	Destination   domain.Destination
}

// Costs are the estimated execution costs of a route.
type Costs struct {
	GasUSD decimal.Decimal
	FeeUSD decimal.Decimal
}

// CostEstimator prices a route.
type CostEstimator interface {
	Estimate(ctx context.Context, req CostRequest) (Costs, error)
}

// FlatCostEstimator charges a fixed gas cost per chain and a flat fee rate.
type FlatCostEstimator struct {
	GasPerChainUSD decimal.Decimal
	FeeRate        decimal.Decimal
}

// NewFlatCostEstimator creates a FlatCostEstimator. Zero values take defaults.
func NewFlatCostEstimator(gasPerChainUSD, feeRate decimal.Decimal) *FlatCostEstimator {
	if gasPerChainUSD.IsZero() {
		gasPerChainUSD = DefaultGasPerChainUSD
	}
	if feeRate.IsZero() {
		feeRate = DefaultFeeRate
	}
	return &FlatCostEstimator{GasPerChainUSD: gasPerChainUSD, FeeRate: feeRate}
}

// Estimate implements CostEstimator.
func (e *FlatCostEstimator) Estimate(_ context.Context, req CostRequest) (Costs, error) {
	return Costs{
		GasUSD: e.GasPerChainUSD.Mul(decimal.NewFromInt(int64(len(req.Chains)))),
		FeeUSD: req.InputValueUSD.Mul(e.FeeRate),
	}, nil
}

var _ CostEstimator = (*FlatCostEstimator)(nil)
