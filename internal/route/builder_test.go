package route

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dust-sweeper/internal/decision"
	"dust-sweeper/internal/domain"
)

const wallet = "0xABCDEF0000000000000000000000000000000001"

type fakeGate struct {
	prices   map[string]decimal.Decimal
	blocked  map[string]bool
	approval map[string]bool
}

func (g *fakeGate) EvaluateTokens(_ context.Context, candidates []decision.Candidate) ([]*decision.TokenEvaluation, error) {
	out := make([]*decision.TokenEvaluation, len(candidates))
	for i, c := range candidates {
		key := c.Token.Key()
		vp := &domain.ValidatedPrice{Price: g.prices[key], Confidence: domain.ConfidenceTrusted, SourceCount: 2}
		d := domain.SweepDecision{CanSweep: true, Reasons: []string{}}
		if g.blocked[key] {
			vp.Confidence = domain.ConfidenceUntrusted
			d.CanSweep = false
			d.Reasons = append(d.Reasons, "price untrusted")
		}
		if g.approval[key] {
			d.RequiresApproval = true
			d.Reasons = append(d.Reasons, "holder distribution unknown")
		}
		out[i] = &decision.TokenEvaluation{Token: c.Token, Amount: c.Amount, Price: vp, Decision: d}
	}
	return out, nil
}

type fakeOracle struct {
	vp  *domain.ValidatedPrice
	err error
}

func (o *fakeOracle) GetValidatedPrice(context.Context, domain.TokenRef) (*domain.ValidatedPrice, error) {
	return o.vp, o.err
}

func evmToken(chain domain.Chain, digit string, decimals int) domain.TokenRef {
	return domain.TokenRef{Chain: chain, Address: "0x" + strings.Repeat(digit, 40), Decimals: decimals}
}

func stable(chain domain.Chain) domain.TokenRef {
	info := chain.Info()
	return domain.TokenRef{Chain: chain, Address: info.StableAddress, Symbol: info.StableSymbol, Decimals: info.StableDecimals}
}

func units(n int64, decimals int) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

func newTestBuilder(g *fakeGate, opts ...func(*Options)) *Builder {
	o := Options{
		Gate:  g,
		Now:   func() time.Time { return time.UnixMilli(1_700_000_000_000) },
		NewID: func() string { return "q-1" },
	}
	for _, fn := range opts {
		fn(&o)
	}
	return NewBuilder(o)
}

func TestBuildQuote_SameAssetSameChain(t *testing.T) {
	usdc := stable(domain.ChainBase)
	fork := evmToken(domain.ChainBase, "d", 18)
	g := &fakeGate{
		prices:  map[string]decimal.Decimal{usdc.Key(): decimal.NewFromInt(1)},
		blocked: map[string]bool{fork.Key(): true},
	}
	b := newTestBuilder(g)

	q, err := b.BuildQuote(context.Background(), Request{
		Wallet: wallet,
		Tokens: []TokenAmount{
			{Token: usdc, Amount: units(5, 6)},
			{Token: fork, Amount: units(1, 18)},
		},
		Destination: domain.Destination{Chain: domain.ChainBase, Token: "usdc"},
	})
	require.NoError(t, err)

	require.Len(t, q.SourceTokens, 2)
	assert.True(t, q.SourceTokens[0].CanSweep)
	assert.False(t, q.SourceTokens[1].CanSweep)
	assert.Empty(t, q.Route.Steps)
	assert.True(t, q.Summary.TotalInputValueUsd.Equal(decimal.RequireFromString("5.00")))
	assert.Equal(t, strings.ToLower(wallet), q.WalletAddress)
	assert.Equal(t, usdc.Address, q.Destination.Token)
	assert.Equal(t, 6, q.Destination.Decimals)

	// 5 - 0.5% fee = 4.975 USDC, one chain of gas
	assert.Equal(t, "4975000", q.Summary.EstimatedOutputAmount)
	assert.True(t, q.Summary.EstimatedGasUsd.Equal(decimal.RequireFromString("0.05")))
	assert.True(t, q.Summary.NetValueUsd.Equal(decimal.RequireFromString("4.925")))
	// default 100 bps slippage
	assert.Equal(t, 100, q.SlippageBps)
	assert.Equal(t, "4925250", q.Summary.MinOutputAmount)
}

func TestBuildQuote_RouteOrdering(t *testing.T) {
	a := evmToken(domain.ChainBase, "a", 18)
	bTok := evmToken(domain.ChainArbitrum, "b", 18)
	arbUSDC := stable(domain.ChainArbitrum)
	c := evmToken(domain.ChainEthereum, "c", 18)

	g := &fakeGate{prices: map[string]decimal.Decimal{
		a.Key():       decimal.NewFromInt(1),
		bTok.Key():    decimal.NewFromInt(2),
		arbUSDC.Key(): decimal.NewFromInt(1),
		c.Key():       decimal.NewFromInt(3),
	}}
	b := newTestBuilder(g)

	q, err := b.BuildQuote(context.Background(), Request{
		Wallet: wallet,
		Tokens: []TokenAmount{
			{Token: bTok, Amount: units(1, 18)},
			{Token: a, Amount: units(2, 18)},
			{Token: arbUSDC, Amount: units(1, 6)},
			{Token: c, Amount: units(1, 18)},
		},
		Destination: domain.Destination{Chain: domain.ChainBase, Token: "USDC"},
		SlippageBps: 50,
	})
	require.NoError(t, err)

	type shape struct {
		typ   domain.StepType
		chain domain.Chain
	}
	var got []shape
	for _, s := range q.Route.Steps {
		got = append(got, shape{s.Type, s.Chain})
	}
	assert.Equal(t, []shape{
		{domain.StepSwap, domain.ChainBase},
		{domain.StepSwap, domain.ChainEthereum},
		{domain.StepBridge, domain.ChainEthereum},
		{domain.StepSwap, domain.ChainArbitrum},
		{domain.StepBridge, domain.ChainArbitrum},
	}, got)

	steps := q.Route.Steps
	// base: 2 A at $1 -> 2 USDC
	assert.Equal(t, "2000000", steps[0].AmountOut)
	assert.Equal(t, stable(domain.ChainBase).Address, steps[0].TokenOut)
	// ethereum: 1 C at $3 -> 3 USDC bridged to base
	assert.Equal(t, "3000000", steps[1].AmountOut)
	assert.Equal(t, "3000000", steps[2].AmountIn)
	assert.Equal(t, stable(domain.ChainEthereum).Address, steps[2].TokenIn)
	assert.Equal(t, stable(domain.ChainBase).Address, steps[2].TokenOut)
	// arbitrum: 1 B at $2 swapped, USDC carried as is, bridged together
	assert.Equal(t, "2000000", steps[3].AmountOut)
	assert.Equal(t, "3000000", steps[4].AmountIn)
	assert.Equal(t, "3000000", steps[4].AmountOut)

	assert.True(t, q.Summary.TotalInputValueUsd.Equal(decimal.NewFromInt(8)))
	assert.True(t, q.Summary.EstimatedGasUsd.Equal(decimal.RequireFromString("0.15")))
	assert.Equal(t, 50, q.SlippageBps)
	assert.False(t, q.RequiresApproval)
}

func TestBuildQuote_DepositIsLast(t *testing.T) {
	a := evmToken(domain.ChainOptimism, "a", 18)
	bTok := evmToken(domain.ChainArbitrum, "b", 18)
	g := &fakeGate{
		prices: map[string]decimal.Decimal{
			a.Key():    decimal.NewFromInt(1),
			bTok.Key(): decimal.NewFromInt(1),
		},
		approval: map[string]bool{bTok.Key(): true},
	}
	b := newTestBuilder(g)

	vault := "0x" + strings.Repeat("9", 40)
	q, err := b.BuildQuote(context.Background(), Request{
		Wallet: wallet,
		Tokens: []TokenAmount{
			{Token: a, Amount: units(1, 18)},
			{Token: bTok, Amount: units(1, 18)},
		},
		Destination: domain.Destination{Chain: domain.ChainBase, Token: "usdc", Protocol: "aave", Vault: vault},
	})
	require.NoError(t, err)

	steps := q.Route.Steps
	require.Len(t, steps, 5)
	last := steps[len(steps)-1]
	assert.Equal(t, domain.StepDeposit, last.Type)
	assert.Equal(t, "aave", last.Protocol)
	assert.Equal(t, vault, last.TokenOut)
	assert.Equal(t, "2000000", last.AmountIn)
	for _, s := range steps[:len(steps)-1] {
		assert.NotEqual(t, domain.StepDeposit, s.Type)
	}
	assert.True(t, q.RequiresApproval)
}

func TestBuildQuote_NothingToSweep(t *testing.T) {
	fork := evmToken(domain.ChainBase, "d", 18)
	g := &fakeGate{blocked: map[string]bool{fork.Key(): true}}
	b := newTestBuilder(g)

	q, err := b.BuildQuote(context.Background(), Request{
		Wallet:      wallet,
		Tokens:      []TokenAmount{{Token: fork, Amount: units(1, 18)}},
		Destination: domain.Destination{Chain: domain.ChainBase, Token: "usdc", Protocol: "aave"},
	})
	require.NoError(t, err)

	assert.NotNil(t, q.Route.Steps)
	assert.Empty(t, q.Route.Steps)
	assert.True(t, q.Summary.TotalInputValueUsd.IsZero())
	assert.True(t, q.Summary.EstimatedGasUsd.IsZero())
	assert.True(t, q.Summary.NetValueUsd.IsZero())
	assert.Equal(t, "0", q.Summary.EstimatedOutputAmount)
	assert.Equal(t, "0", q.Summary.MinOutputAmount)
}

func TestBuildQuote_Expiry(t *testing.T) {
	b := newTestBuilder(&fakeGate{})
	q, err := b.BuildQuote(context.Background(), Request{
		Wallet:      wallet,
		Destination: domain.Destination{Chain: domain.ChainBase, Token: "usdc"},
	})
	require.NoError(t, err)

	assert.Equal(t, "q-1", q.ID)
	assert.Equal(t, int64(1_700_000_000_000), q.CreatedAt)
	assert.Equal(t, q.CreatedAt+DefaultTTL.Milliseconds(), q.ExpiresAt)
}

func TestBuildQuote_Slippage(t *testing.T) {
	b := newTestBuilder(&fakeGate{})
	for _, bps := range []int{-1, 1001} {
		_, err := b.BuildQuote(context.Background(), Request{
			Wallet:      wallet,
			Destination: domain.Destination{Chain: domain.ChainBase, Token: "usdc"},
			SlippageBps: bps,
		})
		assert.ErrorIs(t, err, ErrInvalidSlippage, "bps %d", bps)
	}
}

func TestBuildQuote_NonStableDestination(t *testing.T) {
	a := evmToken(domain.ChainBase, "a", 18)
	weth := evmToken(domain.ChainBase, "e", 18)
	g := &fakeGate{prices: map[string]decimal.Decimal{a.Key(): decimal.NewFromInt(10)}}

	t.Run("priced", func(t *testing.T) {
		oracle := &fakeOracle{vp: &domain.ValidatedPrice{Price: decimal.NewFromInt(2000), Confidence: domain.ConfidenceTrusted}}
		b := newTestBuilder(g, func(o *Options) { o.Prices = oracle })

		q, err := b.BuildQuote(context.Background(), Request{
			Wallet:      wallet,
			Tokens:      []TokenAmount{{Token: a, Amount: units(1, 18)}},
			Destination: domain.Destination{Chain: domain.ChainBase, Token: weth.Address, Decimals: 18},
		})
		require.NoError(t, err)
		require.Len(t, q.Route.Steps, 1)
		// $10 at $2000 = 0.005 WETH
		assert.Equal(t, "5000000000000000", q.Route.Steps[0].AmountOut)
		assert.False(t, q.RequiresApproval)
	})

	t.Run("unpriced", func(t *testing.T) {
		oracle := &fakeOracle{err: errors.New("down")}
		b := newTestBuilder(g, func(o *Options) { o.Prices = oracle })

		q, err := b.BuildQuote(context.Background(), Request{
			Wallet:      wallet,
			Tokens:      []TokenAmount{{Token: a, Amount: units(1, 18)}},
			Destination: domain.Destination{Chain: domain.ChainBase, Token: weth.Address, Decimals: 18},
		})
		require.NoError(t, err)
		assert.True(t, q.RequiresApproval)
		assert.Equal(t, "0", q.Summary.EstimatedOutputAmount)
	})
}

func TestResolveDestination(t *testing.T) {
	tests := []struct {
		name    string
		in      domain.Destination
		want    string
		wantErr error
	}{
		{"symbol", domain.Destination{Chain: domain.ChainArbitrum, Token: "usdc"}, stable(domain.ChainArbitrum).Address, nil},
		{"solana symbol", domain.Destination{Chain: domain.ChainSolana, Token: "USDC"}, stable(domain.ChainSolana).Address, nil},
		{"mixed case address", domain.Destination{Chain: domain.ChainBase, Token: "0x" + strings.Repeat("A", 40), Decimals: 18}, "0x" + strings.Repeat("a", 40), nil},
		{"bad chain", domain.Destination{Chain: 0, Token: "usdc"}, "", ErrInvalidDestination},
		{"bad address", domain.Destination{Chain: domain.ChainBase, Token: "nope"}, "", ErrInvalidDestination},
		{"bad vault", domain.Destination{Chain: domain.ChainBase, Token: "usdc", Vault: "nope"}, "", ErrInvalidDestination},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveDestination(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Token)
		})
	}
}

func TestFlatCostEstimator(t *testing.T) {
	e := NewFlatCostEstimator(decimal.Zero, decimal.Zero)
	costs, err := e.Estimate(context.Background(), CostRequest{
		Chains:        []domain.Chain{domain.ChainBase, domain.ChainArbitrum},
		InputValueUSD: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.True(t, costs.GasUSD.Equal(decimal.RequireFromString("0.10")))
	assert.True(t, costs.FeeUSD.Equal(decimal.RequireFromString("0.5")))
}
