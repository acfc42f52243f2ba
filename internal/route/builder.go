// Package route turns safety-checked dust balances into a priced, ordered
// swap, bridge and deposit route wrapped in a time-boxed quote.
package route

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dust-sweeper/internal/decision"
	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/logger"
	"dust-sweeper/internal/observability"
)

// Default quote settings.
const (
	DefaultSlippageBps    = 100
	MaxSlippageBps        = 1000
	DefaultTTL            = 5 * time.Minute
	DefaultSwapProtocol   = "aggregator"
	DefaultBridgeProtocol = "across"
)

var (
	// ErrInvalidSlippage is returned for slippage outside 1..MaxSlippageBps.
	ErrInvalidSlippage = errors.New("slippage must be between 1 and 1000 bps")

	// ErrInvalidDestination is returned for an unusable destination.
	ErrInvalidDestination = errors.New("invalid destination")
)

// SafetyGate evaluates candidate tokens.
type SafetyGate interface {
	EvaluateTokens(ctx context.Context, candidates []decision.Candidate) ([]*decision.TokenEvaluation, error)
}

// PriceOracle prices the destination token when it is not the chain stable.
type PriceOracle interface {
	GetValidatedPrice(ctx context.Context, token domain.TokenRef) (*domain.ValidatedPrice, error)
}

// Config holds quote settings.
type Config struct {
	TTL                time.Duration
	DefaultSlippageBps int
	SwapProtocol       string
	BridgeProtocol     string
}

// DefaultConfig returns default quote settings.
func DefaultConfig() Config {
	return Config{
		TTL:                DefaultTTL,
		DefaultSlippageBps: DefaultSlippageBps,
		SwapProtocol:       DefaultSwapProtocol,
		BridgeProtocol:     DefaultBridgeProtocol,
	}
}

// TokenAmount is a dust balance offered for sweeping.
type TokenAmount struct {
	Token  domain.TokenRef
	Amount *big.Int // raw units
}

// Request is the input of BuildQuote.
type Request struct {
	Wallet      string
	Tokens      []TokenAmount
	Destination domain.Destination
	// SlippageBps of 0 takes the configured default.
	SlippageBps int
}

// Builder is the RouteBuilder.
type Builder struct {
	gate   SafetyGate
	prices PriceOracle
	costs  CostEstimator
	config Config
	now    func() time.Time
	newID  func() string
	logger *logger.Logger
}

// Options for creating Builder.
type Options struct {
	Gate   SafetyGate
	Prices PriceOracle   // optional, needed for non-stable destinations
	Costs  CostEstimator // optional, FlatCostEstimator defaults if nil
	Config *Config
	Now    func() time.Time
	NewID  func() string
	Logger *logger.Logger
}

// NewBuilder creates a RouteBuilder.
func NewBuilder(opts Options) *Builder {
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	costs := opts.Costs
	if costs == nil {
		costs = NewFlatCostEstimator(DefaultGasPerChainUSD, DefaultFeeRate)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Builder{
		gate:   opts.Gate,
		prices: opts.Prices,
		costs:  costs,
		config: cfg,
		now:    now,
		newID:  newID,
		logger: logger.OrNop(opts.Logger).WithComponent("route-builder"),
	}
}

// sweepable is a safety-approved token with its USD value.
type sweepable struct {
	token  domain.TokenRef
	amount *big.Int
	usd    decimal.Decimal
}

// BuildQuote evaluates the offered tokens and builds a quote over the
// sweepable ones. Zero sweepable tokens yield an empty route with zero
// economics, not an error.
func (b *Builder) BuildQuote(ctx context.Context, req Request) (*domain.Quote, error) {
	slippage := req.SlippageBps
	if slippage == 0 {
		slippage = b.config.DefaultSlippageBps
	}
	if slippage < 1 || slippage > MaxSlippageBps {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlippage, slippage)
	}

	dest, err := ResolveDestination(req.Destination)
	if err != nil {
		return nil, err
	}

	// 1. Partition through the safety gate
	candidates := make([]decision.Candidate, len(req.Tokens))
	for i, t := range req.Tokens {
		candidates[i] = decision.Candidate{Token: t.Token, Wallet: req.Wallet, Amount: t.Amount}
	}
	evals, err := b.gate.EvaluateTokens(ctx, candidates)
	if err != nil {
		return nil, err
	}

	quote := &domain.Quote{
		ID:            b.newID(),
		WalletAddress: domain.NormalizeAddress(req.Wallet),
		SourceTokens:  make([]domain.SourceToken, 0, len(evals)),
		Destination:   dest,
		Route:         domain.Route{Steps: []domain.RouteStep{}},
		SlippageBps:   slippage,
	}

	var picked []sweepable
	for _, ev := range evals {
		amount := ev.Amount
		if amount == nil {
			amount = new(big.Int)
		}
		usd := usdValue(amount, ev.Token.Decimals, ev.Price)
		quote.SourceTokens = append(quote.SourceTokens, domain.SourceToken{
			Address:          domain.NormalizeAddress(ev.Token.Address),
			Chain:            ev.Token.Chain,
			Symbol:           ev.Token.Symbol,
			Decimals:         ev.Token.Decimals,
			Amount:           amount.String(),
			UsdValue:         usd,
			CanSweep:         ev.Decision.CanSweep,
			RequiresApproval: ev.Decision.RequiresApproval,
			Reasons:          ev.Decision.Reasons,
		})
		if !ev.Decision.CanSweep {
			continue
		}
		if ev.Decision.RequiresApproval {
			quote.RequiresApproval = true
		}
		picked = append(picked, sweepable{token: ev.Token, amount: amount, usd: usd})
	}

	destPrice := decimal.Zero
	if len(picked) > 0 {
		destPrice = b.destinationPrice(ctx, dest)
		if !destPrice.IsPositive() {
			quote.RequiresApproval = true
		}
	}

	// 2. Steps per source chain, destination chain first
	chains := groupByChain(picked, dest.Chain)
	destAmount := new(big.Int)
	var total decimal.Decimal
	for _, g := range chains {
		steps, out := b.chainSteps(g, dest, destPrice)
		quote.Route.Steps = append(quote.Route.Steps, steps...)
		destAmount.Add(destAmount, out)
		for _, s := range g.tokens {
			total = total.Add(s.usd)
		}
	}

	// 3. Terminal deposit
	if dest.HasDeposit() && len(picked) > 0 {
		protocol := dest.Protocol
		if protocol == "" {
			protocol = "vault"
		}
		tokenOut := dest.Token
		if dest.Vault != "" {
			tokenOut = dest.Vault
		}
		quote.Route.Steps = append(quote.Route.Steps, domain.RouteStep{
			Type:      domain.StepDeposit,
			Chain:     dest.Chain,
			Protocol:  protocol,
			TokenIn:   dest.Token,
			TokenOut:  tokenOut,
			AmountIn:  destAmount.String(),
			AmountOut: destAmount.String(),
		})
	}

	// 4. Economics
	summary, err := b.summarize(ctx, chains, total, dest, destPrice, slippage)
	if err != nil {
		return nil, fmt.Errorf("estimate costs: %w", err)
	}
	quote.Summary = summary

	created := b.now()
	quote.CreatedAt = created.UnixMilli()
	quote.ExpiresAt = created.Add(b.config.TTL).UnixMilli()

	recordSteps(quote.Route.Steps)
	b.logger.Info("quote built",
		zap.String("quote_id", quote.ID),
		zap.String("wallet", quote.WalletAddress),
		zap.Int("tokens", len(req.Tokens)),
		zap.Int("sweepable", len(picked)),
		zap.Int("steps", len(quote.Route.Steps)),
		zap.Bool("requires_approval", quote.RequiresApproval))

	return quote, nil
}

// chainGroup is the sweepable tokens of one source chain, in input order.
type chainGroup struct {
	chain  domain.Chain
	tokens []sweepable
}

// groupByChain groups tokens by chain. The destination chain comes first,
// the rest follow canonical chain order.
func groupByChain(tokens []sweepable, destChain domain.Chain) []chainGroup {
	byChain := make(map[domain.Chain][]sweepable)
	for _, t := range tokens {
		byChain[t.token.Chain] = append(byChain[t.token.Chain], t)
	}

	order := []domain.Chain{destChain}
	for _, c := range domain.AllChains() {
		if c != destChain {
			order = append(order, c)
		}
	}

	groups := make([]chainGroup, 0, len(byChain))
	for _, c := range order {
		if ts, ok := byChain[c]; ok {
			groups = append(groups, chainGroup{chain: c, tokens: ts})
		}
	}
	return groups
}

// chainSteps emits one swap per token that is not already the chain's target
// asset, then a bridge when the chain is not the destination chain. It returns
// the steps and the estimated destination token amount the chain delivers.
func (b *Builder) chainSteps(g chainGroup, dest domain.Destination, destPrice decimal.Decimal) ([]domain.RouteStep, *big.Int) {
	onDest := g.chain == dest.Chain
	info := g.chain.Info()

	target, targetDecimals, targetPrice := info.StableAddress, info.StableDecimals, decimal.NewFromInt(1)
	if onDest {
		target, targetDecimals, targetPrice = dest.Token, dest.Decimals, destPrice
	}

	var steps []domain.RouteStep
	chainOut := new(big.Int)
	var chainUSD decimal.Decimal
	for _, t := range g.tokens {
		chainUSD = chainUSD.Add(t.usd)
		if domain.SameToken(t.token.Address, target) {
			chainOut.Add(chainOut, t.amount)
			continue
		}
		out := rawAmount(t.usd, targetPrice, targetDecimals)
		chainOut.Add(chainOut, out)
		steps = append(steps, domain.RouteStep{
			Type:      domain.StepSwap,
			Chain:     g.chain,
			Protocol:  b.config.SwapProtocol,
			TokenIn:   domain.NormalizeAddress(t.token.Address),
			TokenOut:  target,
			AmountIn:  t.amount.String(),
			AmountOut: out.String(),
		})
	}

	if onDest {
		return steps, chainOut
	}

	out := rawAmount(chainUSD, destPrice, dest.Decimals)
	steps = append(steps, domain.RouteStep{
		Type:      domain.StepBridge,
		Chain:     g.chain,
		Protocol:  b.config.BridgeProtocol,
		TokenIn:   info.StableAddress,
		TokenOut:  dest.Token,
		AmountIn:  chainOut.String(),
		AmountOut: out.String(),
	})
	return steps, out
}

func (b *Builder) summarize(ctx context.Context, groups []chainGroup, total decimal.Decimal, dest domain.Destination, destPrice decimal.Decimal, slippageBps int) (domain.QuoteSummary, error) {
	if len(groups) == 0 {
		return domain.QuoteSummary{
			TotalInputValueUsd:      decimal.Zero,
			EstimatedOutputAmount:   "0",
			EstimatedOutputValueUsd: decimal.Zero,
			EstimatedGasUsd:         decimal.Zero,
			NetValueUsd:             decimal.Zero,
			MinOutputAmount:         "0",
		}, nil
	}

	chains := make([]domain.Chain, len(groups))
	for i, g := range groups {
		chains[i] = g.chain
	}
	costs, err := b.costs.Estimate(ctx, CostRequest{Chains: chains, InputValueUSD: total, Destination: dest})
	if err != nil {
		return domain.QuoteSummary{}, err
	}

	outputUSD := total.Sub(costs.FeeUSD)
	outAmount := rawAmount(outputUSD, destPrice, dest.Decimals)
	minOut := new(big.Int).Mul(outAmount, big.NewInt(int64(10000-slippageBps)))
	minOut.Quo(minOut, big.NewInt(10000))

	return domain.QuoteSummary{
		TotalInputValueUsd:      total,
		EstimatedOutputAmount:   outAmount.String(),
		EstimatedOutputValueUsd: outputUSD,
		EstimatedGasUsd:         costs.GasUSD,
		NetValueUsd:             outputUSD.Sub(costs.GasUSD),
		MinOutputAmount:         minOut.String(),
	}, nil
}

// destinationPrice returns 1 for the chain stable, else the oracle price.
// Zero means unknown.
func (b *Builder) destinationPrice(ctx context.Context, dest domain.Destination) decimal.Decimal {
	if domain.SameToken(dest.Token, dest.Chain.Info().StableAddress) {
		return decimal.NewFromInt(1)
	}
	if b.prices == nil {
		return decimal.Zero
	}
	vp, err := b.prices.GetValidatedPrice(ctx, domain.TokenRef{Chain: dest.Chain, Address: dest.Token, Decimals: dest.Decimals})
	if err != nil || vp.Confidence == domain.ConfidenceUntrusted {
		b.logger.Warn("destination price unavailable", zap.String("token", domain.TokenKey(dest.Chain, dest.Token)), zap.Error(err))
		return decimal.Zero
	}
	return vp.Price
}

// ResolveDestination validates a destination and normalizes its token.
// The token may be an address or the chain's stable symbol (e.g. "usdc").
func ResolveDestination(d domain.Destination) (domain.Destination, error) {
	if !d.Chain.Valid() {
		return d, fmt.Errorf("%w: %w", ErrInvalidDestination, domain.ErrUnsupportedChain)
	}
	info := d.Chain.Info()
	if strings.EqualFold(strings.TrimSpace(d.Token), info.StableSymbol) {
		d.Token = info.StableAddress
	}
	if err := domain.ValidateAddress(d.Chain, d.Token); err != nil {
		return d, fmt.Errorf("%w: %w", ErrInvalidDestination, err)
	}
	d.Token = domain.NormalizeAddress(d.Token)
	if domain.SameToken(d.Token, info.StableAddress) {
		d.Decimals = info.StableDecimals
	}
	if d.Decimals < 0 || d.Decimals > 36 {
		return d, fmt.Errorf("%w: decimals %d", ErrInvalidDestination, d.Decimals)
	}
	if d.Vault != "" {
		if err := domain.ValidateAddress(d.Chain, d.Vault); err != nil {
			return d, fmt.Errorf("%w: vault: %w", ErrInvalidDestination, err)
		}
		d.Vault = domain.NormalizeAddress(d.Vault)
	}
	return d, nil
}

// usdValue is amount / 10^decimals * price. Untrusted or missing prices give 0.
func usdValue(amount *big.Int, decimals int, vp *domain.ValidatedPrice) decimal.Decimal {
	if vp == nil || vp.Confidence == domain.ConfidenceUntrusted || !vp.Price.IsPositive() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, int32(-decimals)).Mul(vp.Price)
}

// rawAmount converts a USD value to raw token units, rounded down.
// A non-positive price gives 0.
func rawAmount(usd, price decimal.Decimal, decimals int) *big.Int {
	if !price.IsPositive() || !usd.IsPositive() {
		return new(big.Int)
	}
	return usd.Div(price).Shift(int32(decimals)).Floor().BigInt()
}

func recordSteps(steps []domain.RouteStep) {
	counts := map[domain.StepType]int{}
	for _, s := range steps {
		counts[s.Type]++
	}
	for _, t := range []domain.StepType{domain.StepSwap, domain.StepBridge, domain.StepDeposit} {
		observability.RecordRouteSteps(string(t), counts[t])
	}
}
