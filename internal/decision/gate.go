// Package decision composes the price, holder and transfer tax checks into
// a per-token sweep decision.
package decision

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/logger"
	"dust-sweeper/internal/observability"
	"dust-sweeper/internal/simulation"
)

// DefaultConcurrency bounds how many tokens are checked at once.
const DefaultConcurrency = 8

// PriceOracle resolves validated prices.
type PriceOracle interface {
	GetValidatedPrice(ctx context.Context, token domain.TokenRef) (*domain.ValidatedPrice, error)
}

// HolderAnalyzer resolves holder distributions.
type HolderAnalyzer interface {
	AnalyzeHolderDistribution(ctx context.Context, token domain.TokenRef) (*domain.HolderDistribution, error)
}

// TaxChecker simulates transfers for hidden taxes.
type TaxChecker interface {
	SimulateTransferTax(ctx context.Context, sim domain.TransferSimulation) (*simulation.TaxResult, error)
	HasHiddenTransferFee(res *simulation.TaxResult) bool
}

// TokenLists classifies tokens against curated lists.
type TokenLists interface {
	ListStatus(ctx context.Context, token domain.TokenRef) (domain.ListStatus, error)
}

// MarketReader reads pool activity for a token.
type MarketReader interface {
	MarketStats(ctx context.Context, token domain.TokenRef) (*domain.MarketStats, error)
}

// Gate is the SafetyGate.
type Gate struct {
	prices      PriceOracle
	holders     HolderAnalyzer
	tax         TaxChecker
	lists       TokenLists
	market      MarketReader
	evaluator   *Evaluator
	denied      tokenSet
	concurrency int
	now         func() time.Time
	logger      *logger.Logger
}

// GateOptions for creating Gate.
type GateOptions struct {
	Prices  PriceOracle
	Holders HolderAnalyzer
	// Tax is optional; nil disables the transfer tax check.
	Tax          TaxChecker
	MaxHiddenTax float64
	// Lists and Market are optional. Their checks only ever ask for
	// approval; they never block a token.
	Lists  TokenLists
	Market MarketReader
	// MarketThresholds defaults to DefaultMarketThresholds.
	MarketThresholds *MarketThresholds
	// BlockedTokens are "chain:address" keys or bare addresses.
	BlockedTokens []string
	Concurrency   int
	Now           func() time.Time
	Logger        *logger.Logger
}

// NewGate creates a SafetyGate.
func NewGate(opts GateOptions) *Gate {
	maxTax := opts.MaxHiddenTax
	if maxTax <= 0 {
		maxTax = simulation.DefaultMaxHiddenTax
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	thresholds := DefaultMarketThresholds()
	if opts.MarketThresholds != nil {
		thresholds = *opts.MarketThresholds
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{
		prices:      opts.Prices,
		holders:     opts.Holders,
		tax:         opts.Tax,
		lists:       opts.Lists,
		market:      opts.Market,
		evaluator:   &Evaluator{maxHiddenTax: maxTax, market: thresholds},
		denied:      newTokenSet(opts.BlockedTokens),
		concurrency: concurrency,
		now:         now,
		logger:      logger.OrNop(opts.Logger).WithComponent("safety-gate"),
	}
}

// EvaluateTokens checks every candidate concurrently and returns the
// evaluations in input order. Invalid candidates fail the whole call
// before any check runs.
func (g *Gate) EvaluateTokens(ctx context.Context, candidates []Candidate) ([]*TokenEvaluation, error) {
	for i, c := range candidates {
		if err := c.Token.Validate(); err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
	}

	results := make([]*TokenEvaluation, len(candidates))

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for i, c := range candidates {
		eg.Go(func() error {
			results[i] = g.Evaluate(ctx, c)
			return nil
		})
	}
	_ = eg.Wait()

	return results, nil
}

// Evaluate runs the checks for one token. The checks are independent reads
// and run concurrently.
func (g *Gate) Evaluate(ctx context.Context, c Candidate) *TokenEvaluation {
	f := Facts{Token: c.Token, EvaluatedAt: g.now().UnixMilli()}

	if g.denied.contains(c.Token) {
		f.Denied = true
		return g.finish(f, c)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		f.Price, f.PriceErr = g.prices.GetValidatedPrice(ctx, c.Token)
		return nil
	})
	eg.Go(func() error {
		f.Holders, f.HoldersErr = g.holders.AnalyzeHolderDistribution(ctx, c.Token)
		return nil
	})
	if g.tax != nil {
		f.TaxChecked = true
		eg.Go(func() error {
			amount := c.Amount
			if amount == nil || amount.Sign() <= 0 {
				amount = big.NewInt(1)
			}
			f.Tax, f.TaxErr = g.tax.SimulateTransferTax(ctx, domain.TransferSimulation{
				Token:  c.Token,
				From:   c.Wallet,
				Amount: amount,
			})
			if f.TaxErr == nil {
				f.TaxExceeded = g.tax.HasHiddenTransferFee(f.Tax)
			}
			return nil
		})
	}
	if g.lists != nil {
		f.ListChecked = true
		eg.Go(func() error {
			f.ListStatus, f.ListErr = g.lists.ListStatus(ctx, c.Token)
			return nil
		})
	}
	if g.market != nil {
		f.MarketChecked = true
		eg.Go(func() error {
			f.Market, f.MarketErr = g.market.MarketStats(ctx, c.Token)
			return nil
		})
	}
	_ = eg.Wait()

	for name, err := range map[string]error{
		"price":   f.PriceErr,
		"holders": f.HoldersErr,
		"tax":     f.TaxErr,
		"lists":   f.ListErr,
		"market":  f.MarketErr,
	} {
		if err != nil {
			g.logger.Warn("safety check failed",
				zap.String("check", name),
				zap.String("token", c.Token.Key()),
				zap.Error(err))
		}
	}

	return g.finish(f, c)
}

func (g *Gate) finish(f Facts, c Candidate) *TokenEvaluation {
	ev := g.evaluator.Evaluate(f)
	ev.Amount = c.Amount
	observability.RecordSafetyDecision(string(ev.Verdict))
	g.logger.Debug("token evaluated",
		zap.String("token", c.Token.Key()),
		zap.String("verdict", string(ev.Verdict)),
		zap.Strings("reasons", ev.Decision.Reasons))
	return ev
}

// tokenSet matches tokens by "chain:address" key or by bare address.
type tokenSet map[string]struct{}

func newTokenSet(entries []string) tokenSet {
	set := make(tokenSet, len(entries))
	for _, e := range entries {
		set[listKey(e)] = struct{}{}
	}
	return set
}

func (s tokenSet) contains(t domain.TokenRef) bool {
	if len(s) == 0 {
		return false
	}
	if _, ok := s[t.Key()]; ok {
		return true
	}
	_, ok := s[domain.NormalizeAddress(t.Address)]
	return ok
}

// listKey normalizes a configured entry. "base:0xABC" and "0xABC" are accepted.
func listKey(entry string) string {
	for i := 0; i < len(entry); i++ {
		if entry[i] != ':' {
			continue
		}
		if chain, err := domain.ParseChain(entry[:i]); err == nil {
			return domain.TokenKey(chain, entry[i+1:])
		}
		break
	}
	return domain.NormalizeAddress(entry)
}

// StaticLists classifies tokens from configured allow and gray lists. Each
// chain's stable asset is always allowed; a token on both lists is gray.
type StaticLists struct {
	allowed tokenSet
	gray    tokenSet
}

// NewStaticLists creates lists from "chain:address" keys or bare addresses.
func NewStaticLists(allowed, gray []string) *StaticLists {
	return &StaticLists{allowed: newTokenSet(allowed), gray: newTokenSet(gray)}
}

// ListStatus implements TokenLists.
func (l *StaticLists) ListStatus(_ context.Context, t domain.TokenRef) (domain.ListStatus, error) {
	switch {
	case l.gray.contains(t):
		return domain.ListGray, nil
	case l.allowed.contains(t), domain.SameToken(t.Address, t.Chain.Info().StableAddress):
		return domain.ListAllowed, nil
	default:
		return domain.ListUnknown, nil
	}
}

var _ TokenLists = (*StaticLists)(nil)
