// Package holders derives holder concentration statistics and the risk
// checks built on them.
package holders

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"

	"go.uber.org/zap"

	"dust-sweeper/internal/cache"
	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/logger"
	"dust-sweeper/internal/observability"
)

// Default configuration values.
const (
	DefaultHolderLimit            = 100
	DefaultTopN                   = 10
	DefaultConcentrationThreshold = 80.0
	DefaultCacheTTL               = time.Hour
	DefaultSourceTimeout          = 5 * time.Second
)

const cacheKeyPrefix = "holders:"

// Config holds analyzer settings.
type Config struct {
	HolderLimit            int
	ConcentrationThreshold float64 // percent
	CacheTTL               time.Duration
	SourceTimeout          time.Duration
}

// DefaultConfig returns default analyzer settings.
func DefaultConfig() Config {
	return Config{
		HolderLimit:            DefaultHolderLimit,
		ConcentrationThreshold: DefaultConcentrationThreshold,
		CacheTTL:               DefaultCacheTTL,
		SourceTimeout:          DefaultSourceTimeout,
	}
}

// Analyzer fetches holders from a primary source with a secondary fallback.
type Analyzer struct {
	primary   Source
	secondary Source
	cache     cache.Cache
	config    Config
	logger    *logger.Logger
}

// Options for creating Analyzer.
type Options struct {
	Primary   Source
	Secondary Source      // optional
	Cache     cache.Cache // optional
	Config    *Config
	Logger    *logger.Logger
}

// NewAnalyzer creates a holder analyzer.
func NewAnalyzer(opts Options) *Analyzer {
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	return &Analyzer{
		primary:   opts.Primary,
		secondary: opts.Secondary,
		cache:     opts.Cache,
		config:    cfg,
		logger:    logger.OrNop(opts.Logger).WithComponent("holder-analyzer"),
	}
}

// AnalyzeHolderDistribution returns the holder distribution of token.
// When no source answers, the result has HolderCount = 0 (unknown).
// An error is returned only for invalid input.
func (a *Analyzer) AnalyzeHolderDistribution(ctx context.Context, token domain.TokenRef) (*domain.HolderDistribution, error) {
	if err := token.Validate(); err != nil {
		return nil, err
	}

	key := cacheKeyPrefix + token.Key()
	if a.cache != nil {
		var cached domain.HolderDistribution
		ok, err := cache.GetJSON(ctx, a.cache, key, &cached)
		if err != nil {
			a.logger.Warn("holder cache read failed", zap.String("token", token.Key()), zap.Error(err))
		}
		observability.RecordCacheLookup("holders", ok)
		if ok {
			return &cached, nil
		}
	}

	var dist *domain.HolderDistribution
	for _, src := range []Source{a.primary, a.secondary} {
		if src == nil {
			continue
		}
		snap, err := a.fetch(ctx, src, token)
		if err != nil {
			a.logger.Warn("holder source failed",
				zap.String("source", src.Name()),
				zap.String("token", token.Key()),
				zap.Error(err))
			continue
		}
		if len(snap.Holders) == 0 {
			continue
		}
		dist = Distribution(snap, a.config.ConcentrationThreshold)
		dist.Source = src.Name()
		break
	}

	if dist == nil {
		return &domain.HolderDistribution{TopHolders: []domain.HolderRecord{}}, nil
	}

	if a.cache != nil {
		if err := cache.SetJSON(ctx, a.cache, key, dist, a.config.CacheTTL); err != nil {
			a.logger.Warn("holder cache write failed", zap.String("token", token.Key()), zap.Error(err))
		}
	}
	return dist, nil
}

func (a *Analyzer) fetch(ctx context.Context, src Source, token domain.TokenRef) (*domain.HolderSnapshot, error) {
	sctx, cancel := context.WithTimeout(ctx, a.config.SourceTimeout)
	defer cancel()

	start := time.Now()
	snap, err := src.Holders(sctx, token, a.config.HolderLimit)
	observability.RecordSourceCall("holders", src.Name(), time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("source returned no snapshot")
	}
	return snap, nil
}

// Distribution derives concentration statistics from a snapshot.
// Top-10 share uses the source's percentages when every top holder has one,
// otherwise raw balances over total supply (or the sum of fetched balances),
// rounded to basis points with integer arithmetic.
func Distribution(snap *domain.HolderSnapshot, concentrationThreshold float64) *domain.HolderDistribution {
	total := new(big.Int)
	if snap.TotalSupply != nil && snap.TotalSupply.Sign() > 0 {
		total.Set(snap.TotalSupply)
	} else {
		for _, h := range snap.Holders {
			if h.Balance != nil {
				total.Add(total, h.Balance)
			}
		}
	}

	records := make([]domain.HolderRecord, 0, len(snap.Holders))
	allSupplied := true
	for _, h := range snap.Holders {
		rec := domain.HolderRecord{Address: h.Address, Balance: new(big.Int)}
		if h.Balance != nil {
			rec.Balance.Set(h.Balance)
		}
		if h.Percentage != nil {
			p := *h.Percentage
			rec.Percentage = &p
		} else {
			allSupplied = false
			p := basisPoints(rec.Balance, total).pct()
			rec.Percentage = &p
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		pi, pj := *records[i].Percentage, *records[j].Percentage
		if pi != pj {
			return pi > pj
		}
		return records[i].Balance.Cmp(records[j].Balance) > 0
	})

	top := records
	if len(top) > DefaultTopN {
		top = top[:DefaultTopN]
	}

	var top10 float64
	if allSupplied {
		for _, h := range top {
			top10 += *h.Percentage
		}
		top10 = math.Round(top10*100) / 100
	} else {
		topBalance := new(big.Int)
		for _, h := range top {
			topBalance.Add(topBalance, h.Balance)
		}
		top10 = basisPoints(topBalance, total).pct()
	}
	if top10 > 100 {
		top10 = 100
	}

	count := snap.HolderCount
	if count < len(snap.Holders) {
		count = len(snap.Holders)
	}

	return &domain.HolderDistribution{
		Top10Percentage: top10,
		HolderCount:     count,
		TopHolders:      top,
		IsConcentrated:  top10 > concentrationThreshold,
	}
}

type bps int64

func (b bps) pct() float64 { return float64(b) / 100 }

// basisPoints returns round(part * 10000 / total), half up. Zero total gives 0.
func basisPoints(part, total *big.Int) bps {
	if total.Sign() == 0 {
		return 0
	}
	n := new(big.Int).Mul(part, big.NewInt(10000))
	n.Add(n, new(big.Int).Rsh(total, 1))
	n.Quo(n, total)
	return bps(n.Int64())
}
