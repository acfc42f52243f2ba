// Package price resolves validated USD prices by multi-source consensus.
package price

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dust-sweeper/internal/cache"
	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/logger"
	"dust-sweeper/internal/observability"
)

// Default configuration values.
const (
	DefaultMaxDeviation  = 0.05
	DefaultMinSources    = 2
	DefaultSourceTimeout = 5 * time.Second
	DefaultCacheTTL      = 60 * time.Second
)

const cacheKeyPrefix = "price:"

// Config holds consensus thresholds.
type Config struct {
	// MaxDeviation is the largest relative distance from the median at which
	// a source still counts as agreeing.
	MaxDeviation float64
	// MinSources is how many agreeing sources are needed for TRUSTED.
	MinSources    int
	SourceTimeout time.Duration
	CacheTTL      time.Duration
}

// DefaultConfig returns default consensus thresholds.
func DefaultConfig() Config {
	return Config{
		MaxDeviation:  DefaultMaxDeviation,
		MinSources:    DefaultMinSources,
		SourceTimeout: DefaultSourceTimeout,
		CacheTTL:      DefaultCacheTTL,
	}
}

// Oracle combines price sources into a ValidatedPrice.
type Oracle struct {
	sources []Source
	cache   cache.Cache
	config  Config
	now     func() time.Time
	logger  *logger.Logger
}

// Options for creating Oracle.
type Options struct {
	Sources []Source
	Cache   cache.Cache // optional
	Config  *Config     // optional, DefaultConfig if nil
	Now     func() time.Time
	Logger  *logger.Logger
}

// NewOracle creates a price oracle.
func NewOracle(opts Options) *Oracle {
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Oracle{
		sources: opts.Sources,
		cache:   opts.Cache,
		config:  cfg,
		now:     now,
		logger:  logger.OrNop(opts.Logger).WithComponent("price-oracle"),
	}
}

// GetValidatedPrice returns the consensus price for token.
// An error is returned only for invalid input; total source failure yields
// UNTRUSTED with a zero price.
func (o *Oracle) GetValidatedPrice(ctx context.Context, token domain.TokenRef) (*domain.ValidatedPrice, error) {
	if err := token.Validate(); err != nil {
		return nil, err
	}

	key := cacheKeyPrefix + token.Key()
	if o.cache != nil {
		var cached domain.ValidatedPrice
		ok, err := cache.GetJSON(ctx, o.cache, key, &cached)
		if err != nil {
			o.logger.Warn("price cache read failed", zap.String("token", token.Key()), zap.Error(err))
		}
		observability.RecordCacheLookup("price", ok)
		if ok {
			return &cached, nil
		}
	}

	quotes := o.collect(ctx, token)
	vp := consensus(quotes, o.config, o.isVerified)
	vp.ComputedAt = o.now().UnixMilli()
	observability.RecordPriceConfidence(string(vp.Confidence))

	// Failed lookups are not cached so the next request re-fetches.
	if o.cache != nil && vp.Confidence != domain.ConfidenceUntrusted {
		if err := cache.SetJSON(ctx, o.cache, key, vp, o.config.CacheTTL); err != nil {
			o.logger.Warn("price cache write failed", zap.String("token", token.Key()), zap.Error(err))
		}
	}

	return vp, nil
}

// collect queries all sources concurrently, each bounded by SourceTimeout.
// Failed, timed out and non-positive answers are dropped.
func (o *Oracle) collect(ctx context.Context, token domain.TokenRef) []domain.PriceQuote {
	results := make([]*domain.PriceQuote, len(o.sources))

	var g errgroup.Group
	for i, src := range o.sources {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, o.config.SourceTimeout)
			defer cancel()

			start := time.Now()
			p, err := src.Price(sctx, token)
			observability.RecordSourceCall("price", src.Name(), time.Since(start).Seconds(), err)
			if err != nil {
				o.logger.Debug("price source failed",
					zap.String("source", src.Name()),
					zap.String("token", token.Key()),
					zap.Error(err))
				return nil
			}
			if !p.IsPositive() {
				return nil
			}
			results[i] = &domain.PriceQuote{Price: p, Source: src.Name()}
			return nil
		})
	}
	_ = g.Wait()

	quotes := make([]domain.PriceQuote, 0, len(results))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}
	return quotes
}

func (o *Oracle) isVerified(name string) bool {
	for _, s := range o.sources {
		if s.Name() == name {
			return s.Verified()
		}
	}
	return false
}

// consensus derives a ValidatedPrice from source quotes.
//
//	no quotes                                  -> UNTRUSTED, price 0
//	>= MinSources agree, no outliers           -> TRUSTED
//	>= MinSources agree, some outliers         -> CAUTION
//	fewer agree but corroborated (>= 2 agree
//	or a verified source among them)           -> CAUTION
//	otherwise (lone unverified, no agreement)  -> UNTRUSTED
//
// The price is the median of the agreeing quotes, or of all quotes when none agree.
func consensus(quotes []domain.PriceQuote, cfg Config, verified func(string) bool) *domain.ValidatedPrice {
	if len(quotes) == 0 {
		return &domain.ValidatedPrice{
			Price:      decimal.Zero,
			Confidence: domain.ConfidenceUntrusted,
		}
	}

	all := make([]decimal.Decimal, len(quotes))
	for i, q := range quotes {
		all[i] = q.Price
	}
	mid := median(all)
	maxDev := decimal.NewFromFloat(cfg.MaxDeviation)

	var agreeing []domain.PriceQuote
	for _, q := range quotes {
		if q.Price.Sub(mid).Abs().Div(mid).LessThanOrEqual(maxDev) {
			agreeing = append(agreeing, q)
		}
	}

	names := make([]string, 0, len(agreeing))
	anyVerified := false
	prices := make([]decimal.Decimal, 0, len(agreeing))
	for _, q := range agreeing {
		names = append(names, q.Source)
		prices = append(prices, q.Price)
		if verified(q.Source) {
			anyVerified = true
		}
	}
	if len(names) == 0 {
		for _, q := range quotes {
			names = append(names, q.Source)
		}
	}
	sort.Strings(names)

	vp := &domain.ValidatedPrice{
		SourceCount: len(quotes),
		Sources:     names,
	}

	switch {
	case len(agreeing) >= cfg.MinSources && len(agreeing) == len(quotes):
		vp.Confidence = domain.ConfidenceTrusted
	case len(agreeing) >= cfg.MinSources:
		vp.Confidence = domain.ConfidenceCaution
	case len(agreeing) >= 2 || anyVerified:
		vp.Confidence = domain.ConfidenceCaution
	default:
		vp.Confidence = domain.ConfidenceUntrusted
	}

	if len(prices) > 0 {
		vp.Price = median(prices)
	} else {
		vp.Price = mid
	}
	return vp
}

// median returns the median; the mean of the middle pair for even counts.
func median(values []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
}
