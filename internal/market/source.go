// Package market reads pool activity for a token: volume, pool age and
// per-DEX prices.
package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"dust-sweeper/internal/cache"
	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/logger"
	"dust-sweeper/internal/observability"
	"dust-sweeper/internal/sources"
)

// Default configuration values.
const (
	DefaultCacheTTL      = 5 * time.Minute
	DefaultSourceTimeout = 5 * time.Second
)

const cacheKeyPrefix = "market:"

// Source returns market stats for a token.
type Source interface {
	Name() string
	Stats(ctx context.Context, token domain.TokenRef) (*domain.MarketStats, error)
}

// HTTPSource reads a pair list in the DexScreener shape:
// {"pairs": [{"dexId", "priceUsd", "volume": {"h24"}, "liquidity": {"usd"}, "pairCreatedAt"}]}.
type HTTPSource struct {
	name    string
	fetcher *sources.Fetcher
}

// NewHTTPSource creates an HTTP market source. The URL template may use
// {chain}, {chain_id} and {address}.
func NewHTTPSource(name, urlTemplate string, opts ...sources.FetcherOption) *HTTPSource {
	return &HTTPSource{name: name, fetcher: sources.NewFetcher(urlTemplate, opts...)}
}

// Name implements Source.
func (s *HTTPSource) Name() string { return s.name }

// Stats implements Source.
func (s *HTTPSource) Stats(ctx context.Context, token domain.TokenRef) (*domain.MarketStats, error) {
	body, err := s.fetcher.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	return parsePairs(body)
}

func parsePairs(body []byte) (*domain.MarketStats, error) {
	pairs := gjson.GetBytes(body, "pairs")
	if !pairs.IsArray() {
		return nil, fmt.Errorf("pair list missing")
	}

	stats := &domain.MarketStats{DexPrices: make(map[string]decimal.Decimal)}
	depth := make(map[string]float64)
	for _, p := range pairs.Array() {
		stats.Volume24hUSD += p.Get("volume.h24").Float()

		if created := p.Get("pairCreatedAt").Int(); created > 0 &&
			(stats.PairCreatedAt == 0 || created < stats.PairCreatedAt) {
			stats.PairCreatedAt = created
		}

		dex := p.Get("dexId").String()
		px, err := decimal.NewFromString(strings.TrimSpace(p.Get("priceUsd").String()))
		if dex == "" || err != nil || !px.IsPositive() {
			continue
		}
		liq := p.Get("liquidity.usd").Float()
		if _, seen := stats.DexPrices[dex]; !seen || liq > depth[dex] {
			stats.DexPrices[dex] = px
			depth[dex] = liq
		}
	}
	return stats, nil
}

// Config holds reader settings.
type Config struct {
	CacheTTL      time.Duration
	SourceTimeout time.Duration
}

// Reader caches market stats from one source.
type Reader struct {
	source Source
	cache  cache.Cache
	config Config
	logger *logger.Logger
}

// Options for creating Reader.
type Options struct {
	Source Source
	Cache  cache.Cache // optional
	Config *Config
	Logger *logger.Logger
}

// NewReader creates a market reader.
func NewReader(opts Options) *Reader {
	cfg := Config{CacheTTL: DefaultCacheTTL, SourceTimeout: DefaultSourceTimeout}
	if opts.Config != nil {
		cfg = *opts.Config
	}
	return &Reader{
		source: opts.Source,
		cache:  opts.Cache,
		config: cfg,
		logger: logger.OrNop(opts.Logger).WithComponent("market-reader"),
	}
}

// MarketStats returns stats for token. Source failures are returned so
// the caller can flag the token; they are not cached.
func (r *Reader) MarketStats(ctx context.Context, token domain.TokenRef) (*domain.MarketStats, error) {
	if err := token.Validate(); err != nil {
		return nil, err
	}

	key := cacheKeyPrefix + token.Key()
	if r.cache != nil {
		var cached domain.MarketStats
		ok, err := cache.GetJSON(ctx, r.cache, key, &cached)
		if err != nil {
			r.logger.Warn("market cache read failed", zap.String("token", token.Key()), zap.Error(err))
		}
		observability.RecordCacheLookup("market", ok)
		if ok {
			return &cached, nil
		}
	}

	sctx, cancel := context.WithTimeout(ctx, r.config.SourceTimeout)
	defer cancel()
	stats, err := r.source.Stats(sctx, token)
	if err != nil {
		return nil, fmt.Errorf("market source %s: %w", r.source.Name(), err)
	}

	if r.cache != nil {
		if err := cache.SetJSON(ctx, r.cache, key, stats, r.config.CacheTTL); err != nil {
			r.logger.Warn("market cache write failed", zap.String("token", token.Key()), zap.Error(err))
		}
	}
	return stats, nil
}
