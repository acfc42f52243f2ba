// Package app wires configuration into the service components.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"dust-sweeper/internal/api"
	"dust-sweeper/internal/cache"
	"dust-sweeper/internal/config"
	"dust-sweeper/internal/credits"
	"dust-sweeper/internal/decision"
	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/evm"
	"dust-sweeper/internal/holders"
	"dust-sweeper/internal/logger"
	"dust-sweeper/internal/market"
	"dust-sweeper/internal/orchestrator"
	"dust-sweeper/internal/price"
	"dust-sweeper/internal/quotestore"
	"dust-sweeper/internal/route"
	"dust-sweeper/internal/simulation"
	"dust-sweeper/internal/sources"
	"dust-sweeper/internal/storage"
	chstore "dust-sweeper/internal/storage/clickhouse"
	"dust-sweeper/internal/storage/memory"
	"dust-sweeper/internal/storage/migrations"
	pgstore "dust-sweeper/internal/storage/postgres"
)

// NewCache returns the shared cache: Redis when enabled, otherwise in-process.
func NewCache(lc fx.Lifecycle, cfg *config.Config, log *logger.Logger) (cache.Cache, error) {
	if !cfg.Redis.Enabled {
		log.Info("Using in-memory cache")
		return cache.NewMemoryCache(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rc, err := cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, "dust:")
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return rc.Close() }})
	log.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
	return rc, nil
}

// Stores groups the durable backends.
type Stores struct {
	Credits storage.CreditStore
	Quotes  storage.QuoteStore
	Usage   storage.UsageEventStore
	// Progress holds deposit log checkpoints.
	Progress storage.DepositProgressStore
}

func NewStores(lc fx.Lifecycle, cfg *config.Config, log *logger.Logger) (*Stores, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s := &Stores{}
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		log.Info("Postgres ready", zap.Strings("applied_migrations", applied))
		lc.Append(fx.Hook{OnStop: func(context.Context) error { pool.Close(); return nil }})
		s.Credits = pgstore.NewCreditStore(pool)
		s.Quotes = pgstore.NewQuoteStore(pool)
		s.Progress = pgstore.NewDepositProgressStore(pool)
	default:
		log.Info("Using in-memory storage")
		s.Credits = memory.NewCreditStore()
		s.Quotes = memory.NewQuoteStore()
		s.Progress = memory.NewDepositProgressStore()
	}

	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return conn.Close() }})
		s.Usage = chstore.NewUsageEventStore(conn)
	} else {
		s.Usage = memory.NewUsageEventStore()
	}
	return s, nil
}

// NewDepositVerifier returns nil when on-chain deposits are disabled.
func NewDepositVerifier(cfg *config.Config) *evm.DepositVerifier {
	if !cfg.EVM.DepositsEnabled {
		return nil
	}
	client := evm.NewHTTPClient(cfg.EVM.DepositRPCURL, evm.WithTimeout(cfg.EVM.RPCTimeout))
	return evm.NewDepositVerifier(client, domain.ChainBase.Info().StableAddress, cfg.Credits.TreasuryAddress)
}

func NewPriceOracle(cfg *config.Config, c cache.Cache, log *logger.Logger) *price.Oracle {
	srcs := make([]price.Source, 0, len(cfg.Safety.PriceSources))
	for _, sc := range cfg.Safety.PriceSources {
		if sc.URL == "" {
			continue
		}
		srcs = append(srcs, price.NewHTTPSource(sc.Name, sc.URL, sc.JSONPath, sc.Verified, sources.WithAPIKey(sc.APIKey)))
	}
	if len(srcs) == 0 {
		log.Warn("No price feeds configured; only stable assets can be priced")
	}
	// The stable asset is priced even when every feed is down.
	if cfg.Safety.StablePeg {
		srcs = append(srcs, price.StablePegSource{})
	}
	return price.NewOracle(price.Options{
		Sources: srcs,
		Cache:   c,
		Config: &price.Config{
			MaxDeviation:  cfg.Safety.PriceDeviation,
			MinSources:    cfg.Safety.MinSources,
			SourceTimeout: cfg.Safety.SourceTimeout,
			CacheTTL:      cfg.Safety.PriceCacheTTL,
		},
		Logger: log,
	})
}

func holderSource(sc config.SourceConfig) holders.Source {
	if sc.URL == "" {
		return nil
	}
	return holders.NewHTTPSource(sc.Name, sc.URL, holders.DefaultLayout(), sources.WithAPIKey(sc.APIKey))
}

func NewHolderAnalyzer(cfg *config.Config, c cache.Cache, log *logger.Logger) *holders.Analyzer {
	return holders.NewAnalyzer(holders.Options{
		Primary:   holderSource(cfg.Safety.HolderPrimary),
		Secondary: holderSource(cfg.Safety.HolderSecondary),
		Cache:     c,
		Config: &holders.Config{
			HolderLimit:            holders.DefaultHolderLimit,
			ConcentrationThreshold: cfg.Safety.ConcentrationThreshold,
			CacheTTL:               cfg.Safety.HolderCacheTTL,
			SourceTimeout:          cfg.Safety.SourceTimeout,
		},
		Logger: log,
	})
}

func NewSimulator(cfg *config.Config, c cache.Cache, log *logger.Logger) (*simulation.Simulator, error) {
	opts := simulation.Options{
		Cache: c,
		Config: &simulation.Config{
			MaxHiddenTax:         cfg.Safety.MaxHiddenTax,
			SwapTolerancePercent: cfg.Safety.SwapTolerancePercent,
			CacheTTL:             cfg.Safety.SimulationCacheTTL,
			Timeout:              cfg.EVM.RPCTimeout,
		},
		Logger: log,
	}
	if cfg.Safety.SimulationURL != "" {
		opts.Remote = simulation.NewHTTPBackend(cfg.Safety.SimulationURL, cfg.Safety.SimulationAPIKey, cfg.EVM.RPCTimeout)
	}
	if len(cfg.EVM.RPCURLs) > 0 {
		clients := make(map[domain.Chain]evm.RPCClient, len(cfg.EVM.RPCURLs))
		for name, url := range cfg.EVM.RPCURLs {
			chain, err := domain.ParseChain(name)
			if err != nil {
				return nil, fmt.Errorf("evm.rpc_urls: %w", err)
			}
			clients[chain] = evm.NewHTTPClient(url, evm.WithTimeout(cfg.EVM.RPCTimeout))
		}
		opts.Local = evm.NewCallSimulator(clients)
	}
	return simulation.NewSimulator(opts), nil
}

func NewGate(cfg *config.Config, prices *price.Oracle, hs *holders.Analyzer, sim *simulation.Simulator, c cache.Cache, log *logger.Logger) *decision.Gate {
	opts := decision.GateOptions{
		Prices:        prices,
		Holders:       hs,
		MaxHiddenTax:  cfg.Safety.MaxHiddenTax,
		BlockedTokens: cfg.Safety.BlockedTokens,
		MarketThresholds: &decision.MarketThresholds{
			MinVolume24hUSD: cfg.Safety.MinVolumeUSD,
			MinTokenAge:     cfg.Safety.MinTokenAge,
			MaxDexDeviation: cfg.Safety.MaxDexDeviation,
		},
		Concurrency: cfg.Safety.Concurrency,
		Logger:      log,
	}
	if cfg.Safety.CheckTransferTax {
		opts.Tax = sim
	}
	if cfg.Safety.ListCheck {
		opts.Lists = decision.NewStaticLists(cfg.Safety.AllowedTokens, cfg.Safety.GraylistedTokens)
	}
	if sc := cfg.Safety.MarketSource; sc.URL != "" {
		opts.Market = market.NewReader(market.Options{
			Source: market.NewHTTPSource(sc.Name, sc.URL, sources.WithAPIKey(sc.APIKey)),
			Cache:  c,
			Config: &market.Config{
				CacheTTL:      cfg.Safety.MarketCacheTTL,
				SourceTimeout: cfg.Safety.SourceTimeout,
			},
			Logger: log,
		})
	}
	return decision.NewGate(opts)
}

func NewRouteBuilder(cfg *config.Config, gate *decision.Gate, prices *price.Oracle, log *logger.Logger) *route.Builder {
	return route.NewBuilder(route.Options{
		Gate:   gate,
		Prices: prices,
		Costs: route.NewFlatCostEstimator(
			decimal.NewFromFloat(cfg.Quote.GasPerChainUSD),
			decimal.NewFromFloat(cfg.Quote.FeeRate),
		),
		Config: &route.Config{
			TTL:                cfg.Quote.TTL,
			DefaultSlippageBps: cfg.Quote.DefaultSlippageBps,
			SwapProtocol:       cfg.Quote.SwapProtocol,
			BridgeProtocol:     cfg.Quote.BridgeProtocol,
		},
		Logger: log,
	})
}

func NewQuoteStore(c cache.Cache, s *Stores, log *logger.Logger) *quotestore.Store {
	return quotestore.New(quotestore.Options{
		Cache:   c,
		Durable: s.Quotes,
		Logger:  log,
	})
}

func NewOrchestrator(b *route.Builder, qs *quotestore.Store, log *logger.Logger) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Options{
		Builder: b,
		Quotes:  qs,
		Logger:  log,
	})
}

func NewLedger(cfg *config.Config, c cache.Cache, s *Stores, log *logger.Logger) *credits.Ledger {
	return credits.NewLedger(credits.Options{
		Store: s.Credits,
		Cache: c,
		Config: &credits.Config{
			MinDepositCents: cfg.Credits.MinDepositCents,
			MaxBalanceCents: cfg.Credits.MaxBalanceCents,
			Expiry:          cfg.Credits.Expiry,
			BalanceCacheTTL: cfg.Credits.BalanceCacheTTL,
		},
		Logger: log,
	})
}

func NewUsageRecorder(s *Stores, log *logger.Logger) *credits.UsageRecorder {
	return credits.NewUsageRecorder(s.Usage, log)
}

func NewAPIServer(
	cfg *config.Config,
	orch *orchestrator.Orchestrator,
	ledger *credits.Ledger,
	usage *credits.UsageRecorder,
	verifier *evm.DepositVerifier,
	c cache.Cache,
	log *logger.Logger,
) *api.Server {
	opts := api.Options{
		Quotes:  orch,
		Ledger:  ledger,
		Pricing: credits.NewPricing(cfg.Credits.Pricing),
		Usage:   usage,
		FreeTier: credits.NewFreeTier(credits.FreeTierOptions{
			Cache:  c,
			Limit:  cfg.Credits.FreeTierDaily,
			Window: cfg.Credits.FreeTierWindow,
			Logger: log,
		}),
		WebhookSecret: cfg.Credits.WebhookSecret,
		Logger:        log,
	}
	if verifier != nil {
		opts.Verifier = verifier
	}
	if cfg.Credits.TreasuryAddress != "" {
		opts.Deposit = api.NewDepositInfo(cfg.Credits.TreasuryAddress, cfg.Credits.MinDepositCents)
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		opts.Limiter = api.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	}
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
	}
	return api.NewServer(opts)
}

// Providers registers every component constructor.
var Providers = fx.Options(
	fx.Provide(
		NewCache,
		NewStores,
		NewDepositVerifier,
	),
	fx.Provide(
		NewPriceOracle,
		NewHolderAnalyzer,
		NewSimulator,
		NewGate,
		NewRouteBuilder,
		NewQuoteStore,
		NewOrchestrator,
	),
	fx.Provide(
		NewLedger,
		NewUsageRecorder,
	),
	fx.Provide(NewAPIServer),
)
