// Package config loads service configuration from file, environment and .env.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	EVM       EVMConfig       `mapstructure:"evm"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Quote     QuoteConfig     `mapstructure:"quote"`
	Credits   CreditsConfig   `mapstructure:"credits"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig represents application-specific configuration
type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
}

// StorageConfig selects the durable backends.
type StorageConfig struct {
	Driver        string `mapstructure:"driver"` // memory | postgres
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn"` // optional, usage analytics
}

// RedisConfig configures the shared cache. Disabled means in-process caches.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	URL               string        `mapstructure:"url"`
	StreamName        string        `mapstructure:"stream_name"`
	Subject           string        `mapstructure:"subject"`
	Consumer          string        `mapstructure:"consumer"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxPending        int           `mapstructure:"max_pending"`
}

// EVMConfig configures chain RPC access for deposits and local simulation.
type EVMConfig struct {
	DepositsEnabled bool              `mapstructure:"deposits_enabled"`
	DepositRPCURL   string            `mapstructure:"deposit_rpc_url"`
	DepositWSURL    string            `mapstructure:"deposit_ws_url"`
	RPCTimeout      time.Duration     `mapstructure:"rpc_timeout"`
	// BackfillMaxRange caps the block span of one eth_getLogs call when
	// replaying deposits missed during downtime. 0 disables the backfill.
	BackfillMaxRange uint64 `mapstructure:"backfill_max_range"`
	RPCURLs         map[string]string `mapstructure:"rpc_urls"` // chain name -> HTTP RPC, for eth_call simulation
}

// SourceConfig describes an HTTP data source.
// URL may contain {chain}, {chain_id} and {address} placeholders.
type SourceConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	APIKey   string `mapstructure:"api_key"`
	JSONPath string `mapstructure:"json_path"` // gjson path to the value
	Verified bool   `mapstructure:"verified"`
}

// SafetyConfig holds validation thresholds and data sources.
type SafetyConfig struct {
	PriceDeviation         float64        `mapstructure:"price_deviation"`
	MinSources             int            `mapstructure:"min_sources"`
	SourceTimeout          time.Duration  `mapstructure:"source_timeout"`
	PriceCacheTTL          time.Duration  `mapstructure:"price_cache_ttl"`
	HolderCacheTTL         time.Duration  `mapstructure:"holder_cache_ttl"`
	SimulationCacheTTL     time.Duration  `mapstructure:"simulation_cache_ttl"`
	ConcentrationThreshold float64        `mapstructure:"concentration_threshold"`
	MaxHiddenTax           float64        `mapstructure:"max_hidden_tax"`
	SwapTolerancePercent   float64        `mapstructure:"swap_tolerance_percent"`
	CheckTransferTax       bool           `mapstructure:"check_transfer_tax"`
	Concurrency            int            `mapstructure:"concurrency"`
	BlockedTokens          []string       `mapstructure:"blocked_tokens"`
	PriceSources           []SourceConfig `mapstructure:"price_sources"`
	StablePeg              bool           `mapstructure:"stable_peg"`
	ListCheck              bool           `mapstructure:"list_check"`
	AllowedTokens          []string       `mapstructure:"allowed_tokens"`
	GraylistedTokens       []string       `mapstructure:"graylisted_tokens"`
	MarketSource           SourceConfig   `mapstructure:"market_source"`
	MarketCacheTTL         time.Duration  `mapstructure:"market_cache_ttl"`
	MinVolumeUSD           float64        `mapstructure:"min_volume_usd"`
	MinTokenAge            time.Duration  `mapstructure:"min_token_age"`
	MaxDexDeviation        float64        `mapstructure:"max_dex_deviation"`
	HolderPrimary          SourceConfig   `mapstructure:"holder_primary"`
	HolderSecondary        SourceConfig   `mapstructure:"holder_secondary"`
	SimulationURL          string         `mapstructure:"simulation_url"`
	SimulationAPIKey       string         `mapstructure:"simulation_api_key"`
}

// QuoteConfig holds route economics and quote lifetime.
type QuoteConfig struct {
	TTL                time.Duration `mapstructure:"ttl"`
	FeeRate            float64       `mapstructure:"fee_rate"`
	GasPerChainUSD     float64       `mapstructure:"gas_per_chain_usd"`
	DefaultSlippageBps int           `mapstructure:"default_slippage_bps"`
	SwapProtocol       string        `mapstructure:"swap_protocol"`
	BridgeProtocol     string        `mapstructure:"bridge_protocol"`
}

// CreditsConfig holds prepaid ledger policy.
type CreditsConfig struct {
	MinDepositCents int64            `mapstructure:"min_deposit_cents"`
	MaxBalanceCents int64            `mapstructure:"max_balance_cents"`
	Expiry          time.Duration    `mapstructure:"expiry"`
	BalanceCacheTTL time.Duration    `mapstructure:"balance_cache_ttl"`
	WebhookSecret   string           `mapstructure:"webhook_secret"`
	ExpirySchedule  string           `mapstructure:"expiry_schedule"`
	TreasuryAddress string           `mapstructure:"treasury_address"`
	Pricing         map[string]int64 `mapstructure:"pricing"`
	FreeTierDaily   int              `mapstructure:"free_tier_daily"`
	FreeTierWindow  time.Duration    `mapstructure:"free_tier_window"`
}

// RateLimitConfig configures per-client request limiting.
type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	Burst             int `mapstructure:"burst"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration. A .env file in the working directory, when present,
// is loaded into the environment first; environment variables override file
// values using upper-case keys with "_" for nesting (e.g. STORAGE_POSTGRES_DSN).
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/dust-sweeper")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Safety.MinSources < 1 {
		return fmt.Errorf("safety.min_sources must be >= 1")
	}
	if c.Quote.TTL <= 0 {
		return fmt.Errorf("quote.ttl must be positive")
	}
	if c.Quote.DefaultSlippageBps < 1 || c.Quote.DefaultSlippageBps > 1000 {
		return fmt.Errorf("quote.default_slippage_bps must be in 1..1000")
	}
	if c.Credits.MinDepositCents <= 0 || c.Credits.MaxBalanceCents < c.Credits.MinDepositCents {
		return fmt.Errorf("credits deposit bounds are inconsistent")
	}
	if c.EVM.DepositsEnabled && c.Credits.TreasuryAddress == "" {
		return fmt.Errorf("credits.treasury_address is required when deposits are enabled")
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.http_addr", ":8080")

	// Storage defaults
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.clickhouse_dsn", "")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "DEPOSITS")
	v.SetDefault("nats.subject", "deposits.usdc")
	v.SetDefault("nats.consumer", "dust-sweeper")
	v.SetDefault("nats.connect_timeout", "10s")
	v.SetDefault("nats.reconnect_attempts", 5)
	v.SetDefault("nats.reconnect_delay", "2s")
	v.SetDefault("nats.max_pending", 1024)

	// EVM defaults
	v.SetDefault("evm.deposits_enabled", false)
	v.SetDefault("evm.deposit_rpc_url", "https://mainnet.base.org")
	v.SetDefault("evm.deposit_ws_url", "")
	v.SetDefault("evm.rpc_timeout", "10s")
	v.SetDefault("evm.backfill_max_range", 2000)

	// Safety defaults
	v.SetDefault("safety.price_deviation", 0.05)
	v.SetDefault("safety.min_sources", 2)
	v.SetDefault("safety.source_timeout", "5s")
	v.SetDefault("safety.price_cache_ttl", "60s")
	v.SetDefault("safety.holder_cache_ttl", "1h")
	v.SetDefault("safety.simulation_cache_ttl", "5m")
	v.SetDefault("safety.concentration_threshold", 80.0)
	v.SetDefault("safety.max_hidden_tax", 0.05)
	v.SetDefault("safety.swap_tolerance_percent", 5.0)
	v.SetDefault("safety.check_transfer_tax", true)
	v.SetDefault("safety.concurrency", 8)
	v.SetDefault("safety.stable_peg", true)
	v.SetDefault("safety.list_check", false)
	v.SetDefault("safety.market_cache_ttl", "5m")
	v.SetDefault("safety.min_volume_usd", 5000.0)
	v.SetDefault("safety.min_token_age", "168h")
	v.SetDefault("safety.max_dex_deviation", 0.05)

	// Quote defaults
	v.SetDefault("quote.ttl", "5m")
	v.SetDefault("quote.fee_rate", 0.005)
	v.SetDefault("quote.gas_per_chain_usd", 0.05)
	v.SetDefault("quote.default_slippage_bps", 100)
	v.SetDefault("quote.swap_protocol", "aggregator")
	v.SetDefault("quote.bridge_protocol", "across")

	// Credits defaults
	v.SetDefault("credits.min_deposit_cents", 100)
	v.SetDefault("credits.max_balance_cents", 1000000)
	v.SetDefault("credits.expiry", "2160h")
	v.SetDefault("credits.balance_cache_ttl", "60s")
	v.SetDefault("credits.webhook_secret", "")
	v.SetDefault("credits.expiry_schedule", "@hourly")
	v.SetDefault("credits.treasury_address", "")
	v.SetDefault("credits.free_tier_daily", 10)
	v.SetDefault("credits.free_tier_window", "24h")
	// Keys are lower-cased by viper; lookups normalize the same way.
	v.SetDefault("credits.pricing", map[string]int64{
		"post /api/quote":     5,
		"get /api/quote/{id}": 0,
	})

	// Rate limit defaults
	v.SetDefault("ratelimit.requests_per_second", 10)
	v.SetDefault("ratelimit.burst", 20)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
