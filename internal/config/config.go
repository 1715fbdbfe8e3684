// Package config loads and validates the exchange core's top-level
// configuration: per-symbol trading rules, per-venue credentials, and
// the risk limits that drive liquidation, following internal/trading/config's
// shape (a Default*Config builder plus a Validate method) generalized
// to this module's domain.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/orbitcex/exchange-core/internal/matching"
	"github.com/orbitcex/exchange-core/internal/money"
	"github.com/orbitcex/exchange-core/internal/orderbook"
	"github.com/orbitcex/exchange-core/internal/venue"
	"github.com/orbitcex/exchange-core/pkg/errors"
)

// AssetConfig declares an asset's decimal scale.
type AssetConfig struct {
	Symbol string `mapstructure:"symbol"`
	Scale  int    `mapstructure:"scale"`
}

// RiskLimit is one entry of a symbol's risk_limits[] ladder: above
// NotionalCap, MaxLeverage steps down and MaintenanceMarginRate steps
// up.
type RiskLimit struct {
	NotionalCap             string `mapstructure:"notional_cap"`
	MaxLeverage             string `mapstructure:"max_leverage"`
	MaintenanceMarginRate   string `mapstructure:"maintenance_margin_rate"`
}

// SymbolSpec is the on-disk/env representation of a symbol
// configuration record; ToSymbolConfig resolves it against the
// registered assets into a matching.SymbolConfig.
type SymbolSpec struct {
	Symbol          string `mapstructure:"symbol"`
	Base            string `mapstructure:"base"`
	Quote           string `mapstructure:"quote"`
	TickSize        string `mapstructure:"tick_size"`
	LotSize         string `mapstructure:"lot_size"`
	MinPrice        string `mapstructure:"min_price"`
	MaxPrice        string `mapstructure:"max_price"`
	MinQty          string `mapstructure:"min_qty"`
	MaxQty          string `mapstructure:"max_qty"`
	MinNotional     string `mapstructure:"min_notional"`
	MakerFeeRate    string `mapstructure:"maker_fee_rate"`
	TakerFeeRate    string `mapstructure:"taker_fee_rate"`
	MaxSlippage     string `mapstructure:"max_slippage"`
	SelfTradePolicy string `mapstructure:"self_trade_policy"`

	// Derivatives-only fields; zero-valued for spot symbols.
	MaxLeverage           string      `mapstructure:"max_leverage"`
	InitialMarginRate     string      `mapstructure:"initial_margin_rate"`
	MaintenanceMarginRate string      `mapstructure:"maintenance_margin_rate"`
	FundingInterval       string      `mapstructure:"funding_interval"`
	RiskLimits            []RiskLimit `mapstructure:"risk_limits"`
}

// VenueSpec is the venue-facing configuration record.
type VenueSpec struct {
	Name       string `mapstructure:"name"`
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"passphrase"`
	Testnet    bool   `mapstructure:"testnet_flag"`
	Enabled    bool   `mapstructure:"enabled_flag"`

	RateLimitCapacity int     `mapstructure:"rate_limit_capacity"`
	RateLimitPerSec   float64 `mapstructure:"rate_limit_per_sec"`
	GasCostUSD        string  `mapstructure:"gas_cost_usd"`
}

// Config is the top-level exchange-core configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Assets  []AssetConfig `mapstructure:"assets"`
	Symbols []SymbolSpec  `mapstructure:"symbols"`
	Venues  []VenueSpec   `mapstructure:"venues"`

	// FreshnessBound is how old a venue snapshot can be before the
	// aggregator treats it as stale.
	FreshnessBound time.Duration `mapstructure:"freshness_bound"`

	// ArbitrageMinProfit / ArbitrageMinSpreadBps / ArbitrageTTL are the
	// cross-venue opportunity detector's thresholds.
	ArbitrageMinProfit    string        `mapstructure:"arbitrage_min_profit"`
	ArbitrageMinSpreadBps string        `mapstructure:"arbitrage_min_spread_bps"`
	ArbitrageTTL          time.Duration `mapstructure:"arbitrage_ttl"`

	// LiquidationScanInterval paces the periodic risk loop; scanning is
	// deliberately periodic rather than per-trade.
	LiquidationScanInterval time.Duration `mapstructure:"liquidation_scan_interval"`

	// MailboxHighWaterMark bounds a symbol actor's inbound queue for
	// backpressure, before new orders are rejected RateLimited.
	MailboxHighWaterMark int `mapstructure:"mailbox_high_water_mark"`

	PostgresDSN string `mapstructure:"postgres_dsn"`
	RedisAddr   string `mapstructure:"redis_addr"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
}

// Default returns a starting configuration: one BTC/USDT spot symbol,
// no venues registered, and conservative timing defaults. Callers add
// their own symbols/venues before Validate.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Assets: []AssetConfig{
			{Symbol: "BTC", Scale: 8},
			{Symbol: "USDT", Scale: 6},
		},
		Symbols: []SymbolSpec{
			{
				Symbol:          "BTC/USDT",
				Base:            "BTC",
				Quote:           "USDT",
				TickSize:        "0.01",
				LotSize:         "0.00000001",
				MinPrice:        "0.01",
				MaxPrice:        "100000000",
				MinQty:          "0.00000001",
				MaxQty:          "100000000",
				MinNotional:     "10",
				MakerFeeRate:    "0.0008",
				TakerFeeRate:    "0.001",
				MaxSlippage:     "0.05",
				SelfTradePolicy: "cancel_taker",
			},
		},
		FreshnessBound:          3 * time.Second,
		ArbitrageMinProfit:      "0",
		ArbitrageMinSpreadBps:   "5",
		ArbitrageTTL:            2 * time.Second,
		LiquidationScanInterval: 5 * time.Second,
		MailboxHighWaterMark:    10000,
	}
}

// Load reads configuration from a .env file (if present) and, when
// configPath is non-empty, from that config file via viper, with
// EXCHANGE_-prefixed environment variables overriding the keys the file
// sets. With an empty configPath it validates and returns Default();
// environment variables are then not consulted.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("EXCHANGE")
	v.AutomaticEnv()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.KindValidationFailed, err, "reading config file %s", configPath)
		}
	}

	cfg := Default()
	if configPath != "" {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, errors.Wrap(errors.KindValidationFailed, err, "decoding config")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// assetMap resolves the declared assets by symbol.
func (c *Config) assetMap() map[string]money.Asset {
	out := make(map[string]money.Asset, len(c.Assets))
	for _, a := range c.Assets {
		out[a.Symbol] = money.Asset{Symbol: a.Symbol, Scale: a.Scale}
	}
	return out
}

// selfTradePolicy parses a symbol spec's textual policy name.
func selfTradePolicy(s string) (orderbook.SelfTradePolicy, error) {
	switch strings.ToLower(s) {
	case "cancel_taker":
		return orderbook.STPCancelTaker, nil
	case "cancel_maker":
		return orderbook.STPCancelMaker, nil
	case "cancel_both":
		return orderbook.STPCancelBoth, nil
	case "decrement":
		return orderbook.STPDecrement, nil
	default:
		return "", errors.New(errors.KindValidationFailed, "unknown self_trade_policy %q", s)
	}
}

// ToSymbolConfig resolves one SymbolSpec into a matching.SymbolConfig,
// looking up its base/quote assets from the config's asset table.
func (c *Config) ToSymbolConfig(spec SymbolSpec) (matching.SymbolConfig, error) {
	assets := c.assetMap()
	base, ok := assets[spec.Base]
	if !ok {
		return matching.SymbolConfig{}, errors.New(errors.KindValidationFailed, "symbol %s: unknown base asset %s", spec.Symbol, spec.Base)
	}
	quote, ok := assets[spec.Quote]
	if !ok {
		return matching.SymbolConfig{}, errors.New(errors.KindValidationFailed, "symbol %s: unknown quote asset %s", spec.Symbol, spec.Quote)
	}

	parse := func(asset money.Asset, s string, field string) (money.Money, error) {
		m, err := money.Parse(asset, s)
		if err != nil {
			return money.Money{}, errors.Wrap(errors.KindValidationFailed, err, "symbol %s: %s", spec.Symbol, field)
		}
		return m, nil
	}

	tick, err := parse(quote, spec.TickSize, "tick_size")
	if err != nil {
		return matching.SymbolConfig{}, err
	}
	lot, err := parse(base, spec.LotSize, "lot_size")
	if err != nil {
		return matching.SymbolConfig{}, err
	}
	minPrice, err := parse(quote, spec.MinPrice, "min_price")
	if err != nil {
		return matching.SymbolConfig{}, err
	}
	maxPrice, err := parse(quote, spec.MaxPrice, "max_price")
	if err != nil {
		return matching.SymbolConfig{}, err
	}
	minQty, err := parse(base, spec.MinQty, "min_qty")
	if err != nil {
		return matching.SymbolConfig{}, err
	}
	maxQty, err := parse(base, spec.MaxQty, "max_qty")
	if err != nil {
		return matching.SymbolConfig{}, err
	}
	makerFee, err := money.RateFromString(spec.MakerFeeRate)
	if err != nil {
		return matching.SymbolConfig{}, err
	}
	takerFee, err := money.RateFromString(spec.TakerFeeRate)
	if err != nil {
		return matching.SymbolConfig{}, err
	}
	slippage, err := money.RateFromString(spec.MaxSlippage)
	if err != nil {
		return matching.SymbolConfig{}, err
	}
	stp, err := selfTradePolicy(spec.SelfTradePolicy)
	if err != nil {
		return matching.SymbolConfig{}, err
	}

	return matching.SymbolConfig{
		Symbol:          spec.Symbol,
		BaseAsset:       base,
		QuoteAsset:      quote,
		TickSize:        tick,
		LotSize:         lot,
		MinPrice:        minPrice,
		MaxPrice:        maxPrice,
		MinQty:          minQty,
		MaxQty:          maxQty,
		MakerFeeRate:    makerFee,
		TakerFeeRate:    takerFee,
		MaxSlippage:     slippage,
		SelfTradePolicy: stp,
	}, nil
}

// ToCredentials resolves a VenueSpec into the venue.Credentials record
// its adapter constructor expects.
func (s VenueSpec) ToCredentials() venue.Credentials {
	return venue.Credentials{
		APIKey:     s.APIKey,
		APISecret:  s.APISecret,
		Passphrase: s.Passphrase,
		Testnet:    s.Testnet,
		Enabled:    s.Enabled,
	}
}

// Validate checks internal consistency of every declared symbol and
// venue, and the global timing/backpressure knobs.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return errors.New(errors.KindValidationFailed, "at least one symbol must be configured")
	}
	seen := map[string]bool{}
	for _, spec := range c.Symbols {
		if seen[spec.Symbol] {
			return errors.New(errors.KindValidationFailed, "duplicate symbol %s", spec.Symbol)
		}
		seen[spec.Symbol] = true
		sc, err := c.ToSymbolConfig(spec)
		if err != nil {
			return err
		}
		if err := sc.Validate(); err != nil {
			return err
		}
	}
	for _, v := range c.Venues {
		if v.Name == "" {
			return errors.New(errors.KindValidationFailed, "venue entry missing name")
		}
	}
	if c.FreshnessBound <= 0 {
		return errors.New(errors.KindValidationFailed, "freshness_bound must be positive")
	}
	if c.MailboxHighWaterMark <= 0 {
		return errors.New(errors.KindValidationFailed, "mailbox_high_water_mark must be positive")
	}
	if c.LiquidationScanInterval <= 0 {
		return errors.New(errors.KindValidationFailed, "liquidation_scan_interval must be positive")
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{symbols=%d venues=%d}", len(c.Symbols), len(c.Venues))
}
