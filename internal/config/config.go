// Package config defines all configuration for the arbitrage bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ARB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Venues the bot knows adapters for, in reporting order.
var KnownVenues = []string{"bybit", "gate", "mexc", "bingx"}

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Venues    map[string]VenueConfig `mapstructure:"venues"`
	Signals   SignalConfig           `mapstructure:"signals"`
	Trading   TradingConfig          `mapstructure:"trading"`
	Risk      RiskConfig             `mapstructure:"risk"`
	Stream    StreamConfig           `mapstructure:"stream"`
	Store     StoreConfig            `mapstructure:"store"`
	Dashboard DashboardConfig        `mapstructure:"dashboard"`
	Logging   LoggingConfig          `mapstructure:"logging"`
}

// VenueConfig holds one venue's API credentials and tuning. Credentials
// come from env overrides (ARB_BYBIT_KEY etc.); the YAML file normally
// only toggles enabled and the commission override.
type VenueConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	Key      string  `mapstructure:"key"`
	Secret   string  `mapstructure:"secret"`
	TakerFee float64 `mapstructure:"taker_fee"` // 0 = use venue default
}

// SignalConfig controls signal parsing and deduplication.
type SignalConfig struct {
	DedupTTL  time.Duration `mapstructure:"dedup_ttl"`
	DedupSize int           `mapstructure:"dedup_size"`
}

// TradingConfig tunes entry, exit, and sizing.
//
//   - MinSpread / MaxAllowedSpread: admission band in percent. Spreads
//     above the max are treated as bad data, not better opportunities.
//   - CloseSpread: exit once the live spread converges below this.
//   - Leverage: applied to both legs before entry.
//   - MaxHoldTime: hard time stop.
//   - RiskyMultipliers: per-ticker quantity scalers in (0,1].
type TradingConfig struct {
	MinSpread        float64            `mapstructure:"min_spread"`
	MaxAllowedSpread float64            `mapstructure:"max_allowed_spread"`
	CloseSpread      float64            `mapstructure:"close_spread"`
	Leverage         int                `mapstructure:"leverage"`
	MaxHoldTime      time.Duration      `mapstructure:"max_hold_time"`
	MonitorInterval  time.Duration      `mapstructure:"monitor_interval"`
	TrailingEnabled  bool               `mapstructure:"trailing_enabled"`
	TrailingLevels   []TrailingLevel    `mapstructure:"trailing_levels"`
	RiskyMultipliers map[string]float64 `mapstructure:"risky_multipliers"`
	Blacklist        []string           `mapstructure:"blacklist"`
}

// TrailingLevel maps a minimum hold duration to the fraction of peak
// P&L the trade must keep. Levels are evaluated longest-first.
type TrailingLevel struct {
	After time.Duration `mapstructure:"after"`
	Keep  float64       `mapstructure:"keep"`
}

// RiskConfig sets hard limits enforced by the opportunity filter.
//
//   - MaxConcurrentTrades: cap on simultaneously open pairs.
//   - MaxSingleTradeNotional: per-leg notional cap in USDT.
//   - MaxDailyLoss: once the day's realized loss reaches this, no new
//     trades are admitted until UTC midnight.
//   - VenueDisableThreshold: consecutive failures before a venue is
//     quarantined.
type RiskConfig struct {
	MaxConcurrentTrades    int     `mapstructure:"max_concurrent_trades"`
	MaxSingleTradeNotional float64 `mapstructure:"max_single_trade_notional"`
	MaxDailyLoss           float64 `mapstructure:"max_daily_loss"`
	VenueDisableThreshold  int     `mapstructure:"venue_disable_threshold"`
}

// StreamConfig controls the price stream layer.
type StreamConfig struct {
	FreshnessWindow time.Duration `mapstructure:"freshness_window"`
	BalanceInterval time.Duration `mapstructure:"balance_interval"`
}

// StoreConfig sets where ledger and trade data is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// DashboardConfig controls the local status server. It binds to
// localhost only.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Credentials use env vars: ARB_BYBIT_KEY, ARB_BYBIT_SECRET, and the
// same pattern for gate, mexc, and bingx.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override credentials from env
	for _, venue := range KnownVenues {
		vc := cfg.Venues[venue]
		upper := strings.ToUpper(venue)
		if key := os.Getenv("ARB_" + upper + "_KEY"); key != "" {
			vc.Key = key
		}
		if secret := os.Getenv("ARB_" + upper + "_SECRET"); secret != "" {
			vc.Secret = secret
		}
		if cfg.Venues == nil {
			cfg.Venues = make(map[string]VenueConfig)
		}
		cfg.Venues[venue] = vc
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills zero values with the tuned production defaults.
func (c *Config) applyDefaults() {
	if c.Signals.DedupTTL == 0 {
		c.Signals.DedupTTL = 5 * time.Minute
	}
	if c.Signals.DedupSize == 0 {
		c.Signals.DedupSize = 512
	}
	if c.Trading.MinSpread == 0 {
		c.Trading.MinSpread = 3.0
	}
	if c.Trading.MaxAllowedSpread == 0 {
		c.Trading.MaxAllowedSpread = 50.0
	}
	if c.Trading.CloseSpread == 0 {
		c.Trading.CloseSpread = 0.5
	}
	if c.Trading.Leverage == 0 {
		c.Trading.Leverage = 3
	}
	if c.Trading.MaxHoldTime == 0 {
		c.Trading.MaxHoldTime = 6000 * time.Second
	}
	if c.Trading.MonitorInterval == 0 {
		c.Trading.MonitorInterval = 5 * time.Second
	}
	if len(c.Trading.TrailingLevels) == 0 {
		c.Trading.TrailingLevels = []TrailingLevel{
			{After: 60 * time.Second, Keep: 0.90},
			{After: 180 * time.Second, Keep: 0.80},
			{After: 600 * time.Second, Keep: 0.70},
		}
	}
	if c.Risk.MaxConcurrentTrades == 0 {
		c.Risk.MaxConcurrentTrades = 3
	}
	if c.Risk.MaxSingleTradeNotional == 0 {
		c.Risk.MaxSingleTradeNotional = 4.0
	}
	if c.Risk.MaxDailyLoss == 0 {
		c.Risk.MaxDailyLoss = 8.0
	}
	if c.Risk.VenueDisableThreshold == 0 {
		c.Risk.VenueDisableThreshold = 5
	}
	if c.Stream.FreshnessWindow == 0 {
		c.Stream.FreshnessWindow = 3 * time.Second
	}
	if c.Stream.BalanceInterval == 0 {
		c.Stream.BalanceInterval = 10 * time.Second
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = "data"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8899
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// EnabledVenues returns the venue names with adapters configured and
// enabled, in KnownVenues order.
func (c *Config) EnabledVenues() []string {
	out := make([]string, 0, len(KnownVenues))
	for _, venue := range KnownVenues {
		if vc, ok := c.Venues[venue]; ok && vc.Enabled {
			out = append(out, venue)
		}
	}
	return out
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	enabled := c.EnabledVenues()
	if len(enabled) < 2 {
		return fmt.Errorf("at least two venues must be enabled, got %d", len(enabled))
	}
	for _, venue := range enabled {
		vc := c.Venues[venue]
		if vc.Key == "" || vc.Secret == "" {
			return fmt.Errorf("venues.%s: key and secret are required (set ARB_%s_KEY / ARB_%s_SECRET)",
				venue, strings.ToUpper(venue), strings.ToUpper(venue))
		}
		if vc.TakerFee < 0 || vc.TakerFee > 0.01 {
			return fmt.Errorf("venues.%s.taker_fee must be in [0, 0.01]", venue)
		}
	}
	for venue := range c.Venues {
		known := false
		for _, k := range KnownVenues {
			if venue == k {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("venues.%s: no adapter for this venue", venue)
		}
	}
	if c.Trading.MinSpread <= 0 {
		return fmt.Errorf("trading.min_spread must be > 0")
	}
	if c.Trading.MaxAllowedSpread <= c.Trading.MinSpread {
		return fmt.Errorf("trading.max_allowed_spread must be > trading.min_spread")
	}
	if c.Trading.CloseSpread < 0 || c.Trading.CloseSpread >= c.Trading.MinSpread {
		return fmt.Errorf("trading.close_spread must be in [0, min_spread)")
	}
	if c.Trading.Leverage < 1 || c.Trading.Leverage > 20 {
		return fmt.Errorf("trading.leverage must be in [1, 20]")
	}
	for symbol, mult := range c.Trading.RiskyMultipliers {
		if mult <= 0 || mult > 1 {
			return fmt.Errorf("trading.risky_multipliers.%s must be in (0, 1]", symbol)
		}
	}
	for i, lvl := range c.Trading.TrailingLevels {
		if lvl.Keep <= 0 || lvl.Keep > 1 {
			return fmt.Errorf("trading.trailing_levels[%d].keep must be in (0, 1]", i)
		}
	}
	if c.Risk.MaxConcurrentTrades <= 0 {
		return fmt.Errorf("risk.max_concurrent_trades must be > 0")
	}
	if c.Risk.MaxSingleTradeNotional <= 0 {
		return fmt.Errorf("risk.max_single_trade_notional must be > 0")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be > 0")
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port < 1 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be in [1, 65535]")
	}
	return nil
}
