// Package config loads the immutable Config injected into every loop at
// startup. There is no process-wide settings singleton: every component
// takes an explicit reference.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface the core reads.
type Config struct {
	DatabaseURL string        `yaml:"database_url"`
	Symbols     []string      `yaml:"symbols"`
	Exchange    ExchangeConfig `yaml:"exchange"`
	Regime      RegimeConfig  `yaml:"regime"`
	Portfolio   PortfolioConfig `yaml:"portfolio"`
	Risk        RiskConfig    `yaml:"risk"`
	Trading     TradingConfig `yaml:"trading"`
	LogLevel    string        `yaml:"log_level"`
}

// ExchangeConfig carries OKX-style perpetual-swap credentials and dials.
type ExchangeConfig struct {
	APIKey        string   `yaml:"api_key"`
	SecretKey     string   `yaml:"secret_key"`
	Passphrase    string   `yaml:"passphrase"`
	BaseURL       string   `yaml:"base_url"`
	IsDemo        bool     `yaml:"is_demo"`
	TdMode        string   `yaml:"td_mode"`      // cross | isolated | cash
	PosMode       string   `yaml:"pos_mode"`     // long_short | net
	DefaultMarket string   `yaml:"default_market"` // swap | spot | ...
	Timeframes    []string `yaml:"timeframes"`
	WaitFill      bool     `yaml:"wait_fill"`
	FillTimeoutS  int      `yaml:"fill_timeout_s"`
	FillIntervalS int      `yaml:"fill_interval_s"`
	SyncAccount   bool     `yaml:"sync_account"`
	RateLimitMs   int      `yaml:"rate_limit_ms"`
	TimeoutS      int      `yaml:"timeout_s"`
}

// RegimeConfig carries the regime classifier's threshold knobs.
type RegimeConfig struct {
	AdxThreshold     float64 `yaml:"adx_threshold"`
	BBWidthThreshold float64 `yaml:"bb_width_threshold"`
}

// PortfolioConfig carries the scheduler and allocator knobs.
type PortfolioConfig struct {
	MinScore      float64 `yaml:"min_score"`
	TopN          int     `yaml:"top_n"`
	GlobalLeverage float64 `yaml:"global_leverage"`
	DiffThreshold float64 `yaml:"diff_threshold"`
	MinNotional   float64 `yaml:"min_notional"`
}

// RiskConfig carries the risk chain's hard limits.
type RiskConfig struct {
	MaxNotional   float64 `yaml:"max_notional"`
	MaxLeverage   float64 `yaml:"max_leverage"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// TradingConfig carries the orchestrator's cadence and feature gates.
type TradingConfig struct {
	Enabled         bool   `yaml:"trading_enabled"`
	APIWriteEnabled bool   `yaml:"api_write_enabled"`
	Executor        string `yaml:"executor"` // simulated | live
	Timeframe       string `yaml:"timeframe"`
	CandleLimit     int    `yaml:"candle_limit"`
	IntervalS       int    `yaml:"interval_s"`
	OverlapBars     int    `yaml:"overlap_bars"`
	IngestCron      string `yaml:"ingest_cron"`
	OrderSyncS      int    `yaml:"order_sync_s"`
	MetricsAddr     string `yaml:"metrics_addr"`
}

// ValidationError names the offending field for a config load failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: field %q: %s", e.Field, e.Message)
}

var envVarPattern = regexp.MustCompile(`\$\{(\w+)(:-([^}]*))?\}`)

func expandEnvVars(raw string) string {
	return envVarPattern.ReplaceAllStringFunc(raw, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		name, def := sub[1], sub[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return def
	})
}

// Load reads and validates a YAML config file, expanding ${VAR} and
// ${VAR:-default} references against the process environment first.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(raw))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Regime.AdxThreshold == 0 {
		c.Regime.AdxThreshold = 25
	}
	if c.Regime.BBWidthThreshold == 0 {
		c.Regime.BBWidthThreshold = 0.04
	}
	if c.Portfolio.MinScore == 0 {
		c.Portfolio.MinScore = 0.45
	}
	if c.Portfolio.TopN == 0 {
		c.Portfolio.TopN = 3
	}
	if c.Portfolio.GlobalLeverage == 0 {
		c.Portfolio.GlobalLeverage = 1
	}
	if c.Exchange.TdMode == "" {
		c.Exchange.TdMode = "cross"
	}
	if c.Exchange.PosMode == "" {
		c.Exchange.PosMode = "long_short"
	}
	if c.Exchange.DefaultMarket == "" {
		c.Exchange.DefaultMarket = "swap"
	}
	if c.Exchange.FillTimeoutS == 0 {
		c.Exchange.FillTimeoutS = 30
	}
	if c.Exchange.FillIntervalS == 0 {
		c.Exchange.FillIntervalS = 2
	}
	if c.Exchange.TimeoutS == 0 {
		c.Exchange.TimeoutS = 30
	}
	if c.Trading.IntervalS == 0 {
		c.Trading.IntervalS = 60
	}
	if c.Trading.Executor == "" {
		c.Trading.Executor = "simulated"
	}
	if c.Trading.Timeframe == "" {
		c.Trading.Timeframe = "1H"
	}
	if c.Trading.CandleLimit == 0 {
		c.Trading.CandleLimit = 200
	}
	if c.Trading.IngestCron == "" {
		c.Trading.IngestCron = "@every 5m"
	}
	if c.Trading.OrderSyncS == 0 {
		c.Trading.OrderSyncS = 30
	}
	if c.Trading.MetricsAddr == "" {
		c.Trading.MetricsAddr = ":9109"
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
}

// Validate checks the minimal set of fields the core cannot run without.
func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, ValidationError{"database_url", "must not be empty"}.Error())
	}
	if c.Exchange.TdMode != "cross" && c.Exchange.TdMode != "isolated" && c.Exchange.TdMode != "cash" {
		errs = append(errs, ValidationError{"exchange.td_mode", "must be one of cross, isolated, cash"}.Error())
	}
	if c.Exchange.PosMode != "long_short" && c.Exchange.PosMode != "net" {
		errs = append(errs, ValidationError{"exchange.pos_mode", "must be one of long_short, net"}.Error())
	}
	if c.Risk.MaxNotional < 0 {
		errs = append(errs, ValidationError{"risk.max_notional", "must be >= 0"}.Error())
	}
	if c.Portfolio.TopN < 1 {
		errs = append(errs, ValidationError{"portfolio.top_n", "must be >= 1"}.Error())
	}
	if c.Trading.Executor != "simulated" && c.Trading.Executor != "live" {
		errs = append(errs, ValidationError{"trading.executor", "must be one of simulated, live"}.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// FillTimeout / FillInterval convert the config's second fields to durations.
func (c *Config) FillTimeout() time.Duration  { return time.Duration(c.Exchange.FillTimeoutS) * time.Second }
func (c *Config) FillInterval() time.Duration { return time.Duration(c.Exchange.FillIntervalS) * time.Second }
func (c *Config) ExchangeTimeout() time.Duration { return time.Duration(c.Exchange.TimeoutS) * time.Second }
func (c *Config) CycleInterval() time.Duration { return time.Duration(c.Trading.IntervalS) * time.Second }
