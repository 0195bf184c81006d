// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bud42069/AT-1000/internal/guard"
	"github.com/bud42069/AT-1000/internal/sink"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogConsole  bool   `yaml:"log_console"`
	// Rotation applies to every JSONL file the process writes.
	Rotation sink.Rotation `yaml:"rotation"`
}

// Feed selects the tick source.
type Feed struct {
	Provider       string        `yaml:"provider"` // stub|binance
	Symbol         string        `yaml:"symbol"`
	BinanceURL     string        `yaml:"binance_url"`
	StubInterval   time.Duration `yaml:"stub_interval"`
	ReconnectMin   time.Duration `yaml:"reconnect_min"`
	ReconnectMax   time.Duration `yaml:"reconnect_max"`
	TickBufferSize int           `yaml:"tick_buffer"`
}

// Signals tunes the bar aggregator and order proposals.
type Signals struct {
	HistorySize    int        `yaml:"history_size"`
	VolMultiplier  float64    `yaml:"vol_multiplier"`
	StopMultiplier float64    `yaml:"stop_multiplier"`
	TPMultipliers  [3]float64 `yaml:"tp_multipliers"`
	Leverage       float64    `yaml:"leverage"`
	Path           string     `yaml:"path"`
}

// Engine tunes order execution.
type Engine struct {
	Symbol              string        `yaml:"symbol"`
	Venue               string        `yaml:"venue"` // paper|drift
	MaxLeverage         float64       `yaml:"max_leverage"`
	RiskFraction        float64       `yaml:"risk_fraction"`
	FeeBps              float64       `yaml:"fee_bps"`
	MaxAttempts         int           `yaml:"max_attempts"`
	MaintenanceMargin   float64       `yaml:"maintenance_margin"`
	CallTimeout         time.Duration `yaml:"call_timeout"`
	RepriceToleranceBps float64       `yaml:"reprice_tolerance_bps"`
	EventsPath          string        `yaml:"events_path"`
	JournalPath         string        `yaml:"journal_path"`
}

// Guards configures the preflight snapshot source and limits.
type Guards struct {
	Source     string           `yaml:"source"` // http|static
	BaseURL    string           `yaml:"base_url"`
	Timeout    time.Duration    `yaml:"timeout"`
	Thresholds guard.Thresholds `yaml:"thresholds"`
	Static     *guard.Snapshot  `yaml:"static"`
}

// Drift defines the gateway and Solana endpoints for live execution.
type Drift struct {
	GatewayURL  string  `yaml:"gateway_url"`
	MarketIndex int     `yaml:"market_index"`
	TickSize    string  `yaml:"tick_size"`
	StepSize    string  `yaml:"step_size"`
	RateLimit   float64 `yaml:"rate_limit_rps"`
	RpcURL      string  `yaml:"rpc_url"`
	MinLamports uint64  `yaml:"min_signer_lamports"`
}

// Wallet names the env var that carries the delegate signing key.
type Wallet struct {
	KeyEnv string `yaml:"key_env"`
}

// API configures the engine control server.
type API struct {
	Addr          string `yaml:"addr"`
	ActivityLimit int    `yaml:"activity_limit"`
}

// Paper captures paper-trading account settings.
type Paper struct {
	StartingCollateral   float64 `yaml:"starting_collateral"`
	MaxPositionPerSymbol float64 `yaml:"max_position_per_symbol"`
	FeeBps               float64 `yaml:"fee_bps"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App     App     `yaml:"app"`
	Feed    Feed    `yaml:"feed"`
	Signals Signals `yaml:"signals"`
	Engine  Engine  `yaml:"engine"`
	Guards  Guards  `yaml:"guards"`
	Drift   Drift   `yaml:"drift"`
	Wallet  Wallet  `yaml:"wallet"`
	API     API     `yaml:"api"`
	Paper   Paper   `yaml:"paper"`
}

// ApplyDefaults fills every unset field with its documented default.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "at1000"
	}
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.Rotation.MaxSizeMB <= 0 {
		c.App.Rotation.MaxSizeMB = 100
	}

	if c.Feed.Provider == "" {
		c.Feed.Provider = "stub"
	}
	if c.Feed.Symbol == "" {
		c.Feed.Symbol = "SOLUSDT"
	}
	if c.Feed.StubInterval <= 0 {
		c.Feed.StubInterval = 500 * time.Millisecond
	}
	if c.Feed.ReconnectMin <= 0 {
		c.Feed.ReconnectMin = time.Second
	}
	if c.Feed.ReconnectMax <= 0 {
		c.Feed.ReconnectMax = 60 * time.Second
	}
	if c.Feed.TickBufferSize <= 0 {
		c.Feed.TickBufferSize = 1024
	}

	if c.Signals.HistorySize <= 0 {
		c.Signals.HistorySize = 100
	}
	if c.Signals.VolMultiplier <= 0 {
		c.Signals.VolMultiplier = 1.5
	}
	if c.Signals.StopMultiplier <= 0 {
		c.Signals.StopMultiplier = 1.5
	}
	if c.Signals.TPMultipliers == [3]float64{} {
		c.Signals.TPMultipliers = [3]float64{2, 3, 4}
	}
	if c.Signals.Leverage <= 0 {
		c.Signals.Leverage = 5
	}
	if c.Signals.Path == "" {
		c.Signals.Path = "data/signals.jsonl"
	}

	if c.Engine.Symbol == "" {
		c.Engine.Symbol = "SOL-PERP"
	}
	if c.Engine.Venue == "" {
		c.Engine.Venue = "paper"
	}
	if c.Engine.MaxLeverage <= 0 {
		c.Engine.MaxLeverage = 10
	}
	if c.Engine.RiskFraction <= 0 {
		c.Engine.RiskFraction = 0.0075
	}
	if c.Engine.FeeBps <= 0 {
		c.Engine.FeeBps = 6
	}
	if c.Engine.MaxAttempts <= 0 {
		c.Engine.MaxAttempts = 2
	}
	if c.Engine.MaintenanceMargin <= 0 {
		c.Engine.MaintenanceMargin = 0.03
	}
	if c.Engine.CallTimeout <= 0 {
		c.Engine.CallTimeout = 30 * time.Second
	}
	if c.Engine.RepriceToleranceBps <= 0 {
		c.Engine.RepriceToleranceBps = 15
	}
	if c.Engine.EventsPath == "" {
		c.Engine.EventsPath = "data/events.jsonl"
	}

	if c.Guards.Source == "" {
		c.Guards.Source = "static"
	}
	if c.Guards.Timeout <= 0 {
		c.Guards.Timeout = 5 * time.Second
	}
	c.Guards.Thresholds.MaxLeverage = c.Engine.MaxLeverage
	c.Guards.Thresholds = c.Guards.Thresholds.WithDefaults()

	if c.Drift.GatewayURL == "" {
		c.Drift.GatewayURL = "http://localhost:8080"
	}
	if c.Drift.TickSize == "" {
		c.Drift.TickSize = "0.001"
	}
	if c.Drift.StepSize == "" {
		c.Drift.StepSize = "0.01"
	}
	if c.Drift.RateLimit <= 0 {
		c.Drift.RateLimit = 5
	}
	if c.Wallet.KeyEnv == "" {
		c.Wallet.KeyEnv = "DRIFT_DELEGATE_KEY_BASE58"
	}

	if c.API.Addr == "" {
		c.API.Addr = ":8001"
	}
	if c.API.ActivityLimit <= 0 {
		c.API.ActivityLimit = 100
	}

	if c.Paper.StartingCollateral <= 0 {
		c.Paper.StartingCollateral = 10000
	}
}

// Load reads a YAML file from disk, hydrates a Config struct and applies defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.ApplyEnv()
	config.ApplyDefaults()
	return &config, nil
}

// EnvPrefix namespaces environment overrides, e.g. AT1000_DRIFT_GATEWAY_URL.
const EnvPrefix = "AT1000"

// ApplyEnv overrides endpoint and mode settings from AT1000_* environment variables.
func (c *Config) ApplyEnv() {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	strs := map[string]*string{
		"app.log_level":     &c.App.LogLevel,
		"app.metrics_addr":  &c.App.MetricsAddr,
		"feed.provider":     &c.Feed.Provider,
		"feed.symbol":       &c.Feed.Symbol,
		"engine.venue":      &c.Engine.Venue,
		"guards.source":     &c.Guards.Source,
		"guards.base_url":   &c.Guards.BaseURL,
		"drift.gateway_url": &c.Drift.GatewayURL,
		"drift.rpc_url":     &c.Drift.RpcURL,
		"wallet.key_env":    &c.Wallet.KeyEnv,
		"api.addr":          &c.API.Addr,
	}
	for key, dst := range strs {
		if val := v.GetString(key); val != "" {
			*dst = val
		}
	}
	if v.IsSet("drift.market_index") {
		c.Drift.MarketIndex = v.GetInt("drift.market_index")
	}
}

// Default returns a config populated only with defaults.
func Default() *Config {
	var c Config
	c.ApplyDefaults()
	return &c
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
