// Package config provides configuration management for the trading application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	apperrors "spread-trader/internal/errors"
	"spread-trader/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Strategy    StrategyConfig  `mapstructure:"strategy"`
	Execution   ExecutionConfig `mapstructure:"execution"`
	Backtest    BacktestConfig  `mapstructure:"backtest"`
	Log         LogConfig       `mapstructure:"log"`
	Credentials Credentials     `mapstructure:"-"` // Loaded separately
}

// StrategyConfig holds the strategy parameters. It is loaded once per run and
// immutable for the run's duration.
type StrategyConfig struct {
	Underlying  string  `mapstructure:"underlying"`   // NIFTY, BANKNIFTY
	Capital     float64 `mapstructure:"capital"`      // total trading capital
	RiskPct     float64 `mapstructure:"risk_pct"`     // fraction of capital at risk per trade, (0,1]
	SpreadWidth float64 `mapstructure:"spread_width"` // points between buy and sell strikes
	EntryTime   string  `mapstructure:"entry_time"`   // HH:MM in exchange timezone
	ExitTime    string  `mapstructure:"exit_time"`    // HH:MM in exchange timezone
	Timezone    string  `mapstructure:"timezone"`     // exchange timezone, default Asia/Kolkata
	Mode        string  `mapstructure:"mode"`         // backtest, paper, live
	StrikeStep  float64 `mapstructure:"strike_step"`  // listed strike interval
	LotSize     int     `mapstructure:"lot_size"`     // contracts per lot
}

// ExecutionConfig holds fill simulation and order lifecycle parameters.
type ExecutionConfig struct {
	SlippagePoints      float64       `mapstructure:"slippage_points"`       // added to buys, subtracted from sells
	BrokeragePerOrder   float64       `mapstructure:"brokerage_per_order"`   // flat fee per leg order
	FillTimeout         time.Duration `mapstructure:"fill_timeout"`          // budget for a leg fill confirmation
	EntryToleranceSec   int           `mapstructure:"entry_tolerance_sec"`   // accept first observation within N seconds of entry_time
	ExpectedCadence     time.Duration `mapstructure:"expected_cadence"`      // expected observation interval; gaps beyond pause evaluation
	PartialFillsEnabled bool          `mapstructure:"partial_fills_enabled"` // model liquidity-constrained partial fills
	LiquiditySeed       int64         `mapstructure:"liquidity_seed"`        // seed for the deterministic partial-fill model
	AssumedDepth        int           `mapstructure:"assumed_depth"`         // contracts fillable per observation when partial fills are on
}

// BacktestConfig holds the historical replay range.
type BacktestConfig struct {
	FromDate string `mapstructure:"from_date"` // YYYY-MM-DD
	ToDate   string `mapstructure:"to_date"`   // YYYY-MM-DD
	DataDir  string `mapstructure:"data_dir"`  // CSV candle directory, optional
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
}

// Credentials holds API credentials.
type Credentials struct {
	Kite KiteCredentials `mapstructure:"kite"`
}

// KiteCredentials holds Zerodha Kite Connect API credentials.
type KiteCredentials struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	UserID     string `mapstructure:"user_id"`
	TOTPSecret string `mapstructure:"totp_secret"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/spread-trader"
	}
	return filepath.Join(home, ".config", "spread-trader")
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Strategy: StrategyConfig{
			Underlying:  "NIFTY",
			Capital:     100000,
			RiskPct:     0.02,
			SpreadWidth: 300,
			EntryTime:   "09:25",
			ExitTime:    "15:20",
			Timezone:    "Asia/Kolkata",
			Mode:        string(models.ModePaper),
			StrikeStep:  50,
			LotSize:     75,
		},
		Execution: ExecutionConfig{
			SlippagePoints:    0.5,
			BrokeragePerOrder: 20,
			FillTimeout:       30 * time.Second,
			EntryToleranceSec: 120,
			ExpectedCadence:   time.Minute,
			AssumedDepth:      1800,
		},
		Backtest: BacktestConfig{
			FromDate: "2025-01-01",
			ToDate:   "2025-01-31",
		},
		Log: LogConfig{Level: "info", Console: true, File: true},
	}
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := Default()

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateConfig(configDir)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_API_SECRET"); v != "" {
		cfg.Credentials.Kite.APISecret = v
	}
	if v := os.Getenv("KITE_USER_ID"); v != "" {
		cfg.Credentials.Kite.UserID = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Strategy.Mode = v
	}
}

// Validate validates the configuration. Any violation fails the run at start;
// values are never silently clamped.
func (c *Config) Validate() error {
	s := c.Strategy

	if !models.RunMode(s.Mode).Valid() {
		return apperrors.NewValidationError("strategy.mode", s.Mode, "must be backtest, paper or live")
	}
	if s.Underlying == "" {
		return apperrors.NewValidationError("strategy.underlying", s.Underlying, "is required")
	}
	if s.Capital <= 0 {
		return apperrors.NewValidationError("strategy.capital", s.Capital, "must be positive")
	}
	if s.RiskPct <= 0 || s.RiskPct > 1 {
		return apperrors.NewValidationError("strategy.risk_pct", s.RiskPct, "must be in (0, 1]")
	}
	if s.SpreadWidth <= 0 {
		return apperrors.NewValidationError("strategy.spread_width", s.SpreadWidth, "must be positive")
	}
	if s.StrikeStep <= 0 {
		return apperrors.NewValidationError("strategy.strike_step", s.StrikeStep, "must be positive")
	}
	if s.LotSize <= 0 {
		return apperrors.NewValidationError("strategy.lot_size", s.LotSize, "must be positive")
	}

	entry, err := ParseClock(s.EntryTime)
	if err != nil {
		return apperrors.NewValidationError("strategy.entry_time", s.EntryTime, "must be HH:MM")
	}
	exit, err := ParseClock(s.ExitTime)
	if err != nil {
		return apperrors.NewValidationError("strategy.exit_time", s.ExitTime, "must be HH:MM")
	}
	if !entry.Before(exit) {
		return apperrors.NewValidationError("strategy.exit_time", s.ExitTime, "must be after entry_time")
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return apperrors.NewValidationError("strategy.timezone", s.Timezone, "unknown timezone")
	}

	e := c.Execution
	if e.SlippagePoints < 0 {
		return apperrors.NewValidationError("execution.slippage_points", e.SlippagePoints, "must be non-negative")
	}
	if e.BrokeragePerOrder < 0 {
		return apperrors.NewValidationError("execution.brokerage_per_order", e.BrokeragePerOrder, "must be non-negative")
	}
	if e.FillTimeout <= 0 {
		return apperrors.NewValidationError("execution.fill_timeout", e.FillTimeout, "must be positive")
	}
	if e.EntryToleranceSec < 0 {
		return apperrors.NewValidationError("execution.entry_tolerance_sec", e.EntryToleranceSec, "must be non-negative")
	}
	if e.PartialFillsEnabled && e.AssumedDepth <= 0 {
		return apperrors.NewValidationError("execution.assumed_depth", e.AssumedDepth, "must be positive when partial fills are enabled")
	}

	return nil
}

// Mode returns the configured run mode.
func (c *Config) Mode() models.RunMode {
	return models.RunMode(c.Strategy.Mode)
}

// Location returns the exchange timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Strategy.Timezone)
	if err != nil {
		loc, _ = time.LoadLocation("Asia/Kolkata")
	}
	return loc
}

// ClockTime is a wall-clock time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses an HH:MM string.
func ParseClock(s string) (ClockTime, error) {
	var ct ClockTime
	if _, err := fmt.Sscanf(s, "%d:%d", &ct.Hour, &ct.Minute); err != nil {
		return ct, fmt.Errorf("parsing %q: %w", s, err)
	}
	if ct.Hour < 0 || ct.Hour > 23 || ct.Minute < 0 || ct.Minute > 59 {
		return ct, fmt.Errorf("out of range: %q", s)
	}
	return ct, nil
}

// Before reports whether ct is earlier in the day than other.
func (ct ClockTime) Before(other ClockTime) bool {
	if ct.Hour != other.Hour {
		return ct.Hour < other.Hour
	}
	return ct.Minute < other.Minute
}

// At anchors the clock time on the given date in the given location.
func (ct ClockTime) At(date time.Time, loc *time.Location) time.Time {
	d := date.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), ct.Hour, ct.Minute, 0, 0, loc)
}
