package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/papertrader/broker"
	"github.com/rustyeddy/papertrader/internal/clock"
	"github.com/rustyeddy/papertrader/internal/cronrunner"
	"github.com/rustyeddy/papertrader/internal/logger"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/risk"
	"github.com/rustyeddy/papertrader/sim"
)

// Config is the complete service configuration
type Config struct {
	Mode      string          `json:"mode" yaml:"mode"` // "paper" or "live"
	Account   AccountConfig   `json:"account" yaml:"account"`
	Risk      risk.Limits     `json:"risk" yaml:"risk"`
	SquareOff SquareOffConfig `json:"square_off" yaml:"square_off"`
	Market    MarketConfig    `json:"market" yaml:"market"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	API       APIConfig       `json:"api" yaml:"api"`
	Feed      FeedConfig      `json:"feed" yaml:"feed"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// AccountConfig seeds every new tenant account
type AccountConfig struct {
	InitialCapital decimal.Decimal `json:"initial_capital" yaml:"initial_capital"`
}

type SquareOffConfig struct {
	Cutoff   string `json:"cutoff" yaml:"cutoff"`     // "15:15"
	Timezone string `json:"timezone" yaml:"timezone"` // IANA zone of the exchange
	Schedule string `json:"schedule" yaml:"schedule"` // cron spec with seconds
}

type MarketConfig struct {
	// Instruments limits tradable symbols; empty admits any valid symbol.
	Instruments  []string `json:"instruments,omitempty" yaml:"instruments,omitempty"`
	PriceTimeout string   `json:"price_timeout" yaml:"price_timeout"` // e.g. "2s"
	TickMaxAge   string   `json:"tick_max_age" yaml:"tick_max_age"`   // "0" disables staleness
	TickBuffer   int      `json:"tick_buffer" yaml:"tick_buffer"`
}

type StorageConfig struct {
	// DBPath is the SQLite file; empty keeps state in memory.
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type APIConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	JWTSecret string `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty"`
}

type FeedConfig struct {
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`
	Reconnect string `json:"reconnect" yaml:"reconnect"`
}

type LogConfig struct {
	Level       string `json:"level" yaml:"level"`
	Encoding    string `json:"encoding" yaml:"encoding"`
	Development bool   `json:"development" yaml:"development"`
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

func (m MarketConfig) PriceTimeoutDuration() (time.Duration, error) {
	return parseDuration("market.price_timeout", m.PriceTimeout)
}

func (m MarketConfig) TickMaxAgeDuration() (time.Duration, error) {
	return parseDuration("market.tick_max_age", m.TickMaxAge)
}

func (f FeedConfig) ReconnectDuration() (time.Duration, error) {
	return parseDuration("feed.reconnect", f.Reconnect)
}

func (s SquareOffConfig) ParseCutoff() (clock.Cutoff, error) {
	return clock.ParseCutoff(s.Cutoff, s.Timezone)
}

func (l LogConfig) Options() logger.Options {
	return logger.Options{Level: l.Level, Encoding: l.Encoding, Development: l.Development}
}

// Engine builds the per-tenant engine configuration
func (c *Config) Engine() (sim.Config, error) {
	timeout, err := c.Market.PriceTimeoutDuration()
	if err != nil {
		return sim.Config{}, err
	}
	return sim.Config{
		InitialCapital: c.Account.InitialCapital,
		Limits:         c.Risk,
		PriceTimeout:   timeout,
		TickBuffer:     c.Market.TickBuffer,
		Universe:       market.NewUniverse(c.Market.Instruments),
	}, nil
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON).
// Missing fields keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (YAML for .yaml/.yml, JSON otherwise)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := broker.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("mode must be 'paper' or 'live'")
	}
	if !c.Account.InitialCapital.IsPositive() {
		return fmt.Errorf("account.initial_capital must be positive")
	}
	if c.Risk.MaxLossPerDay.IsNegative() {
		return fmt.Errorf("risk.max_loss_per_day must not be negative")
	}
	if c.Risk.MaxPositions < 0 {
		return fmt.Errorf("risk.max_positions must not be negative")
	}
	if c.Risk.MaxTradesPerDay < 0 {
		return fmt.Errorf("risk.max_trades_per_day must not be negative")
	}
	if _, err := c.SquareOff.ParseCutoff(); err != nil {
		return fmt.Errorf("square_off: %w", err)
	}
	if err := cronrunner.Validate(c.SquareOff.Schedule); err != nil {
		return fmt.Errorf("square_off.schedule: %w", err)
	}
	for _, s := range c.Market.Instruments {
		if _, ok := market.NormalizeInstrument(s); !ok {
			return fmt.Errorf("market.instruments: invalid symbol %q", s)
		}
	}
	if _, err := c.Market.PriceTimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Market.TickMaxAgeDuration(); err != nil {
		return err
	}
	if c.Market.TickBuffer < 0 {
		return fmt.Errorf("market.tick_buffer must not be negative")
	}
	if c.API.Addr == "" {
		return fmt.Errorf("api.addr is required")
	}
	if _, err := c.Feed.ReconnectDuration(); err != nil {
		return err
	}
	if e := c.Log.Encoding; e != "" && e != "json" && e != "console" {
		return fmt.Errorf("log.encoding must be 'json' or 'console'")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Mode: string(broker.ModePaper),
		Account: AccountConfig{
			InitialCapital: decimal.NewFromInt(100000),
		},
		Risk: risk.Limits{
			MaxLossPerDay:   decimal.NewFromInt(5000),
			MaxPositions:    10,
			MaxTradesPerDay: 50,
		},
		SquareOff: SquareOffConfig{
			Cutoff:   "15:15",
			Timezone: "Asia/Kolkata",
			Schedule: "0 * * * * *",
		},
		Market: MarketConfig{
			PriceTimeout: "2s",
			TickMaxAge:   "0",
			TickBuffer:   sim.DefaultTickBuffer,
		},
		Storage: StorageConfig{
			DBPath: "./papertrader.db",
		},
		API: APIConfig{
			Addr: ":8080",
		},
		Feed: FeedConfig{
			Reconnect: "5s",
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}
