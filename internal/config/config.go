// Package config loads the server and engine settings: built-in defaults,
// then an optional YAML seed file, then the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/aptpay/defi-engine/internal/amm"
	"github.com/aptpay/defi-engine/internal/engine"
	"github.com/aptpay/defi-engine/internal/model"
)

// Environment variables read by Load.
const (
	EnvPort         = "PORT"
	EnvDatabaseURL  = "DATABASE_URL"
	EnvRedisURL     = "REDIS_URL"
	EnvEngineConfig = "ENGINE_CONFIG"
	EnvTickInterval = "TICK_INTERVAL"
)

// Config represents the complete service configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Engine EngineConfig `yaml:"engine"`
}

// ServerConfig contains the HTTP listener and storage endpoints.
type ServerConfig struct {
	Port             string `yaml:"port"`
	DatabaseURL      string `yaml:"database_url,omitempty"`
	RedisURL         string `yaml:"redis_url,omitempty"`
	JournalCacheSize int    `yaml:"journal_cache_size"`
}

// EngineConfig contains the simulation seed and tuning.
type EngineConfig struct {
	QuoteAsset        string                     `yaml:"quote_asset"`
	TickInterval      time.Duration              `yaml:"tick_interval"`
	MatchDelay        time.Duration              `yaml:"match_delay"`
	FeeRate           decimal.Decimal            `yaml:"fee_rate"`
	StrictRatio       bool                       `yaml:"strict_ratio"`
	MaxLeverage       decimal.Decimal            `yaml:"max_leverage"`
	MaxPerSymbol      decimal.Decimal            `yaml:"max_per_symbol"`
	MaxCorrelated     decimal.Decimal            `yaml:"max_correlated"`
	CorrelationGroups map[string]string          `yaml:"correlation_groups,omitempty"`
	Markets           []MarketConfig             `yaml:"markets"`
	Balances          map[string]decimal.Decimal `yaml:"balances"`
	Pools             []PoolConfig               `yaml:"pools,omitempty"`
}

// MarketConfig seeds one feed symbol.
type MarketConfig struct {
	Symbol    string          `yaml:"symbol"`
	Price     decimal.Decimal `yaml:"price"`
	Volume24h decimal.Decimal `yaml:"volume_24h"`
	Supply    decimal.Decimal `yaml:"supply"`
}

// PoolConfig seeds one liquidity pool from the starting balances.
type PoolConfig struct {
	TokenA  string          `yaml:"token_a"`
	TokenB  string          `yaml:"token_b"`
	AmountA decimal.Decimal `yaml:"amount_a"`
	AmountB decimal.Decimal `yaml:"amount_b"`
}

// DefaultJournalCacheSize is how many recent journal entries Redis keeps.
const DefaultJournalCacheSize = 200

// Default returns the built-in configuration: the demo market on port 8080
// with an in-memory journal.
func Default() *Config {
	ec := engine.DefaultConfig()
	cfg := &Config{
		Server: ServerConfig{
			Port:             "8080",
			JournalCacheSize: DefaultJournalCacheSize,
		},
		Engine: EngineConfig{
			QuoteAsset:   ec.QuoteAsset,
			TickInterval: ec.TickInterval,
			MatchDelay:   ec.MatchDelay,
			FeeRate:      amm.DefaultFeeRate,
			StrictRatio:  ec.StrictRatio,
			MaxLeverage:  ec.MaxLeverage,
			Balances:     ec.Balances,
		},
	}
	for _, q := range ec.Markets {
		cfg.Engine.Markets = append(cfg.Engine.Markets, MarketConfig{
			Symbol:    q.Symbol,
			Price:     q.Price,
			Volume24h: q.Volume24h,
			Supply:    q.Supply,
		})
	}
	return cfg
}

// Load builds the configuration. path names a YAML seed file; when empty,
// ENGINE_CONFIG is consulted. A .env file in the working directory is
// loaded first without overriding variables already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvEngineConfig)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// Maps decode into existing values key by key; a file that lists
		// balances replaces the defaults instead of merging with them.
		balances := cfg.Engine.Balances
		cfg.Engine.Balances = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if cfg.Engine.Balances == nil {
			cfg.Engine.Balances = balances
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvPort); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Server.DatabaseURL = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Server.RedisURL = v
	}
	if v := os.Getenv(EnvTickInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTickInterval, err)
		}
		c.Engine.TickInterval = d
	}
	return nil
}

// Validate checks the configuration for values the engine cannot start
// with. Market and balance semantics are checked again by engine.New.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Server.JournalCacheSize < 0 {
		return errors.New("server.journal_cache_size must not be negative")
	}
	if strings.TrimSpace(c.Engine.QuoteAsset) == "" {
		return errors.New("engine.quote_asset is required")
	}
	if c.Engine.TickInterval < 0 || c.Engine.MatchDelay < 0 {
		return errors.New("engine cadences must not be negative")
	}
	if len(c.Engine.Markets) == 0 {
		return errors.New("engine.markets must list at least one symbol")
	}
	for _, m := range c.Engine.Markets {
		if !m.Price.IsPositive() {
			return fmt.Errorf("engine.markets: %s price must be positive", m.Symbol)
		}
	}
	if c.Engine.FeeRate.IsNegative() || c.Engine.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("engine.fee_rate must be in [0, 1)")
	}
	return nil
}

// EngineConfig converts the file form into an engine.Config.
func (c *Config) EngineConfig() engine.Config {
	ec := engine.Config{
		QuoteAsset:        c.Engine.QuoteAsset,
		Balances:          make(map[string]decimal.Decimal, len(c.Engine.Balances)),
		TickInterval:      c.Engine.TickInterval,
		MatchDelay:        c.Engine.MatchDelay,
		MaxLeverage:       c.Engine.MaxLeverage,
		MaxPerSymbol:      c.Engine.MaxPerSymbol,
		MaxCorrelated:     c.Engine.MaxCorrelated,
		CorrelationGroups: c.Engine.CorrelationGroups,
		FeeRate:           c.Engine.FeeRate,
		StrictRatio:       c.Engine.StrictRatio,
	}
	for _, m := range c.Engine.Markets {
		ec.Markets = append(ec.Markets, model.Quote{
			Symbol:    m.Symbol,
			Price:     m.Price,
			Volume24h: m.Volume24h,
			Supply:    m.Supply,
		})
	}
	for asset, amt := range c.Engine.Balances {
		ec.Balances[asset] = amt
	}
	for _, p := range c.Engine.Pools {
		ec.Pools = append(ec.Pools, engine.PoolSeed{
			TokenA:  p.TokenA,
			TokenB:  p.TokenB,
			AmountA: p.AmountA,
			AmountB: p.AmountB,
		})
	}
	return ec
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
