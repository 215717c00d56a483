package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/model"
	"github.com/aptpay/defi-engine/internal/store"
)

// PoolSeed is a liquidity pool created from the starting balances when the
// engine is built.
type PoolSeed struct {
	TokenA  string
	TokenB  string
	AmountA decimal.Decimal
	AmountB decimal.Decimal
}

// Config carries everything needed to build an engine.
type Config struct {
	// QuoteAsset settles margin, premiums and order cost.
	QuoteAsset string

	// Markets seeds the feed. Supply is used for market cap.
	Markets []model.Quote

	// Balances seeds the ledger.
	Balances map[string]decimal.Decimal

	// Pools are created at startup, funded from Balances.
	Pools []PoolSeed

	// TickInterval is the feed cadence used by Start.
	TickInterval time.Duration

	// MatchDelay is how long after placement a limit order gets its first
	// match check.
	MatchDelay time.Duration

	// Risk limits. Zero disables the notional caps.
	MaxLeverage       decimal.Decimal
	MaxPerSymbol      decimal.Decimal
	MaxCorrelated     decimal.Decimal
	CorrelationGroups map[string]string

	// Pool registry tuning.
	FeeRate     decimal.Decimal
	StrictRatio bool
}

// Default cadences and limits.
const (
	DefaultTickInterval = 5 * time.Second
	DefaultMatchDelay   = time.Second
)

// DefaultMaxLeverage caps position leverage.
var DefaultMaxLeverage = decimal.NewFromInt(100)

// DefaultConfig returns a small demo market: APT, BTC, ETH and SOL quoted
// in USDC, with a funded wallet.
func DefaultConfig() Config {
	d := decimal.RequireFromString
	return Config{
		QuoteAsset: "USDC",
		Markets: []model.Quote{
			{Symbol: "APT", Price: d("8.45"), Volume24h: d("125000000"), Supply: d("1000000000")},
			{Symbol: "BTC", Price: d("43250"), Volume24h: d("15000000000"), Supply: d("19600000")},
			{Symbol: "ETH", Price: d("2650"), Volume24h: d("8000000000"), Supply: d("120000000")},
			{Symbol: "SOL", Price: d("98.5"), Volume24h: d("2000000000"), Supply: d("440000000")},
		},
		Balances: map[string]decimal.Decimal{
			"USDC": d("10000"),
			"APT":  d("1000"),
			"BTC":  d("0.5"),
			"ETH":  d("5"),
			"SOL":  d("50"),
		},
		TickInterval: DefaultTickInterval,
		MatchDelay:   DefaultMatchDelay,
		MaxLeverage:  DefaultMaxLeverage,
	}
}

// withDefaults fills zero cadences and limits.
func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.MatchDelay <= 0 {
		c.MatchDelay = DefaultMatchDelay
	}
	if c.MaxLeverage.IsZero() {
		c.MaxLeverage = DefaultMaxLeverage
	}
	return c
}

// Publisher receives quotes after every tick and journal entries after
// every settled mutation. Implementations must not call back into the
// engine synchronously.
type Publisher interface {
	PublishQuotes(ctx context.Context, quotes []model.Quote) error
	PublishEntry(ctx context.Context, entry model.JournalEntry) error
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand sets the random source driving the feed.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithJournal sets the activity journal sink.
func WithJournal(j store.Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithPublisher adds a publisher. May be given more than once.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publishers = append(e.publishers, p) }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}
