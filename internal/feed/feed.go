// Package feed maintains one quote per tracked symbol and advances them with a
// bounded random walk. The feed has no timer of its own: the engine owns the
// cadence and calls Tick under its lock.
package feed

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/model"
)

const (
	// MaxMove bounds the per-tick price move to ±2%.
	MaxMove = 0.02

	// ChangeRange bounds the displayed 24h change to ±5%.
	ChangeRange = 0.05

	// VolumeJitter bounds the per-tick 24h volume perturbation to ±1%.
	VolumeJitter = 0.01
)

// floorRatio is the crash damper: a tick never takes the price below 98% of
// the previous one.
var floorRatio = decimal.NewFromFloat(0.98)

// Feed holds the current quotes. Not safe for concurrent use.
type Feed struct {
	quotes map[string]model.Quote
	rng    *rand.Rand
	now    func() time.Time
}

// New validates the seed quotes and builds a feed. rng and now must be
// non-nil; pass a seeded source for reproducible walks.
func New(seed []model.Quote, rng *rand.Rand, now func() time.Time) (*Feed, error) {
	f := &Feed{
		quotes: make(map[string]model.Quote, len(seed)),
		rng:    rng,
		now:    now,
	}
	for _, q := range seed {
		if q.Symbol == "" {
			return nil, fmt.Errorf("%w: quote without symbol", model.ErrInvalidArgument)
		}
		if !q.Price.IsPositive() {
			return nil, fmt.Errorf("%w: %s price must be positive", model.ErrInvalidArgument, q.Symbol)
		}
		if _, dup := f.quotes[q.Symbol]; dup {
			return nil, fmt.Errorf("%w: duplicate quote for %s", model.ErrInvalidArgument, q.Symbol)
		}
		if q.High24h.LessThan(q.Price) {
			q.High24h = q.Price
		}
		if q.Low24h.IsZero() || q.Low24h.GreaterThan(q.Price) {
			q.Low24h = q.Price
		}
		if q.Supply.IsPositive() {
			q.MarketCap = q.Price.Mul(q.Supply).Round(2)
		}
		if q.LastUpdate.IsZero() {
			q.LastUpdate = now()
		}
		f.quotes[q.Symbol] = q
	}
	return f, nil
}

// Tick advances every symbol by one step and returns the post-tick quotes.
// All symbols are updated before the caller gets to read any of them.
func (f *Feed) Tick() []model.Quote {
	ts := f.now()
	for _, sym := range f.symbols() {
		f.quotes[sym] = f.step(f.quotes[sym], ts)
	}
	return f.Quotes()
}

// step draws one random-walk move for q.
func (f *Feed) step(q model.Quote, ts time.Time) model.Quote {
	vol := f.uniform(MaxMove)
	next := q.Price.Mul(decimal.NewFromFloat(1 + vol)).Round(model.PriceScale)
	if floor := q.Price.Mul(floorRatio); next.LessThan(floor) {
		next = floor.Round(model.PriceScale)
	}
	if next.IsPositive() {
		q.Price = next
	}

	q.Change24h = decimal.NewFromFloat(f.uniform(ChangeRange) * 100).Round(2)
	if q.Volume24h.IsPositive() {
		q.Volume24h = q.Volume24h.Mul(decimal.NewFromFloat(1 + f.uniform(VolumeJitter))).Round(2)
	}
	if q.Price.GreaterThan(q.High24h) {
		q.High24h = q.Price
	}
	if q.Price.LessThan(q.Low24h) {
		q.Low24h = q.Price
	}
	if q.Supply.IsPositive() {
		q.MarketCap = q.Price.Mul(q.Supply).Round(2)
	}
	q.LastUpdate = ts
	return q
}

// uniform draws from [-bound, +bound].
func (f *Feed) uniform(bound float64) float64 {
	return (f.rng.Float64()*2 - 1) * bound
}

// Quote returns the current quote for symbol.
func (f *Feed) Quote(symbol string) (model.Quote, error) {
	q, ok := f.quotes[symbol]
	if !ok {
		return model.Quote{}, fmt.Errorf("%w: no quote for %s", model.ErrInvalidMarket, symbol)
	}
	return q, nil
}

// Price returns the current price for symbol.
func (f *Feed) Price(symbol string) (decimal.Decimal, error) {
	q, err := f.Quote(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Price, nil
}

// Has reports whether symbol is tracked.
func (f *Feed) Has(symbol string) bool {
	_, ok := f.quotes[symbol]
	return ok
}

// SetPrice overrides the price of a tracked symbol, widening the 24h range
// as needed.
func (f *Feed) SetPrice(symbol string, price decimal.Decimal) (model.Quote, error) {
	q, ok := f.quotes[symbol]
	if !ok {
		return model.Quote{}, fmt.Errorf("%w: no quote for %s", model.ErrInvalidMarket, symbol)
	}
	if !price.IsPositive() {
		return model.Quote{}, fmt.Errorf("%w: price must be positive", model.ErrInvalidArgument)
	}
	q.Price = price
	if price.GreaterThan(q.High24h) {
		q.High24h = price
	}
	if price.LessThan(q.Low24h) {
		q.Low24h = price
	}
	if q.Supply.IsPositive() {
		q.MarketCap = price.Mul(q.Supply).Round(2)
	}
	q.LastUpdate = f.now()
	f.quotes[symbol] = q
	return q, nil
}

// Quotes returns all quotes sorted by symbol.
func (f *Feed) Quotes() []model.Quote {
	out := make([]model.Quote, 0, len(f.quotes))
	for _, sym := range f.symbols() {
		out = append(out, f.quotes[sym])
	}
	return out
}

// Prices returns a symbol → price snapshot for mark-to-market passes.
func (f *Feed) Prices() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(f.quotes))
	for sym, q := range f.quotes {
		out[sym] = q.Price
	}
	return out
}

func (f *Feed) symbols() []string {
	syms := make([]string, 0, len(f.quotes))
	for s := range f.quotes {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}
