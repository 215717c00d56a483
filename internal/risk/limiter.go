// Package risk implements the position limits checked before a leveraged
// position is opened.
//
// Exposure is leveraged notional (size × entry price × leverage) in the quote
// asset. Symbols can be placed in a correlation group, e.g. BTC and ETH in
// "majors"; the group cap then bounds the sum across every member.
package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/model"
)

var (
	// ErrLeverageExceeded is returned when leverage is above MaxLeverage.
	ErrLeverageExceeded = fmt.Errorf("%w: leverage above maximum", model.ErrLimitExceeded)

	// ErrPerSymbolLimitExceeded is returned when a position would push a
	// single symbol's exposure beyond MaxPerSymbol.
	ErrPerSymbolLimitExceeded = fmt.Errorf("%w: per-symbol exposure limit", model.ErrLimitExceeded)

	// ErrCorrelatedLimitExceeded is returned when a position would push the
	// aggregate exposure of a correlation group beyond MaxCorrelated.
	ErrCorrelatedLimitExceeded = fmt.Errorf("%w: correlated exposure limit", model.ErrLimitExceeded)

	errBadLeverage = errors.New("leverage must be at least 1")
)

// Limiter enforces leverage and exposure caps. A zero cap disables that
// check.
type Limiter struct {
	// MaxLeverage is the highest leverage a position may be opened with.
	MaxLeverage decimal.Decimal

	// MaxPerSymbol caps the absolute exposure in any single symbol.
	MaxPerSymbol decimal.Decimal

	// MaxCorrelated caps the summed absolute exposure of all symbols that
	// share a group.
	MaxCorrelated decimal.Decimal

	// Groups maps symbol → correlation group. Ungrouped symbols form a
	// group of one.
	Groups map[string]string
}

// NewLimiter creates a limiter with the given caps.
func NewLimiter(maxLeverage, maxPerSymbol, maxCorrelated decimal.Decimal, groups map[string]string) *Limiter {
	if groups == nil {
		groups = map[string]string{}
	}
	return &Limiter{
		MaxLeverage:   maxLeverage,
		MaxPerSymbol:  maxPerSymbol,
		MaxCorrelated: maxCorrelated,
		Groups:        groups,
	}
}

// Exposure returns the leveraged notional of a position.
func Exposure(size, price, leverage decimal.Decimal) decimal.Decimal {
	return size.Mul(price).Mul(leverage)
}

// CheckLeverage validates leverage against [1, MaxLeverage].
func (l *Limiter) CheckLeverage(leverage decimal.Decimal) error {
	if leverage.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: %v", model.ErrInvalidArgument, errBadLeverage)
	}
	if l.MaxLeverage.IsPositive() && leverage.GreaterThan(l.MaxLeverage) {
		return fmt.Errorf("%w (%s > %s)", ErrLeverageExceeded, leverage, l.MaxLeverage)
	}
	return nil
}

// CheckLimit validates whether adding exposureDelta in symbol respects the
// caps, given the existing exposure per symbol.
func (l *Limiter) CheckLimit(
	symbol string,
	exposureDelta decimal.Decimal,
	existing map[string]decimal.Decimal,
) error {
	// 1. Per-symbol limit.
	next := existing[symbol].Add(exposureDelta)
	if l.MaxPerSymbol.IsPositive() && next.Abs().GreaterThan(l.MaxPerSymbol) {
		return ErrPerSymbolLimitExceeded
	}

	if !l.MaxCorrelated.IsPositive() {
		return nil
	}

	// 2. Correlated exposure: sum |exposure| across the symbol's group.
	group := l.group(symbol)
	total := next.Abs()
	for sym, exp := range existing {
		if sym == symbol {
			continue // already counted via next
		}
		if l.group(sym) == group {
			total = total.Add(exp.Abs())
		}
	}
	if total.GreaterThan(l.MaxCorrelated) {
		return ErrCorrelatedLimitExceeded
	}
	return nil
}

func (l *Limiter) group(symbol string) string {
	if g, ok := l.Groups[symbol]; ok {
		return g
	}
	return symbol
}
