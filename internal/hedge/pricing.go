// Package hedge implements option-like hedge instruments: PUT, CALL,
// STRADDLE and COLLAR bought for an upfront premium and marked to market
// against the feed until they are closed or expire.
//
// Pricing is deliberately simple and not regulatory grade:
//
//	days    = max(0, (expiry - now) / 1 day)
//	factor  = max(0.1, days / 30)
//	premium = (amount × 0.02 + factor) × amount
//	value   = payoff(kind, strike, price) × amount × factor
//
// The floor of 0.1 on factor keeps a residual value at and after expiry.
package hedge

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/model"
)

var (
	intrinsicRate = decimal.NewFromFloat(0.02)
	minDecay      = decimal.NewFromFloat(0.1)
	decayHorizon  = decimal.NewFromInt(30)
	msPerDay      = decimal.NewFromInt(86_400_000)
)

// DaysToExpiry returns the fractional days left until expiry, never negative.
func DaysToExpiry(expiry, now time.Time) decimal.Decimal {
	ms := expiry.Sub(now).Milliseconds()
	if ms <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(ms).Div(msPerDay)
}

// DecayFactor is max(0.1, days/30).
func DecayFactor(expiry, now time.Time) decimal.Decimal {
	f := DaysToExpiry(expiry, now).Div(decayHorizon)
	if f.LessThan(minDecay) {
		return minDecay
	}
	return f
}

// Premium returns the upfront cost of a hedge on amount units.
func Premium(amount decimal.Decimal, expiry, now time.Time) decimal.Decimal {
	intrinsic := amount.Mul(intrinsicRate)
	return intrinsic.Add(DecayFactor(expiry, now)).Mul(amount).Round(model.PriceScale)
}

// Payoff returns the per-unit payoff of kind at price. COLLAR is not
// modelled and is always worth zero.
func Payoff(kind model.HedgeKind, strike, price decimal.Decimal) decimal.Decimal {
	switch kind {
	case model.Put:
		return decimal.Max(decimal.Zero, strike.Sub(price))
	case model.Call:
		return decimal.Max(decimal.Zero, price.Sub(strike))
	case model.Straddle:
		return price.Sub(strike).Abs()
	default:
		return decimal.Zero
	}
}

// Value marks a hedge of amount units to market at price.
func Value(kind model.HedgeKind, amount, strike, price decimal.Decimal, expiry, now time.Time) decimal.Decimal {
	raw := Payoff(kind, strike, price).Mul(amount)
	return raw.Mul(DecayFactor(expiry, now)).Round(model.PriceScale)
}
