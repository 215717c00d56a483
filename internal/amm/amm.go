// Package amm implements constant-product liquidity pools.
//
// The math in this file is stateless: reserves are passed as arguments, not
// stored. For a swap of amountIn against reserves (rIn, rOut):
//
//	gross = amountIn × rOut / (rIn + amountIn)
//	fee   = gross × feeRate
//	out   = gross - fee
//
// The taker receives out. The output reserve only shrinks by out, so the fee
// stays in the pool and rIn × rOut grows with every swap.
//
// All monetary values use shopspring/decimal, never float64 for money.
// The square root for pool liquidity goes through float64 and is converted
// straight back to decimal.
package amm

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/model"
)

var (
	// ErrEmptyReserves is returned when a pool side has no liquidity.
	ErrEmptyReserves = errors.New("amm: reserves must be positive")

	// ErrInvalidFee is returned when feeRate is outside [0, 1).
	ErrInvalidFee = errors.New("amm: fee rate must be in [0, 1)")

	// DefaultFeeRate is the 0.3% swap fee.
	DefaultFeeRate = decimal.NewFromFloat(0.003)
)

// GrossOut returns the constant-product output before fees.
func GrossOut(amountIn, reserveIn, reserveOut decimal.Decimal) decimal.Decimal {
	return amountIn.Mul(reserveOut).Div(reserveIn.Add(amountIn))
}

// SwapOut computes the net output and the fee retained by the pool.
func SwapOut(amountIn, reserveIn, reserveOut, feeRate decimal.Decimal) (out, fee decimal.Decimal, err error) {
	if !reserveIn.IsPositive() || !reserveOut.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrEmptyReserves
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, decimal.Zero, ErrInvalidFee
	}
	gross := GrossOut(amountIn, reserveIn, reserveOut)
	fee = gross.Mul(feeRate)
	return gross.Sub(fee), fee, nil
}

// Liquidity returns sqrt(reserveA × reserveB).
func Liquidity(reserveA, reserveB decimal.Decimal) decimal.Decimal {
	k := reserveA.Mul(reserveB).InexactFloat64()
	if k <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(math.Sqrt(k)).Round(model.PriceScale)
}

// SpotPrice is the marginal price of the input token in output-token units:
// rOut / rIn.
func SpotPrice(reserveIn, reserveOut decimal.Decimal) decimal.Decimal {
	if !reserveIn.IsPositive() {
		return decimal.Zero
	}
	return reserveOut.Div(reserveIn)
}

// PriceImpact returns how far the execution price fell short of the spot
// price, in percent:
//
//	impact = (1 - (out / amountIn) / spot) × 100
func PriceImpact(amountIn, out, reserveIn, reserveOut decimal.Decimal) decimal.Decimal {
	spot := SpotPrice(reserveIn, reserveOut)
	if !amountIn.IsPositive() || !spot.IsPositive() {
		return decimal.Zero
	}
	exec := out.Div(amountIn)
	return decimal.NewFromInt(1).Sub(exec.Div(spot)).Mul(model.Hundred).Round(4)
}

// Product returns reserveA × reserveB, the quantity a swap must not shrink.
func Product(reserveA, reserveB decimal.Decimal) decimal.Decimal {
	return reserveA.Mul(reserveB)
}
