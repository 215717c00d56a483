package hedge

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aptpay/defi-engine/internal/ledger"
	"github.com/aptpay/defi-engine/internal/model"
)

func newBook(t *testing.T, usdc float64) (*Book, *ledger.Ledger) {
	t.Helper()
	l, err := ledger.New(map[string]decimal.Decimal{"USDC": d(usdc)})
	require.NoError(t, err)
	return NewBook(l, "USDC"), l
}

func prices(p float64) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{"APT": d(p)}
}

func TestOpen(t *testing.T) {
	b, l := newBook(t, 100)

	h, err := b.Open("APT", "put", d(10), d(10), days(30), d(10), t0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.ID)
	assert.Equal(t, model.Put, h.Kind)
	assert.Equal(t, model.HedgeActive, h.Status)
	assert.True(t, h.Premium.Equal(d(12)))
	assert.True(t, h.CurrentValue.IsZero(), "at the money put has no payoff")
	assert.True(t, h.PnL.Equal(d(-12)))
	assert.True(t, l.Balance("USDC").Equal(d(88)))
}

func TestOpen_Rejections(t *testing.T) {
	b, l := newBook(t, 5)

	_, err := b.Open("APT", model.Put, d(10), d(10), days(30), d(10), t0)
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)

	_, err = b.Open("APT", "SWAPTION", d(1), d(10), days(30), d(10), t0)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = b.Open("APT", model.Call, decimal.Zero, d(10), days(30), d(10), t0)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = b.Open("APT", model.Call, d(1), d(10), t0, d(10), t0)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	assert.True(t, l.Balance("USDC").Equal(d(5)))
	hs, _ := b.List(nil, t0)
	assert.Empty(t, hs)
}

func TestClose_CreditsValueOnce(t *testing.T) {
	b, l := newBook(t, 100)
	h, err := b.Open("APT", model.Put, d(10), d(10), days(30), d(10), t0)
	require.NoError(t, err)

	s, err := b.Close(h.ID, d(8), t0)
	require.NoError(t, err)
	assert.True(t, s.Credit.Equal(d(20)))
	assert.True(t, s.Hedge.PnL.Equal(d(8)))
	assert.Equal(t, model.HedgeClosed, s.Hedge.Status)
	assert.NotNil(t, s.Hedge.ClosedAt)
	assert.True(t, l.Balance("USDC").Equal(d(108)))

	_, err = b.Close(h.ID, d(8), t0)
	assert.ErrorIs(t, err, model.ErrInvalidState)
	assert.True(t, l.Balance("USDC").Equal(d(108)), "second close must not pay again")

	_, err = b.Close(42, d(8), t0)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMark_ValueSigns(t *testing.T) {
	b, _ := newBook(t, 1000)
	put, _ := b.Open("APT", model.Put, d(1), d(10), days(30), d(10), t0)
	call, _ := b.Open("APT", model.Call, d(1), d(10), days(30), d(10), t0)

	b.Mark(prices(9), t0)
	gotPut, _ := b.Get(put.ID)
	gotCall, _ := b.Get(call.ID)
	assert.True(t, gotPut.CurrentValue.IsPositive(), "put gains below strike")
	assert.True(t, gotCall.CurrentValue.IsZero(), "call is worthless below strike")

	b.Mark(prices(11), t0)
	gotPut, _ = b.Get(put.ID)
	gotCall, _ = b.Get(call.ID)
	assert.True(t, gotPut.CurrentValue.IsZero())
	assert.True(t, gotCall.CurrentValue.IsPositive())
}

func TestMark_ExpiresOnce(t *testing.T) {
	b, l := newBook(t, 100)
	h, err := b.Open("APT", model.Put, d(10), d(10), days(1), d(10), t0)
	require.NoError(t, err)
	assert.True(t, h.Premium.Equal(d(3)))
	assert.True(t, l.Balance("USDC").Equal(d(97)))

	assert.Empty(t, b.Mark(prices(8), days(0.5)))

	expired := b.Mark(prices(8), days(1))
	require.Len(t, expired, 1)
	assert.Equal(t, model.HedgeExpired, expired[0].Hedge.Status)
	assert.True(t, expired[0].Credit.Equal(d(2)), "20 payoff at the 0.1 floor")
	assert.True(t, expired[0].Hedge.PnL.Equal(d(-1)))
	assert.True(t, l.Balance("USDC").Equal(d(99)))

	assert.Empty(t, b.Mark(prices(1), days(2)))
	hs, again := b.List(prices(1), days(3))
	assert.Empty(t, again)
	require.Len(t, hs, 1)
	assert.Equal(t, model.HedgeExpired, hs[0].Status)
	assert.True(t, l.Balance("USDC").Equal(d(99)))

	_, err = b.Close(h.ID, d(1), days(3))
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestClose_PastExpiryExpiresInstead(t *testing.T) {
	b, l := newBook(t, 100)
	h, _ := b.Open("APT", model.Call, d(10), d(10), days(1), d(10), t0)

	s, err := b.Close(h.ID, d(12), days(2))
	assert.ErrorIs(t, err, model.ErrInvalidState)
	assert.Equal(t, model.HedgeExpired, s.Hedge.Status)
	assert.True(t, s.Credit.Equal(d(2)))
	assert.True(t, l.Balance("USDC").Equal(d(99)))
}

func TestLocked(t *testing.T) {
	b, _ := newBook(t, 100)
	_, _ = b.Open("APT", model.Put, d(10), d(10), days(30), d(10), t0)
	h2, _ := b.Open("APT", model.Straddle, d(1), d(10), days(30), d(10), t0)
	_, _ = b.Close(h2.ID, d(10), t0)

	b.Mark(prices(8), t0)
	premium, value, active := b.Locked()
	assert.Equal(t, 1, active)
	assert.True(t, premium.Equal(d(12)))
	assert.True(t, value.Equal(d(20)))
}
