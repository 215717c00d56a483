package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aptpay/defi-engine/internal/ledger"
	"github.com/aptpay/defi-engine/internal/model"
	"github.com/aptpay/defi-engine/internal/risk"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }

func newBook(t *testing.T, usdc float64) (*Book, *ledger.Ledger) {
	t.Helper()
	l, err := ledger.New(map[string]decimal.Decimal{"USDC": d(usdc)})
	require.NoError(t, err)
	now := func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return NewBook(l, "USDC", risk.NewLimiter(d(100), decimal.Zero, decimal.Zero, nil), now), l
}

func long(size, leverage float64) OpenRequest {
	return OpenRequest{Symbol: "SYM", Side: model.Long, Size: d(size), Leverage: d(leverage)}
}

func TestOpenClose_LongScenario(t *testing.T) {
	b, l := newBook(t, 1000)

	p, err := b.Open(long(10, 5), d(10))
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, model.PositionOpen, p.Status)
	assert.True(t, p.EntryPrice.Equal(d(10)))
	assert.True(t, p.Margin.Equal(d(20)), "margin = 10*10/5, got %s", p.Margin)
	assert.True(t, l.Balance("USDC").Equal(d(980)))

	listed := b.List(All, map[string]decimal.Decimal{"SYM": d(12)})
	require.Len(t, listed, 1)
	assert.True(t, listed[0].UnrealizedPnL.Equal(d(100)), "pnl = (12-10)*10*5, got %s", listed[0].UnrealizedPnL)
	assert.True(t, listed[0].PnLPercent.Equal(d(500)), "pct = 100/20*100, got %s", listed[0].PnLPercent)
	assert.True(t, listed[0].CurrentPrice.Equal(d(12)))

	closed, credit, err := b.Close(p.ID, d(12))
	require.NoError(t, err)
	assert.True(t, credit.Equal(d(120)))
	assert.Equal(t, model.PositionClosed, closed.Status)
	require.NotNil(t, closed.ClosePrice)
	assert.True(t, closed.ClosePrice.Equal(d(12)))
	require.NotNil(t, closed.RealizedPnL)
	assert.True(t, closed.RealizedPnL.Equal(d(100)))
	assert.NotNil(t, closed.ClosedAt)
	assert.True(t, l.Balance("USDC").Equal(d(1100)))
}

func TestOpen_InsufficientMargin(t *testing.T) {
	b, l := newBook(t, 10)

	// margin = 50 * 1 / 1 = 50 > 10.
	_, err := b.Open(long(50, 1), d(1))
	require.ErrorIs(t, err, model.ErrInsufficientBalance)

	assert.Empty(t, b.List(All, nil), "no position may be created")
	assert.True(t, l.Balance("USDC").Equal(d(10)), "ledger must be untouched")
}

func TestClose_Twice(t *testing.T) {
	b, l := newBook(t, 1000)
	p, err := b.Open(long(1, 1), d(10))
	require.NoError(t, err)

	_, _, err = b.Close(p.ID, d(10))
	require.NoError(t, err)
	balance := l.Balance("USDC")

	_, _, err = b.Close(p.ID, d(10))
	assert.ErrorIs(t, err, model.ErrInvalidState)
	assert.True(t, l.Balance("USDC").Equal(balance), "second close must not pay out")
}

func TestClose_NotFound(t *testing.T) {
	b, _ := newBook(t, 1000)
	_, _, err := b.Close(42, d(10))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUnrealized_SignCorrectness(t *testing.T) {
	tests := []struct {
		side     model.PositionSide
		price    float64
		positive bool
	}{
		{model.Long, 11, true},
		{model.Long, 9, false},
		{model.Short, 9, true},
		{model.Short, 11, false},
	}
	for _, tt := range tests {
		p := model.Position{Side: tt.side, Size: d(2), Leverage: d(3), EntryPrice: d(10), Margin: d(20 / 3.0)}
		pnl, _ := Unrealized(p, d(tt.price))
		if pnl.IsPositive() != tt.positive {
			t.Errorf("%s at %v: pnl %s, want positive=%v", tt.side, tt.price, pnl, tt.positive)
		}
	}
}

func TestOpen_ExplicitMargin(t *testing.T) {
	b, l := newBook(t, 1000)
	req := long(10, 5)
	req.Margin = ptr(d(35))

	p, err := b.Open(req, d(10))
	require.NoError(t, err)
	assert.True(t, p.Margin.Equal(d(35)))
	assert.True(t, l.Balance("USDC").Equal(d(965)))
}

func TestOpen_InvalidArguments(t *testing.T) {
	b, l := newBook(t, 1000)

	bad := []OpenRequest{
		{Symbol: "SYM", Side: "UP", Size: d(1), Leverage: d(1)},
		{Symbol: "SYM", Side: model.Long, Size: decimal.Zero, Leverage: d(1)},
		{Symbol: "SYM", Side: model.Long, Size: d(1), Leverage: d(0.5)},
		{Symbol: "SYM", Side: model.Long, Size: d(1), Leverage: d(1), Margin: ptr(d(-1))},
	}
	for i, req := range bad {
		_, err := b.Open(req, d(10))
		assert.ErrorIs(t, err, model.ErrInvalidArgument, "case %d", i)
	}

	_, err := b.Open(long(1, 500), d(10))
	assert.ErrorIs(t, err, model.ErrLimitExceeded)

	assert.True(t, l.Balance("USDC").Equal(d(1000)))
	assert.Empty(t, b.List(All, nil))
}

func TestClose_LossBeyondMarginSettlesZero(t *testing.T) {
	b, l := newBook(t, 100)
	p, err := b.Open(long(10, 10), d(10)) // margin 10
	require.NoError(t, err)

	// delta -5 * 10 * 10 = -500, far beyond the 10 margin.
	_, credit, err := b.Close(p.ID, d(5))
	require.NoError(t, err)
	assert.True(t, credit.IsZero())
	assert.True(t, l.Balance("USDC").Equal(d(90)))
}

func TestList_FilterAndOrder(t *testing.T) {
	b, _ := newBook(t, 1000)
	for i := 0; i < 3; i++ {
		_, err := b.Open(long(1, 1), d(10))
		require.NoError(t, err)
	}
	_, _, err := b.Close(2, d(10))
	require.NoError(t, err)

	all := b.List(All, nil)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{all[0].ID, all[1].ID, all[2].ID})

	open := b.List(OpenOnly, nil)
	require.Len(t, open, 2)
	assert.Equal(t, int64(1), open[0].ID)
	assert.Equal(t, int64(3), open[1].ID)
}

func TestMark_SkipsClosed(t *testing.T) {
	b, _ := newBook(t, 1000)
	p, _ := b.Open(long(1, 1), d(10))
	_, _, err := b.Close(p.ID, d(11))
	require.NoError(t, err)

	b.Mark(map[string]decimal.Decimal{"SYM": d(50)})
	got, err := b.Get(p.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentPrice.Equal(d(11)), "closed positions are frozen")
}

func TestLocked(t *testing.T) {
	b, _ := newBook(t, 1000)
	_, _ = b.Open(long(10, 5), d(10))
	_, _ = b.Open(long(1, 1), d(10))
	b.Mark(map[string]decimal.Decimal{"SYM": d(11)})

	margin, pnl, open := b.Locked()
	assert.True(t, margin.Equal(d(30)))
	assert.True(t, pnl.Equal(d(51)), "10*5*1 + 1*1*1, got %s", pnl)
	assert.Equal(t, 2, open)
}
