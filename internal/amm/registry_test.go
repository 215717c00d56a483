package amm

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aptpay/defi-engine/internal/ledger"
	"github.com/aptpay/defi-engine/internal/model"
)

func newRegistry(t *testing.T, opts Options) (*Registry, *ledger.Ledger) {
	t.Helper()
	l, err := ledger.New(map[string]decimal.Decimal{"APT": d(5000), "USDC": d(5000)})
	require.NoError(t, err)
	now := func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return NewRegistry(l, now, opts), l
}

func TestCreate(t *testing.T) {
	r, l := newRegistry(t, Options{})

	pool, err := r.Create("APT", "USDC", d(1000), d(4000))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pool.ID)
	assert.True(t, pool.TotalLiquidity.Equal(d(2000)))
	assert.True(t, pool.FeeRate.Equal(d(0.003)))
	assert.True(t, l.Balance("APT").Equal(d(4000)))
	assert.True(t, l.Balance("USDC").Equal(d(1000)))
}

func TestCreate_InsufficientIsAtomic(t *testing.T) {
	r, l := newRegistry(t, Options{})

	_, err := r.Create("APT", "USDC", d(1000), d(6000))
	require.ErrorIs(t, err, model.ErrInsufficientBalance)
	assert.Zero(t, r.Count())
	assert.True(t, l.Balance("APT").Equal(d(5000)), "APT leg must not be taken")
}

func TestCreate_DuplicatePairRejected(t *testing.T) {
	r, _ := newRegistry(t, Options{})
	_, err := r.Create("APT", "USDC", d(10), d(10))
	require.NoError(t, err)

	_, err = r.Create("USDC", "APT", d(10), d(10))
	assert.ErrorIs(t, err, model.ErrInvalidState)
	assert.Equal(t, 1, r.Count())
}

func TestCreate_InvalidInput(t *testing.T) {
	r, _ := newRegistry(t, Options{})
	_, err := r.Create("APT", "APT", d(1), d(1))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	_, err = r.Create("APT", "USDC", decimal.Zero, d(1))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestAddLiquidity(t *testing.T) {
	r, l := newRegistry(t, Options{})
	pool, _ := r.Create("APT", "USDC", d(100), d(400))

	// Off-ratio deposits are accepted by default.
	got, err := r.AddLiquidity(pool.ID, d(300), d(100))
	require.NoError(t, err)
	assert.True(t, got.ReserveA.Equal(d(400)))
	assert.True(t, got.ReserveB.Equal(d(500)))
	assert.True(t, got.TotalLiquidity.Sub(d(447.21359550)).Abs().LessThan(d(0.0000001)))
	assert.True(t, l.Balance("APT").Equal(d(4600)))

	_, err = r.AddLiquidity(99, d(1), d(1))
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = r.AddLiquidity(pool.ID, d(1), d(10000))
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)
}

func TestAddLiquidity_StrictRatio(t *testing.T) {
	r, _ := newRegistry(t, Options{StrictRatio: true})
	pool, _ := r.Create("APT", "USDC", d(100), d(400))

	_, err := r.AddLiquidity(pool.ID, d(300), d(100))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = r.AddLiquidity(pool.ID, d(10), d(40.2))
	assert.NoError(t, err, "half a percent off is inside the default tolerance")
}

func TestSwap_BothDirections(t *testing.T) {
	r, l := newRegistry(t, Options{})
	pool, _ := r.Create("APT", "USDC", d(1000), d(1000))

	res, err := r.Swap("APT", "USDC", d(100))
	require.NoError(t, err)
	assert.Equal(t, pool.ID, res.PoolID)
	assert.True(t, res.Pool.ReserveA.Equal(d(1100)))
	assert.True(t, res.Pool.ReserveB.Equal(d(1000).Sub(res.AmountOut)))
	assert.True(t, l.Balance("APT").Equal(d(3900)))
	assert.True(t, l.Balance("USDC").Equal(d(4000).Add(res.AmountOut)))

	before := Product(res.Pool.ReserveA, res.Pool.ReserveB)
	back, err := r.Swap("USDC", "APT", d(50))
	require.NoError(t, err)
	assert.True(t, back.Pool.ReserveB.Equal(res.Pool.ReserveB.Add(d(50))))
	assert.True(t, back.Pool.ReserveA.Equal(d(1100).Sub(back.AmountOut)))
	assert.True(t, Product(back.Pool.ReserveA, back.Pool.ReserveB).GreaterThanOrEqual(before))
	assert.True(t, back.Pool.Volume24h.IsPositive())
}

func TestSwap_Failures(t *testing.T) {
	r, l := newRegistry(t, Options{})
	_, _ = r.Create("APT", "USDC", d(1000), d(1000))

	_, err := r.Swap("APT", "BTC", d(1))
	assert.ErrorIs(t, err, model.ErrInvalidMarket)

	_, err = r.Swap("APT", "USDC", d(1e6))
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)

	_, err = r.Swap("APT", "USDC", decimal.Zero)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = r.Swap("APT", "APT", d(1))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	pool, _ := r.Get(1)
	assert.True(t, pool.ReserveA.Equal(d(1000)), "failed swaps leave reserves untouched")
	assert.True(t, l.Balance("APT").Equal(d(4000)))
}

func TestQuote_DoesNotMutate(t *testing.T) {
	r, l := newRegistry(t, Options{})
	_, _ = r.Create("APT", "USDC", d(1000), d(1000))

	q, err := r.Quote("APT", "USDC", d(100))
	require.NoError(t, err)
	s, err := r.Swap("APT", "USDC", d(100))
	require.NoError(t, err)
	assert.True(t, q.AmountOut.Equal(s.AmountOut), "quote must match the executed swap")
	assert.True(t, l.Balance("APT").Equal(d(3900)))
}

func TestListAndLocked(t *testing.T) {
	r, _ := newRegistry(t, Options{})
	_, _ = r.Create("USDC", "APT", d(10), d(20))
	_, _ = r.Create("APT", "ETH", d(1), d(1))

	pools := r.List()
	// Second create fails: no ETH balance.
	require.Len(t, pools, 1)
	assert.Equal(t, "USDC", pools[0].TokenA)

	locked := r.Locked()
	assert.True(t, locked["USDC"].Equal(d(10)))
	assert.True(t, locked["APT"].Equal(d(20)))
}
