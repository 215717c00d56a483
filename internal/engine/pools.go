package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/amm"
	"github.com/aptpay/defi-engine/internal/metrics"
	"github.com/aptpay/defi-engine/internal/model"
	"github.com/aptpay/defi-engine/internal/pair"
)

// PoolReceipt is returned by CreatePool and AddLiquidity.
type PoolReceipt struct {
	Pool  model.Pool `json:"pool"`
	TxRef string     `json:"tx_ref"`
}

// SwapReceipt is returned by Swap.
type SwapReceipt struct {
	amm.SwapResult
	TxRef string `json:"tx_ref"`
}

// CreatePool funds a new constant-product pool from the ledger.
func (e *Engine) CreatePool(ctx context.Context, tokenA, tokenB string, amountA, amountB decimal.Decimal) (PoolReceipt, error) {
	var rc PoolReceipt
	err := e.exec(ctx, "create_pool", func() ([]model.JournalEntry, error) {
		pool, err := e.pools.Create(tokenA, tokenB, amountA, amountB)
		if err != nil {
			return nil, err
		}
		rc = PoolReceipt{Pool: pool, TxRef: newTxRef()}
		value := e.quoteFlow(pool.TokenA, amountA.Neg()).Add(e.quoteFlow(pool.TokenB, amountB.Neg()))
		return []model.JournalEntry{
			e.entry(model.EntryPoolCreate, pool.ID, pairLabel(pool), pool.TotalLiquidity,
				amm.SpotPrice(pool.ReserveA, pool.ReserveB), value, rc.TxRef),
		}, nil
	})
	if err != nil {
		return PoolReceipt{}, err
	}

	e.log.Info("pool created",
		"pool_id", rc.Pool.ID,
		"pair", pairLabel(rc.Pool),
		"reserve_a", rc.Pool.ReserveA.String(),
		"reserve_b", rc.Pool.ReserveB.String(),
		"liquidity", rc.Pool.TotalLiquidity.String(),
		"tx_ref", rc.TxRef,
	)
	return rc, nil
}

// AddLiquidity deposits both tokens into pool id.
func (e *Engine) AddLiquidity(ctx context.Context, id int64, amountA, amountB decimal.Decimal) (PoolReceipt, error) {
	var rc PoolReceipt
	err := e.exec(ctx, "add_liquidity", func() ([]model.JournalEntry, error) {
		pool, err := e.pools.AddLiquidity(id, amountA, amountB)
		if err != nil {
			return nil, err
		}
		rc = PoolReceipt{Pool: pool, TxRef: newTxRef()}
		value := e.quoteFlow(pool.TokenA, amountA.Neg()).Add(e.quoteFlow(pool.TokenB, amountB.Neg()))
		return []model.JournalEntry{
			e.entry(model.EntryPoolAdd, pool.ID, pairLabel(pool), amountA,
				amm.SpotPrice(pool.ReserveA, pool.ReserveB), value, rc.TxRef),
		}, nil
	})
	if err != nil {
		return PoolReceipt{}, err
	}

	e.log.Info("liquidity added",
		"pool_id", id,
		"amount_a", amountA.String(),
		"amount_b", amountB.String(),
		"liquidity", rc.Pool.TotalLiquidity.String(),
		"tx_ref", rc.TxRef,
	)
	return rc, nil
}

// Swap trades amountIn of tokenIn through the pair's pool.
func (e *Engine) Swap(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (SwapReceipt, error) {
	in, out, err := swapTokens(tokenIn, tokenOut)
	if err != nil {
		return SwapReceipt{}, err
	}

	var rc SwapReceipt
	err = e.exec(ctx, "swap", func() ([]model.JournalEntry, error) {
		res, err := e.pools.Swap(in, out, amountIn)
		if err != nil {
			return nil, err
		}
		rc = SwapReceipt{SwapResult: res, TxRef: newTxRef()}
		value := e.quoteFlow(in, amountIn.Neg()).Add(e.quoteFlow(out, res.AmountOut))
		return []model.JournalEntry{
			e.entry(model.EntrySwap, res.PoolID, in+"/"+out, amountIn, res.Price, value, rc.TxRef),
		}, nil
	})
	if err != nil {
		return SwapReceipt{}, err
	}

	metrics.SwapVolume.WithLabelValues(in).Add(amountIn.InexactFloat64())
	e.log.Info("swap executed",
		"pool_id", rc.PoolID,
		"token_in", in,
		"token_out", out,
		"amount_in", amountIn.String(),
		"amount_out", rc.AmountOut.String(),
		"fee", rc.Fee.String(),
		"price_impact", rc.PriceImpact.String(),
		"tx_ref", rc.TxRef,
	)
	return rc, nil
}

// QuoteSwap prices a swap without executing it.
func (e *Engine) QuoteSwap(tokenIn, tokenOut string, amountIn decimal.Decimal) (amm.SwapResult, error) {
	in, out, err := swapTokens(tokenIn, tokenOut)
	if err != nil {
		return amm.SwapResult{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.Quote(in, out, amountIn)
}

// ListPools returns every pool sorted by id.
func (e *Engine) ListPools() []model.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.List()
}

// Pool returns pool id.
func (e *Engine) Pool(id int64) (model.Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.Get(id)
}

func swapTokens(tokenIn, tokenOut string) (string, string, error) {
	in, err := pair.NormalizeSymbol(tokenIn)
	if err != nil {
		return "", "", err
	}
	out, err := pair.NormalizeSymbol(tokenOut)
	if err != nil {
		return "", "", err
	}
	return in, out, nil
}

func pairLabel(p model.Pool) string {
	return p.TokenA + "/" + p.TokenB
}
