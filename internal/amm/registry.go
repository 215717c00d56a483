package amm

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/ledger"
	"github.com/aptpay/defi-engine/internal/model"
	"github.com/aptpay/defi-engine/internal/pair"
)

// Options tunes the registry.
type Options struct {
	// FeeRate applied to every swap; zero means DefaultFeeRate.
	FeeRate decimal.Decimal

	// StrictRatio rejects AddLiquidity deposits that deviate from the pool
	// ratio by more than RatioTolerance (relative).
	StrictRatio    bool
	RatioTolerance decimal.Decimal
}

// SwapResult describes an executed or quoted swap.
type SwapResult struct {
	PoolID      int64           `json:"pool_id"`
	TokenIn     string          `json:"token_in"`
	TokenOut    string          `json:"token_out"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	AmountOut   decimal.Decimal `json:"amount_out"` // net of fee
	Fee         decimal.Decimal `json:"fee"`
	Price       decimal.Decimal `json:"price"`        // tokenOut per tokenIn
	PriceImpact decimal.Decimal `json:"price_impact"` // percent
	Pool        model.Pool      `json:"pool"`
}

// Registry holds every pool, at most one per unordered token pair.
// Not safe for concurrent use.
type Registry struct {
	ledger *ledger.Ledger
	now    func() time.Time
	opts   Options

	nextID int64
	pools  map[int64]*model.Pool
	byPair map[string]int64
}

// NewRegistry creates an empty registry drawing deposits from l.
func NewRegistry(l *ledger.Ledger, now func() time.Time, opts Options) *Registry {
	if opts.FeeRate.IsZero() {
		opts.FeeRate = DefaultFeeRate
	}
	if opts.RatioTolerance.IsZero() {
		opts.RatioTolerance = decimal.NewFromFloat(0.01)
	}
	return &Registry{
		ledger: l,
		now:    now,
		opts:   opts,
		pools:  make(map[int64]*model.Pool),
		byPair: make(map[string]int64),
	}
}

// Create deposits amountA of tokenA and amountB of tokenB into a new pool.
// A second pool for the same pair is rejected.
func (r *Registry) Create(tokenA, tokenB string, amountA, amountB decimal.Decimal) (model.Pool, error) {
	p, err := pair.New(tokenA, tokenB)
	if err != nil {
		return model.Pool{}, err
	}
	if !amountA.IsPositive() || !amountB.IsPositive() {
		return model.Pool{}, fmt.Errorf("%w: deposit amounts must be positive", model.ErrInvalidArgument)
	}
	if id, exists := r.byPair[p.Key()]; exists {
		return model.Pool{}, fmt.Errorf("%w: pool %d already trades %s", model.ErrInvalidState, id, p.Key())
	}
	if err := r.ledger.Apply(ledger.Debit(p.Base, amountA), ledger.Debit(p.Quote, amountB)); err != nil {
		return model.Pool{}, fmt.Errorf("create pool %s: %w", p, err)
	}

	r.nextID++
	pool := &model.Pool{
		ID:             r.nextID,
		TokenA:         p.Base,
		TokenB:         p.Quote,
		ReserveA:       amountA,
		ReserveB:       amountB,
		TotalLiquidity: Liquidity(amountA, amountB),
		FeeRate:        r.opts.FeeRate,
		Volume24h:      decimal.Zero,
		CreatedAt:      r.now(),
	}
	r.pools[pool.ID] = pool
	r.byPair[p.Key()] = pool.ID
	return *pool, nil
}

// AddLiquidity deposits more of both tokens into pool id. Deposits do not
// have to match the pool ratio unless StrictRatio is set.
func (r *Registry) AddLiquidity(id int64, amountA, amountB decimal.Decimal) (model.Pool, error) {
	pool, ok := r.pools[id]
	if !ok {
		return model.Pool{}, fmt.Errorf("%w: pool %d", model.ErrNotFound, id)
	}
	if !amountA.IsPositive() || !amountB.IsPositive() {
		return model.Pool{}, fmt.Errorf("%w: deposit amounts must be positive", model.ErrInvalidArgument)
	}
	if r.opts.StrictRatio {
		if err := r.checkRatio(pool, amountA, amountB); err != nil {
			return model.Pool{}, err
		}
	}
	if err := r.ledger.Apply(ledger.Debit(pool.TokenA, amountA), ledger.Debit(pool.TokenB, amountB)); err != nil {
		return model.Pool{}, fmt.Errorf("add liquidity to pool %d: %w", id, err)
	}

	pool.ReserveA = pool.ReserveA.Add(amountA)
	pool.ReserveB = pool.ReserveB.Add(amountB)
	pool.TotalLiquidity = Liquidity(pool.ReserveA, pool.ReserveB)
	return *pool, nil
}

// checkRatio compares amountA/amountB against reserveA/reserveB.
func (r *Registry) checkRatio(pool *model.Pool, amountA, amountB decimal.Decimal) error {
	poolRatio := pool.ReserveA.Div(pool.ReserveB)
	depositRatio := amountA.Div(amountB)
	deviation := depositRatio.Div(poolRatio).Sub(decimal.NewFromInt(1)).Abs()
	if deviation.GreaterThan(r.opts.RatioTolerance) {
		return fmt.Errorf("%w: deposit ratio %s deviates from pool ratio %s",
			model.ErrInvalidArgument, depositRatio.Round(8), poolRatio.Round(8))
	}
	return nil
}

// Find returns the pool trading tokenIn against tokenOut.
func (r *Registry) Find(tokenIn, tokenOut string) (model.Pool, error) {
	id, ok := r.byPair[pair.Key(tokenIn, tokenOut)]
	if !ok {
		return model.Pool{}, fmt.Errorf("%w: no pool for %s/%s", model.ErrInvalidMarket, tokenIn, tokenOut)
	}
	return *r.pools[id], nil
}

// Quote prices a swap without mutating anything.
func (r *Registry) Quote(tokenIn, tokenOut string, amountIn decimal.Decimal) (SwapResult, error) {
	if !amountIn.IsPositive() {
		return SwapResult{}, fmt.Errorf("%w: amount in must be positive", model.ErrInvalidArgument)
	}
	if tokenIn == tokenOut {
		return SwapResult{}, fmt.Errorf("%w: cannot swap %s for itself", model.ErrInvalidArgument, tokenIn)
	}
	pool, err := r.Find(tokenIn, tokenOut)
	if err != nil {
		return SwapResult{}, err
	}

	reserveIn, reserveOut := pool.ReserveA, pool.ReserveB
	if tokenIn == pool.TokenB {
		reserveIn, reserveOut = pool.ReserveB, pool.ReserveA
	}
	out, fee, err := SwapOut(amountIn, reserveIn, reserveOut, pool.FeeRate)
	if err != nil {
		return SwapResult{}, fmt.Errorf("%w: pool %d: %v", model.ErrInvalidState, pool.ID, err)
	}

	return SwapResult{
		PoolID:      pool.ID,
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    amountIn,
		AmountOut:   out,
		Fee:         fee,
		Price:       out.Div(amountIn),
		PriceImpact: PriceImpact(amountIn, out, reserveIn, reserveOut),
		Pool:        pool,
	}, nil
}

// Swap trades amountIn of tokenIn for tokenOut through the pair's pool,
// debiting the ledger and crediting the net output.
func (r *Registry) Swap(tokenIn, tokenOut string, amountIn decimal.Decimal) (SwapResult, error) {
	res, err := r.Quote(tokenIn, tokenOut, amountIn)
	if err != nil {
		return SwapResult{}, err
	}
	if err := r.ledger.Apply(ledger.Debit(tokenIn, amountIn), ledger.Credit(tokenOut, res.AmountOut)); err != nil {
		return SwapResult{}, fmt.Errorf("swap %s %s for %s: %w", amountIn.String(), tokenIn, tokenOut, err)
	}

	pool := r.pools[res.PoolID]
	if tokenIn == pool.TokenA {
		pool.ReserveA = pool.ReserveA.Add(amountIn)
		pool.ReserveB = pool.ReserveB.Sub(res.AmountOut)
		pool.Volume24h = pool.Volume24h.Add(amountIn)
	} else {
		pool.ReserveB = pool.ReserveB.Add(amountIn)
		pool.ReserveA = pool.ReserveA.Sub(res.AmountOut)
		pool.Volume24h = pool.Volume24h.Add(res.AmountOut)
	}
	pool.TotalLiquidity = Liquidity(pool.ReserveA, pool.ReserveB)
	res.Pool = *pool
	return res, nil
}

// Get returns a copy of pool id.
func (r *Registry) Get(id int64) (model.Pool, error) {
	pool, ok := r.pools[id]
	if !ok {
		return model.Pool{}, fmt.Errorf("%w: pool %d", model.ErrNotFound, id)
	}
	return *pool, nil
}

// List returns copies of every pool sorted by id.
func (r *Registry) List() []model.Pool {
	out := make([]model.Pool, 0, len(r.pools))
	for _, pool := range r.pools {
		out = append(out, *pool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of pools.
func (r *Registry) Count() int {
	return len(r.pools)
}

// Locked returns the reserves held per token across all pools.
func (r *Registry) Locked() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, pool := range r.pools {
		out[pool.TokenA] = out[pool.TokenA].Add(pool.ReserveA)
		out[pool.TokenB] = out[pool.TokenB].Add(pool.ReserveB)
	}
	return out
}
