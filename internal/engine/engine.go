// Package engine is the single entry point over the balance ledger, the
// market data feed and the position, order, pool and hedge books.
//
// Every command, feed tick and deferred limit-order check holds one mutex
// for its whole validate-then-mutate step, so no caller ever observes a
// half-applied change. Journal appends and publishing happen after the lock
// is released, from copies.
package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/amm"
	"github.com/aptpay/defi-engine/internal/feed"
	"github.com/aptpay/defi-engine/internal/hedge"
	"github.com/aptpay/defi-engine/internal/ledger"
	"github.com/aptpay/defi-engine/internal/metrics"
	"github.com/aptpay/defi-engine/internal/model"
	"github.com/aptpay/defi-engine/internal/order"
	"github.com/aptpay/defi-engine/internal/pair"
	"github.com/aptpay/defi-engine/internal/position"
	"github.com/aptpay/defi-engine/internal/risk"
	"github.com/aptpay/defi-engine/internal/store"
)

// Engine is the simulation facade. All exported methods are safe for
// concurrent use.
type Engine struct {
	cfg        Config
	log        *slog.Logger
	now        func() time.Time
	rng        *rand.Rand
	journal    store.Journal
	publishers []Publisher

	mu        sync.Mutex
	ledger    *ledger.Ledger
	feed      *feed.Feed
	positions *position.Book
	orders    *order.Book
	pools     *amm.Registry
	hedges    *hedge.Book

	// Deferred match timers by order id. Each live timer holds one wg slot.
	timers  map[int64]*time.Timer
	bg      context.Context
	started bool
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New builds an engine from cfg. Seed pools are funded from the starting
// balances.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg = cfg.withDefaults()

	e := &Engine{
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		timers: make(map[int64]*time.Timer),
		bg:     context.Background(),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	quote, err := pair.NormalizeSymbol(cfg.QuoteAsset)
	if err != nil {
		return nil, fmt.Errorf("quote asset: %w", err)
	}
	cfg.QuoteAsset = quote

	balances := make(map[string]decimal.Decimal, len(cfg.Balances))
	for asset, amt := range cfg.Balances {
		sym, err := pair.NormalizeSymbol(asset)
		if err != nil {
			return nil, fmt.Errorf("balance %q: %w", asset, err)
		}
		balances[sym] = balances[sym].Add(amt)
	}
	if e.ledger, err = ledger.New(balances); err != nil {
		return nil, err
	}

	markets := make([]model.Quote, 0, len(cfg.Markets))
	for _, q := range cfg.Markets {
		if q.Symbol, err = pair.NormalizeSymbol(q.Symbol); err != nil {
			return nil, fmt.Errorf("market: %w", err)
		}
		if q.Symbol == quote {
			return nil, fmt.Errorf("%w: %s is the quote asset and cannot be a market", model.ErrInvalidArgument, quote)
		}
		markets = append(markets, q)
	}
	if e.feed, err = feed.New(markets, e.rng, e.now); err != nil {
		return nil, err
	}

	limiter := risk.NewLimiter(cfg.MaxLeverage, cfg.MaxPerSymbol, cfg.MaxCorrelated, cfg.CorrelationGroups)
	e.positions = position.NewBook(e.ledger, quote, limiter, e.now)
	e.orders = order.NewBook(e.ledger, quote, e.now)
	e.pools = amm.NewRegistry(e.ledger, e.now, amm.Options{FeeRate: cfg.FeeRate, StrictRatio: cfg.StrictRatio})
	e.hedges = hedge.NewBook(e.ledger, quote)

	for _, seed := range cfg.Pools {
		if _, err := e.pools.Create(seed.TokenA, seed.TokenB, seed.AmountA, seed.AmountB); err != nil {
			return nil, fmt.Errorf("seed pool %s/%s: %w", seed.TokenA, seed.TokenB, err)
		}
	}

	e.cfg = cfg
	e.updateGauges()
	return e, nil
}

// QuoteAsset returns the asset margin and premiums settle in.
func (e *Engine) QuoteAsset() string {
	return e.cfg.QuoteAsset
}

// Start runs the feed ticker until ctx is done or Close is called. Calling
// it again is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.closed {
		return
	}
	e.started = true
	e.bg = context.WithoutCancel(ctx)

	e.wg.Add(1)
	go e.run(ctx, e.bg)
	e.log.Info("engine started",
		"tick_interval", e.cfg.TickInterval.String(),
		"match_delay", e.cfg.MatchDelay.String(),
		"markets", len(e.cfg.Markets),
	)
}

func (e *Engine) run(ctx, bg context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.Tick(bg)
		}
	}
}

// Close stops the ticker and every pending match timer, and waits for
// in-flight callbacks. It is idempotent. Commands keep working afterwards
// but no deferred checks are scheduled.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.stop)
	for id, t := range e.timers {
		if t.Stop() {
			e.wg.Done()
		}
		delete(e.timers, id)
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.log.Info("engine stopped")
	return nil
}

// Tick advances every quote, then re-marks positions and hedges, expires
// due hedges and matches resting limit orders.
func (e *Engine) Tick(ctx context.Context) []model.Quote {
	e.mu.Lock()
	quotes := e.feed.Tick()
	entries := e.afterPriceChange()
	e.updateGauges()
	e.mu.Unlock()

	metrics.TicksTotal.Inc()
	e.log.Debug("feed tick", "symbols", len(quotes), "settlements", len(entries))
	e.record(ctx, entries)
	e.publishQuotes(ctx, quotes)
	return quotes
}

// SetPrice overrides the quote of symbol and runs the same recomputation as
// a tick.
func (e *Engine) SetPrice(ctx context.Context, symbol string, price decimal.Decimal) (model.Quote, error) {
	sym, err := pair.NormalizeSymbol(symbol)
	if err != nil {
		return model.Quote{}, err
	}

	var q model.Quote
	err = e.exec(ctx, "set_price", func() ([]model.JournalEntry, error) {
		var err error
		if q, err = e.feed.SetPrice(sym, price); err != nil {
			return nil, err
		}
		return e.afterPriceChange(), nil
	})
	if err != nil {
		return model.Quote{}, err
	}
	e.log.Info("price override", "symbol", sym, "price", price.String())
	e.publishQuotes(ctx, []model.Quote{q})
	return q, nil
}

// afterPriceChange must be called with e.mu held.
func (e *Engine) afterPriceChange() []model.JournalEntry {
	prices := e.feed.Prices()
	now := e.now()

	e.positions.Mark(prices)
	entries := e.expiryEntries(e.hedges.Mark(prices, now))

	for _, m := range e.orders.MatchAll(prices) {
		if m.Err != nil {
			metrics.LimitFills.WithLabelValues("unfunded").Inc()
			e.log.Warn("limit order crossed but cannot be funded",
				"order_id", m.Order.ID,
				"symbol", m.Order.Symbol,
				"side", string(m.Order.Side),
				"err", m.Err,
			)
			continue
		}
		metrics.LimitFills.WithLabelValues("filled").Inc()
		e.cancelTimer(m.Order.ID)
		entries = append(entries, e.fillEntry(m.Order, newTxRef()))
	}
	return entries
}

// exec runs fn under the lock, refreshes gauges, counts the outcome and
// journals whatever entries fn produced, even on failure.
func (e *Engine) exec(ctx context.Context, op string, fn func() ([]model.JournalEntry, error)) error {
	start := time.Now()
	e.mu.Lock()
	entries, err := fn()
	e.updateGauges()
	e.mu.Unlock()

	e.observe(op, start, err)
	e.record(ctx, entries)
	return err
}

func (e *Engine) observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(model.KindOf(err))
	}
	metrics.CommandsTotal.WithLabelValues(op, outcome).Inc()
	metrics.CommandLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// updateGauges must be called with e.mu held.
func (e *Engine) updateGauges() {
	_, _, open := e.positions.Locked()
	_, _, active := e.hedges.Locked()
	metrics.OpenPositions.Set(float64(open))
	metrics.OpenOrders.Set(float64(e.orders.OpenCount()))
	metrics.ActiveHedges.Set(float64(active))
	metrics.Pools.Set(float64(e.pools.Count()))
}

// record appends entries to the journal and fans them out. Failures are
// logged; the state change they describe has already happened.
func (e *Engine) record(ctx context.Context, entries []model.JournalEntry) {
	for _, entry := range entries {
		if e.journal != nil {
			if err := e.journal.Append(ctx, entry); err != nil {
				e.log.Warn("journal append failed", "entry_id", entry.ID, "kind", entry.Kind, "err", err)
			}
		}
		for _, p := range e.publishers {
			if err := p.PublishEntry(ctx, entry); err != nil {
				e.log.Warn("publish entry failed", "entry_id", entry.ID, "err", err)
			}
		}
	}
}

func (e *Engine) publishQuotes(ctx context.Context, quotes []model.Quote) {
	for _, p := range e.publishers {
		if err := p.PublishQuotes(ctx, quotes); err != nil {
			e.log.Warn("publish quotes failed", "err", err)
		}
	}
}

// entry builds a journal record stamped with the engine clock. value is the
// signed quote-asset flow.
func (e *Engine) entry(kind string, ref int64, symbol string, amount, price, value decimal.Decimal, txRef string) model.JournalEntry {
	return model.JournalEntry{
		ID:        uuid.NewString(),
		Kind:      kind,
		RefID:     ref,
		Symbol:    symbol,
		Amount:    amount,
		Price:     price,
		Value:     value,
		TxRef:     txRef,
		Timestamp: e.now(),
	}
}

// quoteFlow returns delta when asset is the quote asset, zero otherwise.
func (e *Engine) quoteFlow(asset string, delta decimal.Decimal) decimal.Decimal {
	if asset == e.cfg.QuoteAsset {
		return delta
	}
	return decimal.Zero
}

// newTxRef returns a synthetic transaction reference: 0x followed by 64 hex
// characters. It is never derived from a real signature.
func newTxRef() string {
	a, b := uuid.New(), uuid.New()
	return "0x" + hex.EncodeToString(a[:]) + hex.EncodeToString(b[:])
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Quote returns the current quote for symbol.
func (e *Engine) Quote(symbol string) (model.Quote, error) {
	sym, err := pair.NormalizeSymbol(symbol)
	if err != nil {
		return model.Quote{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feed.Quote(sym)
}

// Quotes returns every quote sorted by symbol.
func (e *Engine) Quotes() []model.Quote {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feed.Quotes()
}

// Balances returns a copy of the ledger.
func (e *Engine) Balances() map[string]decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Snapshot()
}

// Portfolio re-marks the books and aggregates equity: the quote balance,
// spot holdings at market, open margin plus unrealized P&L, and the value
// of active hedges.
func (e *Engine) Portfolio(ctx context.Context) model.Portfolio {
	e.mu.Lock()
	prices := e.feed.Prices()
	e.positions.Mark(prices)
	entries := e.expiryEntries(e.hedges.Mark(prices, e.now()))
	e.updateGauges()

	balances := e.ledger.Snapshot()
	margin, pnl, open := e.positions.Locked()
	premium, hedgeValue, active := e.hedges.Locked()
	openOrders := e.orders.OpenCount()
	pools := e.pools.Count()
	e.mu.Unlock()

	e.record(ctx, entries)

	equity := balances[e.cfg.QuoteAsset].Add(margin).Add(pnl).Add(hedgeValue)
	for asset, amt := range balances {
		if price, ok := prices[asset]; ok {
			equity = equity.Add(amt.Mul(price))
		}
	}

	return model.Portfolio{
		QuoteAsset:    e.cfg.QuoteAsset,
		Balances:      balances,
		LockedMargin:  margin,
		LockedPremium: premium,
		PositionsPnL:  pnl,
		HedgesValue:   hedgeValue,
		Equity:        equity.Round(model.PriceScale),
		OpenPositions: open,
		OpenOrders:    openOrders,
		ActiveHedges:  active,
		Pools:         pools,
	}
}
