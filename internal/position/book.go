// Package position implements the book of leveraged LONG/SHORT positions.
//
// Margin is taken from the quote asset once at open and returned, adjusted
// by P&L, once at close. Open positions are re-marked on every feed tick and
// on every read, so listed P&L is never stale.
package position

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/ledger"
	"github.com/aptpay/defi-engine/internal/model"
	"github.com/aptpay/defi-engine/internal/risk"
)

// Filter selects which positions List returns.
type Filter int

const (
	All Filter = iota
	OpenOnly
)

// OpenRequest describes a position to open. Margin is optional; when nil it
// is derived as size × price / leverage.
type OpenRequest struct {
	Symbol   string
	Side     model.PositionSide
	Size     decimal.Decimal
	Leverage decimal.Decimal
	Margin   *decimal.Decimal
}

// Book holds every position opened during the engine's lifetime.
// Not safe for concurrent use.
type Book struct {
	ledger     *ledger.Ledger
	quoteAsset string
	limiter    *risk.Limiter
	now        func() time.Time

	nextID    int64
	positions map[int64]*model.Position
}

// NewBook creates an empty position book settling in quoteAsset.
func NewBook(l *ledger.Ledger, quoteAsset string, limiter *risk.Limiter, now func() time.Time) *Book {
	if limiter == nil {
		limiter = risk.NewLimiter(decimal.Zero, decimal.Zero, decimal.Zero, nil)
	}
	return &Book{
		ledger:     l,
		quoteAsset: quoteAsset,
		limiter:    limiter,
		now:        now,
		positions:  make(map[int64]*model.Position),
	}
}

// Unrealized computes the P&L of p marked at price:
//
//	delta = LONG ? price - entry : entry - price
//	pnl   = delta × size × leverage
//	pct   = pnl / margin × 100
func Unrealized(p model.Position, price decimal.Decimal) (pnl, pct decimal.Decimal) {
	delta := price.Sub(p.EntryPrice)
	if p.Side == model.Short {
		delta = delta.Neg()
	}
	pnl = delta.Mul(p.Size).Mul(p.Leverage)
	if p.Margin.IsPositive() {
		pct = pnl.Div(p.Margin).Mul(model.Hundred).Round(4)
	}
	return pnl, pct
}

// Open validates req, reserves margin from the ledger and records an OPEN
// position at price. Nothing is mutated when any check fails.
func (b *Book) Open(req OpenRequest, price decimal.Decimal) (model.Position, error) {
	if req.Side != model.Long && req.Side != model.Short {
		return model.Position{}, fmt.Errorf("%w: side must be LONG or SHORT", model.ErrInvalidArgument)
	}
	if !req.Size.IsPositive() {
		return model.Position{}, fmt.Errorf("%w: size must be positive", model.ErrInvalidArgument)
	}
	if !price.IsPositive() {
		return model.Position{}, fmt.Errorf("%w: no valid price for %s", model.ErrInvalidMarket, req.Symbol)
	}
	if err := b.limiter.CheckLeverage(req.Leverage); err != nil {
		return model.Position{}, err
	}

	margin := req.Size.Mul(price).Div(req.Leverage)
	if req.Margin != nil {
		if !req.Margin.IsPositive() {
			return model.Position{}, fmt.Errorf("%w: margin must be positive", model.ErrInvalidArgument)
		}
		margin = *req.Margin
	}

	exposure := risk.Exposure(req.Size, price, req.Leverage)
	if err := b.limiter.CheckLimit(req.Symbol, exposure, b.Exposures()); err != nil {
		return model.Position{}, err
	}

	if err := b.ledger.Apply(ledger.Debit(b.quoteAsset, margin)); err != nil {
		return model.Position{}, fmt.Errorf("open %s position on %s needs margin %s: %w",
			req.Side, req.Symbol, margin.String(), err)
	}

	b.nextID++
	p := &model.Position{
		ID:            b.nextID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Size:          req.Size,
		Leverage:      req.Leverage,
		EntryPrice:    price,
		CurrentPrice:  price,
		Margin:        margin,
		Status:        model.PositionOpen,
		OpenedAt:      b.now(),
		UnrealizedPnL: decimal.Zero,
		PnLPercent:    decimal.Zero,
	}
	b.positions[p.ID] = p
	return *p, nil
}

// Close marks position id at price, returns margin + pnl (floored at zero)
// to the ledger and moves it to CLOSED. The returned decimal is the amount
// credited.
func (b *Book) Close(id int64, price decimal.Decimal) (model.Position, decimal.Decimal, error) {
	p, ok := b.positions[id]
	if !ok {
		return model.Position{}, decimal.Zero, fmt.Errorf("%w: position %d", model.ErrNotFound, id)
	}
	if p.Status != model.PositionOpen {
		return *p, decimal.Zero, fmt.Errorf("%w: position %d is %s", model.ErrInvalidState, id, p.Status)
	}
	if !price.IsPositive() {
		return *p, decimal.Zero, fmt.Errorf("%w: no valid price for %s", model.ErrInvalidMarket, p.Symbol)
	}

	pnl, pct := Unrealized(*p, price)
	credit := p.Margin.Add(pnl)
	if credit.IsNegative() {
		credit = decimal.Zero
	}
	if err := b.ledger.Apply(ledger.Credit(b.quoteAsset, credit)); err != nil {
		return *p, decimal.Zero, err
	}

	at := b.now()
	closePrice := price
	realized := pnl
	p.CurrentPrice = price
	p.UnrealizedPnL = decimal.Zero
	p.PnLPercent = pct
	p.Status = model.PositionClosed
	p.ClosedAt = &at
	p.ClosePrice = &closePrice
	p.RealizedPnL = &realized
	return *p, credit, nil
}

// Mark re-values every OPEN position whose symbol has a price in prices.
func (b *Book) Mark(prices map[string]decimal.Decimal) {
	for _, p := range b.positions {
		if p.Status != model.PositionOpen {
			continue
		}
		price, ok := prices[p.Symbol]
		if !ok {
			continue
		}
		p.CurrentPrice = price
		p.UnrealizedPnL, p.PnLPercent = Unrealized(*p, price)
	}
}

// List refreshes open positions against prices and returns copies sorted by
// id.
func (b *Book) List(filter Filter, prices map[string]decimal.Decimal) []model.Position {
	b.Mark(prices)
	out := make([]model.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if filter == OpenOnly && p.Status != model.PositionOpen {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a copy of position id.
func (b *Book) Get(id int64) (model.Position, error) {
	p, ok := b.positions[id]
	if !ok {
		return model.Position{}, fmt.Errorf("%w: position %d", model.ErrNotFound, id)
	}
	return *p, nil
}

// Exposures returns leveraged notional per symbol across OPEN positions.
func (b *Book) Exposures() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, p := range b.positions {
		if p.Status != model.PositionOpen {
			continue
		}
		out[p.Symbol] = out[p.Symbol].Add(risk.Exposure(p.Size, p.EntryPrice, p.Leverage))
	}
	return out
}

// Locked returns the margin held by OPEN positions and their summed
// unrealized P&L at the last mark.
func (b *Book) Locked() (margin, pnl decimal.Decimal, open int) {
	for _, p := range b.positions {
		if p.Status != model.PositionOpen {
			continue
		}
		margin = margin.Add(p.Margin)
		pnl = pnl.Add(p.UnrealizedPnL)
		open++
	}
	return margin, pnl, open
}
