// Package order implements a simplified spot order book against the feed
// price. MARKET orders fill on placement; LIMIT orders rest until a match
// check sees the price cross their limit.
package order

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/ledger"
	"github.com/aptpay/defi-engine/internal/model"
)

// Filter selects which orders List returns.
type Filter int

const (
	All Filter = iota
	OpenOnly
)

// Book holds every order placed during the engine's lifetime.
// Not safe for concurrent use.
type Book struct {
	ledger     *ledger.Ledger
	quoteAsset string
	now        func() time.Time

	nextID int64
	orders map[int64]*model.Order
}

// NewBook creates an empty order book settling in quoteAsset.
func NewBook(l *ledger.Ledger, quoteAsset string, now func() time.Time) *Book {
	return &Book{
		ledger:     l,
		quoteAsset: quoteAsset,
		now:        now,
		orders:     make(map[int64]*model.Order),
	}
}

// Crosses reports whether a limit order on side would fill at price:
// BUY when price ≤ limit, SELL when price ≥ limit.
func Crosses(side model.OrderSide, limit, price decimal.Decimal) bool {
	if side == model.Buy {
		return price.LessThanOrEqual(limit)
	}
	return price.GreaterThanOrEqual(limit)
}

// settlement returns the ledger batch for filling amount of symbol at price.
func (b *Book) settlement(symbol string, side model.OrderSide, amount, price decimal.Decimal) []ledger.Change {
	cost := amount.Mul(price)
	if side == model.Buy {
		return []ledger.Change{ledger.Debit(b.quoteAsset, cost), ledger.Credit(symbol, amount)}
	}
	return []ledger.Change{ledger.Debit(symbol, amount), ledger.Credit(b.quoteAsset, cost)}
}

func validate(symbol string, side model.OrderSide, amount decimal.Decimal) error {
	if symbol == "" {
		return fmt.Errorf("%w: symbol is required", model.ErrInvalidArgument)
	}
	if side != model.Buy && side != model.Sell {
		return fmt.Errorf("%w: side must be BUY or SELL", model.ErrInvalidArgument)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", model.ErrInvalidArgument)
	}
	return nil
}

// PlaceMarket fills an order immediately at price. BUY needs
// amount × price of the quote asset, SELL needs amount of the base.
func (b *Book) PlaceMarket(symbol string, amount decimal.Decimal, side model.OrderSide, price decimal.Decimal) (model.Order, error) {
	if err := validate(symbol, side, amount); err != nil {
		return model.Order{}, err
	}
	if !price.IsPositive() {
		return model.Order{}, fmt.Errorf("%w: no valid price for %s", model.ErrInvalidMarket, symbol)
	}
	if err := b.ledger.Apply(b.settlement(symbol, side, amount, price)...); err != nil {
		return model.Order{}, fmt.Errorf("market %s %s %s: %w", side, amount.String(), symbol, err)
	}

	at := b.now()
	fill := price
	b.nextID++
	o := &model.Order{
		ID:          b.nextID,
		Symbol:      symbol,
		Amount:      amount,
		Side:        side,
		Kind:        model.Market,
		Status:      model.OrderFilled,
		CreatedAt:   at,
		FilledAt:    &at,
		FilledPrice: &fill,
	}
	b.orders[o.ID] = o
	return *o, nil
}

// PlaceLimit records an OPEN limit order. The ledger is not touched until
// the order fills.
func (b *Book) PlaceLimit(symbol string, amount, limitPrice decimal.Decimal, side model.OrderSide) (model.Order, error) {
	if err := validate(symbol, side, amount); err != nil {
		return model.Order{}, err
	}
	if !limitPrice.IsPositive() {
		return model.Order{}, fmt.Errorf("%w: limit price must be positive", model.ErrInvalidArgument)
	}

	limit := limitPrice
	b.nextID++
	o := &model.Order{
		ID:         b.nextID,
		Symbol:     symbol,
		Amount:     amount,
		Side:       side,
		Kind:       model.Limit,
		LimitPrice: &limit,
		Status:     model.OrderOpen,
		CreatedAt:  b.now(),
	}
	b.orders[o.ID] = o
	return *o, nil
}

// MatchCheck fills order id at price when it is an OPEN limit order whose
// condition holds. In every other state it is a no-op returning the order
// unchanged. If the ledger cannot cover the fill the order stays OPEN and
// the balance error is returned.
func (b *Book) MatchCheck(id int64, price decimal.Decimal) (model.Order, bool, error) {
	o, ok := b.orders[id]
	if !ok {
		return model.Order{}, false, fmt.Errorf("%w: order %d", model.ErrNotFound, id)
	}
	if o.Status != model.OrderOpen || o.Kind != model.Limit || o.LimitPrice == nil {
		return *o, false, nil
	}
	if !price.IsPositive() || !Crosses(o.Side, *o.LimitPrice, price) {
		return *o, false, nil
	}
	if err := b.ledger.Apply(b.settlement(o.Symbol, o.Side, o.Amount, price)...); err != nil {
		return *o, false, fmt.Errorf("fill order %d: %w", id, err)
	}

	at := b.now()
	fill := price
	o.Status = model.OrderFilled
	o.FilledAt = &at
	o.FilledPrice = &fill
	return *o, true, nil
}

// MatchResult is the outcome of one order in a MatchAll pass.
type MatchResult struct {
	Order  model.Order
	Filled bool
	Err    error
}

// MatchAll runs MatchCheck over every OPEN limit order in id order and
// returns the orders that filled or failed to settle.
func (b *Book) MatchAll(prices map[string]decimal.Decimal) []MatchResult {
	var out []MatchResult
	for _, id := range b.openIDs() {
		price, ok := prices[b.orders[id].Symbol]
		if !ok {
			continue
		}
		o, filled, err := b.MatchCheck(id, price)
		if filled || err != nil {
			out = append(out, MatchResult{Order: o, Filled: filled, Err: err})
		}
	}
	return out
}

// Cancel moves an OPEN order to CANCELLED. No ledger effect.
func (b *Book) Cancel(id int64) (model.Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: order %d", model.ErrNotFound, id)
	}
	if o.Status != model.OrderOpen {
		return *o, fmt.Errorf("%w: order %d is %s", model.ErrInvalidState, id, o.Status)
	}
	at := b.now()
	o.Status = model.OrderCancelled
	o.CancelledAt = &at
	return *o, nil
}

// Get returns a copy of order id.
func (b *Book) Get(id int64) (model.Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: order %d", model.ErrNotFound, id)
	}
	return *o, nil
}

// List returns copies sorted by id.
func (b *Book) List(filter Filter) []model.Order {
	out := make([]model.Order, 0, len(b.orders))
	for _, o := range b.orders {
		if filter == OpenOnly && o.Status != model.OrderOpen {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenCount returns the number of resting orders.
func (b *Book) OpenCount() int {
	return len(b.openIDs())
}

func (b *Book) openIDs() []int64 {
	var ids []int64
	for id, o := range b.orders {
		if o.Status == model.OrderOpen {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
