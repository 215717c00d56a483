package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/metrics"
	"github.com/aptpay/defi-engine/internal/model"
	"github.com/aptpay/defi-engine/internal/order"
	"github.com/aptpay/defi-engine/internal/pair"
)

// OrderReceipt is returned by the order commands. Filled reports whether
// this call moved the order to FILLED.
type OrderReceipt struct {
	Order  model.Order `json:"order"`
	TxRef  string      `json:"tx_ref,omitempty"`
	Filled bool        `json:"filled"`
}

// fillEntry journals a fill with its signed quote-asset flow.
func (e *Engine) fillEntry(o model.Order, txRef string) model.JournalEntry {
	price := decimal.Zero
	if o.FilledPrice != nil {
		price = *o.FilledPrice
	}
	value := o.Amount.Mul(price)
	if o.Side == model.Buy {
		value = value.Neg()
	}
	return e.entry(model.EntryOrderFill, o.ID, o.Symbol, o.Amount, price, value, txRef)
}

// PlaceMarketOrder fills immediately at the current quote.
func (e *Engine) PlaceMarketOrder(ctx context.Context, symbol string, amount decimal.Decimal, side model.OrderSide) (OrderReceipt, error) {
	sym, err := pair.NormalizeSymbol(symbol)
	if err != nil {
		return OrderReceipt{}, err
	}

	var rc OrderReceipt
	err = e.exec(ctx, "place_market_order", func() ([]model.JournalEntry, error) {
		price, err := e.feed.Price(sym)
		if err != nil {
			return nil, err
		}
		o, err := e.orders.PlaceMarket(sym, amount, side, price)
		if err != nil {
			return nil, err
		}
		rc = OrderReceipt{Order: o, TxRef: newTxRef(), Filled: true}
		return []model.JournalEntry{e.fillEntry(o, rc.TxRef)}, nil
	})
	if err != nil {
		return OrderReceipt{}, err
	}

	e.log.Info("market order filled",
		"order_id", rc.Order.ID,
		"symbol", sym,
		"side", string(side),
		"amount", amount.String(),
		"price", rc.Order.FilledPrice.String(),
		"tx_ref", rc.TxRef,
	)
	return rc, nil
}

// PlaceLimitOrder rests an order and schedules its first match check after
// the configured delay. Every tick also matches it.
func (e *Engine) PlaceLimitOrder(ctx context.Context, symbol string, amount, limitPrice decimal.Decimal, side model.OrderSide) (OrderReceipt, error) {
	sym, err := pair.NormalizeSymbol(symbol)
	if err != nil {
		return OrderReceipt{}, err
	}

	var rc OrderReceipt
	err = e.exec(ctx, "place_limit_order", func() ([]model.JournalEntry, error) {
		if !e.feed.Has(sym) {
			return nil, fmt.Errorf("%w: no quote for %s", model.ErrInvalidMarket, sym)
		}
		o, err := e.orders.PlaceLimit(sym, amount, limitPrice, side)
		if err != nil {
			return nil, err
		}
		rc = OrderReceipt{Order: o, TxRef: newTxRef()}
		e.scheduleMatch(o.ID)
		return []model.JournalEntry{
			e.entry(model.EntryOrderPlace, o.ID, sym, amount, limitPrice, decimal.Zero, rc.TxRef),
		}, nil
	})
	if err != nil {
		return OrderReceipt{}, err
	}

	e.log.Info("limit order placed",
		"order_id", rc.Order.ID,
		"symbol", sym,
		"side", string(side),
		"amount", amount.String(),
		"limit_price", limitPrice.String(),
		"tx_ref", rc.TxRef,
	)
	return rc, nil
}

// MatchCheck fills order id if it is an OPEN limit order whose condition
// holds at the current quote. Otherwise it returns the order unchanged.
// Calling it repeatedly is safe: a filled order is never filled again.
func (e *Engine) MatchCheck(ctx context.Context, id int64) (OrderReceipt, error) {
	var rc OrderReceipt
	err := e.exec(ctx, "match_check", func() ([]model.JournalEntry, error) {
		var entry *model.JournalEntry
		var err error
		rc, entry, err = e.matchLocked(id)
		if entry == nil {
			return nil, err
		}
		return []model.JournalEntry{*entry}, err
	})
	return rc, err
}

// matchLocked must be called with e.mu held.
func (e *Engine) matchLocked(id int64) (OrderReceipt, *model.JournalEntry, error) {
	o, err := e.orders.Get(id)
	if err != nil {
		return OrderReceipt{}, nil, err
	}
	price, err := e.feed.Price(o.Symbol)
	if err != nil {
		return OrderReceipt{Order: o}, nil, err
	}
	o, filled, err := e.orders.MatchCheck(id, price)
	if err != nil {
		metrics.LimitFills.WithLabelValues("unfunded").Inc()
		e.log.Warn("limit order crossed but cannot be funded",
			"order_id", id,
			"symbol", o.Symbol,
			"price", price.String(),
			"err", err,
		)
		return OrderReceipt{Order: o}, nil, err
	}
	if !filled {
		return OrderReceipt{Order: o}, nil, nil
	}

	metrics.LimitFills.WithLabelValues("filled").Inc()
	e.cancelTimer(id)
	rc := OrderReceipt{Order: o, TxRef: newTxRef(), Filled: true}
	entry := e.fillEntry(o, rc.TxRef)
	e.log.Info("limit order filled",
		"order_id", id,
		"symbol", o.Symbol,
		"price", price.String(),
		"tx_ref", rc.TxRef,
	)
	return rc, &entry, nil
}

// CancelOrder cancels an OPEN order.
func (e *Engine) CancelOrder(ctx context.Context, id int64) (OrderReceipt, error) {
	var rc OrderReceipt
	err := e.exec(ctx, "cancel_order", func() ([]model.JournalEntry, error) {
		o, err := e.orders.Cancel(id)
		if err != nil {
			return nil, err
		}
		e.cancelTimer(id)
		rc = OrderReceipt{Order: o, TxRef: newTxRef()}
		price := decimal.Zero
		if o.LimitPrice != nil {
			price = *o.LimitPrice
		}
		return []model.JournalEntry{
			e.entry(model.EntryOrderCancel, id, o.Symbol, o.Amount, price, decimal.Zero, rc.TxRef),
		}, nil
	})
	if err != nil {
		return OrderReceipt{}, err
	}
	e.log.Info("order cancelled", "order_id", id, "tx_ref", rc.TxRef)
	return rc, nil
}

// ListOrders returns orders sorted by id.
func (e *Engine) ListOrders(filter order.Filter) []model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.List(filter)
}

// scheduleMatch must be called with e.mu held. After Close no timers are
// scheduled; the order still matches on explicit checks.
func (e *Engine) scheduleMatch(id int64) {
	if e.closed {
		return
	}
	e.wg.Add(1)
	e.timers[id] = time.AfterFunc(e.cfg.MatchDelay, func() {
		defer e.wg.Done()
		e.deferredMatch(id)
	})
}

// cancelTimer must be called with e.mu held.
func (e *Engine) cancelTimer(id int64) {
	t, ok := e.timers[id]
	if !ok {
		return
	}
	if t.Stop() {
		e.wg.Done()
	}
	delete(e.timers, id)
}

func (e *Engine) deferredMatch(id int64) {
	e.mu.Lock()
	delete(e.timers, id)
	if e.closed {
		e.mu.Unlock()
		return
	}
	ctx := e.bg
	_, entry, _ := e.matchLocked(id)
	e.updateGauges()
	e.mu.Unlock()

	if entry != nil {
		e.record(ctx, []model.JournalEntry{*entry})
	}
}
