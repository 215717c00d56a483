package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/model"
)

// Result is the flat outcome shape handed to UI callers. It never carries
// engine internals beyond ids, references and amounts.
type Result struct {
	Success   bool             `json:"success"`
	ErrorKind model.ErrorKind  `json:"error_kind,omitempty"`
	ID        *int64           `json:"id,omitempty"`
	TxRef     string           `json:"tx_ref,omitempty"`
	PnL       *decimal.Decimal `json:"pnl,omitempty"`
	AmountOut *decimal.Decimal `json:"amount_out,omitempty"`
	Message   string           `json:"message"`
}

// ResultOf maps a bare outcome to a Result. A nil error is a success.
func ResultOf(err error) Result {
	if err == nil {
		return Result{Success: true, Message: "ok"}
	}
	return Result{
		Success:   false,
		ErrorKind: model.KindOf(err),
		Message:   err.Error(),
	}
}

func success(id int64, txRef, msg string) Result {
	return Result{Success: true, ID: &id, TxRef: txRef, Message: msg}
}

// Result summarizes an opened or closed position.
func (r PositionReceipt) Result() Result {
	p := r.Position
	if p.Status == model.PositionClosed && p.RealizedPnL != nil {
		res := success(p.ID, r.TxRef, fmt.Sprintf("Closed %s %s %s at %s, P&L %s",
			p.Side, p.Size, p.Symbol, p.ClosePrice, p.RealizedPnL.StringFixed(2)))
		pnl := *p.RealizedPnL
		res.PnL = &pnl
		return res
	}
	return success(p.ID, r.TxRef, fmt.Sprintf("Opened %s %s %s at %s with %sx leverage, margin %s",
		p.Side, p.Size, p.Symbol, p.EntryPrice, p.Leverage, p.Margin.StringFixed(2)))
}

// Result summarizes an order command.
func (r OrderReceipt) Result() Result {
	o := r.Order
	switch {
	case o.Status == model.OrderFilled && o.FilledPrice != nil:
		return success(o.ID, r.TxRef, fmt.Sprintf("%s %s %s filled at %s", o.Side, o.Amount, o.Symbol, o.FilledPrice))
	case o.Status == model.OrderCancelled:
		return success(o.ID, r.TxRef, fmt.Sprintf("Order %d cancelled", o.ID))
	case o.LimitPrice != nil:
		return success(o.ID, r.TxRef, fmt.Sprintf("%s %s %s limit %s is open", o.Side, o.Amount, o.Symbol, o.LimitPrice))
	default:
		return success(o.ID, r.TxRef, fmt.Sprintf("Order %d is %s", o.ID, o.Status))
	}
}

// Result summarizes a pool command.
func (r PoolReceipt) Result() Result {
	p := r.Pool
	return success(p.ID, r.TxRef, fmt.Sprintf("Pool %d %s/%s reserves %s/%s",
		p.ID, p.TokenA, p.TokenB, p.ReserveA, p.ReserveB))
}

// Result summarizes a swap.
func (r SwapReceipt) Result() Result {
	res := success(r.PoolID, r.TxRef, fmt.Sprintf("Swapped %s %s for %s %s",
		r.AmountIn, r.TokenIn, r.AmountOut.StringFixed(8), r.TokenOut))
	out := r.AmountOut
	res.AmountOut = &out
	return res
}

// Result summarizes an opened or closed hedge.
func (r HedgeReceipt) Result() Result {
	h := r.Hedge
	if h.Status == model.HedgeActive {
		return success(h.ID, r.TxRef, fmt.Sprintf("Opened %s on %s %s strike %s, premium %s",
			h.Kind, h.Amount, h.Underlying, h.StrikePrice, h.Premium.StringFixed(2)))
	}
	res := success(h.ID, r.TxRef, fmt.Sprintf("Hedge %d %s, P&L %s", h.ID, h.Status, h.PnL.StringFixed(2)))
	pnl := h.PnL
	res.PnL = &pnl
	return res
}
