package engine

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/metrics"
	"github.com/aptpay/defi-engine/internal/model"
	"github.com/aptpay/defi-engine/internal/pair"
	"github.com/aptpay/defi-engine/internal/position"
)

// PositionReceipt is returned by OpenPosition and ClosePosition. Credit is
// the amount returned to the ledger at close.
type PositionReceipt struct {
	Position model.Position  `json:"position"`
	TxRef    string          `json:"tx_ref"`
	Credit   decimal.Decimal `json:"credit"`
}

// OpenPosition opens a leveraged position at the current quote.
func (e *Engine) OpenPosition(ctx context.Context, req position.OpenRequest) (PositionReceipt, error) {
	sym, err := pair.NormalizeSymbol(req.Symbol)
	if err != nil {
		return PositionReceipt{}, err
	}
	req.Symbol = sym

	var rc PositionReceipt
	err = e.exec(ctx, "open_position", func() ([]model.JournalEntry, error) {
		price, err := e.feed.Price(sym)
		if err != nil {
			return nil, err
		}
		p, err := e.positions.Open(req, price)
		if err != nil {
			return nil, err
		}
		rc = PositionReceipt{Position: p, TxRef: newTxRef()}
		return []model.JournalEntry{
			e.entry(model.EntryPositionOpen, p.ID, sym, p.Size, price, p.Margin.Neg(), rc.TxRef),
		}, nil
	})
	if err != nil {
		if errors.Is(err, model.ErrLimitExceeded) {
			metrics.LimitRejections.Inc()
		}
		return PositionReceipt{}, err
	}

	p := rc.Position
	e.log.Info("position opened",
		"position_id", p.ID,
		"symbol", p.Symbol,
		"side", string(p.Side),
		"size", p.Size.String(),
		"leverage", p.Leverage.String(),
		"entry_price", p.EntryPrice.String(),
		"margin", p.Margin.String(),
		"tx_ref", rc.TxRef,
	)
	return rc, nil
}

// ClosePosition settles position id at the current quote.
func (e *Engine) ClosePosition(ctx context.Context, id int64) (PositionReceipt, error) {
	var rc PositionReceipt
	err := e.exec(ctx, "close_position", func() ([]model.JournalEntry, error) {
		p, err := e.positions.Get(id)
		if err != nil {
			return nil, err
		}
		price, err := e.feed.Price(p.Symbol)
		if err != nil {
			return nil, err
		}
		closed, credit, err := e.positions.Close(id, price)
		if err != nil {
			return nil, err
		}
		rc = PositionReceipt{Position: closed, TxRef: newTxRef(), Credit: credit}
		return []model.JournalEntry{
			e.entry(model.EntryPositionClose, id, closed.Symbol, closed.Size, price, credit, rc.TxRef),
		}, nil
	})
	if err != nil {
		return PositionReceipt{}, err
	}

	p := rc.Position
	e.log.Info("position closed",
		"position_id", p.ID,
		"symbol", p.Symbol,
		"close_price", p.ClosePrice.String(),
		"pnl", p.RealizedPnL.String(),
		"credit", rc.Credit.String(),
		"tx_ref", rc.TxRef,
	)
	return rc, nil
}

// ListPositions re-marks open positions and returns them sorted by id.
func (e *Engine) ListPositions(filter position.Filter) []model.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.List(filter, e.feed.Prices())
}
