package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/hedge"
	"github.com/aptpay/defi-engine/internal/metrics"
	"github.com/aptpay/defi-engine/internal/model"
	"github.com/aptpay/defi-engine/internal/pair"
)

// HedgeRequest describes a hedge to open.
type HedgeRequest struct {
	Underlying  string
	Kind        model.HedgeKind
	Amount      decimal.Decimal
	StrikePrice decimal.Decimal
	Expiry      time.Time
}

// HedgeReceipt is returned by OpenHedge and CloseHedge. Credit is the value
// returned to the ledger at close.
type HedgeReceipt struct {
	Hedge  model.Hedge     `json:"hedge"`
	TxRef  string          `json:"tx_ref"`
	Credit decimal.Decimal `json:"credit"`
}

// expiryEntries journals hedges settled by expiry. Must be called with e.mu
// held.
func (e *Engine) expiryEntries(settled []hedge.Settlement) []model.JournalEntry {
	entries := make([]model.JournalEntry, 0, len(settled))
	for _, s := range settled {
		metrics.HedgeExpiries.Inc()
		h := s.Hedge
		e.log.Info("hedge expired",
			"hedge_id", h.ID,
			"underlying", h.Underlying,
			"kind", string(h.Kind),
			"credit", s.Credit.String(),
			"pnl", h.PnL.String(),
		)
		entries = append(entries,
			e.entry(model.EntryHedgeExpire, h.ID, h.Underlying, h.Amount, h.StrikePrice, s.Credit, newTxRef()))
	}
	return entries
}

// OpenHedge buys a hedge on underlying, paying the premium from the quote
// asset.
func (e *Engine) OpenHedge(ctx context.Context, req HedgeRequest) (HedgeReceipt, error) {
	sym, err := pair.NormalizeSymbol(req.Underlying)
	if err != nil {
		return HedgeReceipt{}, err
	}

	var rc HedgeReceipt
	err = e.exec(ctx, "open_hedge", func() ([]model.JournalEntry, error) {
		price, err := e.feed.Price(sym)
		if err != nil {
			return nil, err
		}
		h, err := e.hedges.Open(sym, req.Kind, req.Amount, req.StrikePrice, req.Expiry, price, e.now())
		if err != nil {
			return nil, err
		}
		rc = HedgeReceipt{Hedge: h, TxRef: newTxRef()}
		return []model.JournalEntry{
			e.entry(model.EntryHedgeOpen, h.ID, sym, h.Amount, h.StrikePrice, h.Premium.Neg(), rc.TxRef),
		}, nil
	})
	if err != nil {
		return HedgeReceipt{}, err
	}

	h := rc.Hedge
	e.log.Info("hedge opened",
		"hedge_id", h.ID,
		"underlying", h.Underlying,
		"kind", string(h.Kind),
		"amount", h.Amount.String(),
		"strike", h.StrikePrice.String(),
		"expiry", h.Expiry.Format(time.RFC3339),
		"premium", h.Premium.String(),
		"tx_ref", rc.TxRef,
	)
	return rc, nil
}

// CloseHedge marks hedge id to market and credits its current value. Due
// hedges are expired first, so closing one that has reached expiry fails
// with InvalidState after it has been settled.
func (e *Engine) CloseHedge(ctx context.Context, id int64) (HedgeReceipt, error) {
	var rc HedgeReceipt
	err := e.exec(ctx, "close_hedge", func() ([]model.JournalEntry, error) {
		now := e.now()
		entries := e.expiryEntries(e.hedges.Mark(e.feed.Prices(), now))

		h, err := e.hedges.Get(id)
		if err != nil {
			return entries, err
		}
		price, err := e.feed.Price(h.Underlying)
		if err != nil {
			return entries, err
		}
		s, err := e.hedges.Close(id, price, now)
		if err != nil {
			return entries, err
		}
		rc = HedgeReceipt{Hedge: s.Hedge, TxRef: newTxRef(), Credit: s.Credit}
		return append(entries,
			e.entry(model.EntryHedgeClose, id, h.Underlying, h.Amount, price, s.Credit, rc.TxRef)), nil
	})
	if err != nil {
		return HedgeReceipt{}, err
	}

	e.log.Info("hedge closed",
		"hedge_id", id,
		"credit", rc.Credit.String(),
		"pnl", rc.Hedge.PnL.String(),
		"tx_ref", rc.TxRef,
	)
	return rc, nil
}

// ListHedges re-marks active hedges, expires due ones and returns every
// hedge sorted by id.
func (e *Engine) ListHedges(ctx context.Context) []model.Hedge {
	e.mu.Lock()
	hedges, settled := e.hedges.List(e.feed.Prices(), e.now())
	entries := e.expiryEntries(settled)
	e.updateGauges()
	e.mu.Unlock()

	e.record(ctx, entries)
	return hedges
}
