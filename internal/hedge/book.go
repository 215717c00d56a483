package hedge

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/ledger"
	"github.com/aptpay/defi-engine/internal/model"
)

// Settlement is a hedge that left ACTIVE together with the amount credited
// back to the quote asset.
type Settlement struct {
	Hedge  model.Hedge
	Credit decimal.Decimal
}

// Book holds every hedge opened during the engine's lifetime.
// Not safe for concurrent use.
type Book struct {
	ledger     *ledger.Ledger
	quoteAsset string

	nextID int64
	hedges map[int64]*model.Hedge
}

// NewBook creates an empty hedge book paying premiums in quoteAsset.
func NewBook(l *ledger.Ledger, quoteAsset string) *Book {
	return &Book{
		ledger:     l,
		quoteAsset: quoteAsset,
		hedges:     make(map[int64]*model.Hedge),
	}
}

// Open prices a hedge at now, debits the premium and records it ACTIVE.
// price is the underlying's current quote, used for the opening mark.
func (b *Book) Open(underlying string, kind model.HedgeKind, amount, strike decimal.Decimal, expiry time.Time, price decimal.Decimal, now time.Time) (model.Hedge, error) {
	kind = model.HedgeKind(strings.ToUpper(string(kind)))
	if !kind.Valid() {
		return model.Hedge{}, fmt.Errorf("%w: unknown hedge kind %q", model.ErrInvalidArgument, kind)
	}
	if !amount.IsPositive() {
		return model.Hedge{}, fmt.Errorf("%w: amount must be positive", model.ErrInvalidArgument)
	}
	if !strike.IsPositive() {
		return model.Hedge{}, fmt.Errorf("%w: strike price must be positive", model.ErrInvalidArgument)
	}
	if !expiry.After(now) {
		return model.Hedge{}, fmt.Errorf("%w: expiry must be in the future", model.ErrInvalidArgument)
	}

	premium := Premium(amount, expiry, now)
	if err := b.ledger.Apply(ledger.Debit(b.quoteAsset, premium)); err != nil {
		return model.Hedge{}, fmt.Errorf("open %s hedge on %s needs premium %s: %w",
			kind, underlying, premium.String(), err)
	}

	value := Value(kind, amount, strike, price, expiry, now)
	b.nextID++
	h := &model.Hedge{
		ID:           b.nextID,
		Underlying:   underlying,
		Kind:         kind,
		Amount:       amount,
		StrikePrice:  strike,
		Expiry:       expiry,
		Premium:      premium,
		Status:       model.HedgeActive,
		CurrentValue: value,
		PnL:          value.Sub(premium),
		CreatedAt:    now,
	}
	b.hedges[h.ID] = h
	return *h, nil
}

// refresh re-marks an ACTIVE hedge. A missing price keeps the last value.
func refresh(h *model.Hedge, prices map[string]decimal.Decimal, now time.Time) {
	if price, ok := prices[h.Underlying]; ok {
		h.CurrentValue = Value(h.Kind, h.Amount, h.StrikePrice, price, h.Expiry, now)
	}
	h.PnL = h.CurrentValue.Sub(h.Premium)
}

// expire settles h at its final mark: max(0, currentValue) goes back to
// the ledger and pnl is fixed against the premium.
func (b *Book) expire(h *model.Hedge, now time.Time) (Settlement, error) {
	credit := decimal.Max(decimal.Zero, h.CurrentValue)
	if err := b.ledger.Apply(ledger.Credit(b.quoteAsset, credit)); err != nil {
		return Settlement{}, err
	}
	at := now
	h.PnL = credit.Sub(h.Premium)
	h.Status = model.HedgeExpired
	h.ClosedAt = &at
	return Settlement{Hedge: *h, Credit: credit}, nil
}

// Mark re-values ACTIVE hedges and expires the ones whose expiry has been
// reached. The expired hedges are returned in id order.
func (b *Book) Mark(prices map[string]decimal.Decimal, now time.Time) []Settlement {
	var expired []Settlement
	for _, id := range b.ids() {
		h := b.hedges[id]
		if h.Status != model.HedgeActive {
			continue
		}
		refresh(h, prices, now)
		if now.Before(h.Expiry) {
			continue
		}
		if s, err := b.expire(h, now); err == nil {
			expired = append(expired, s)
		}
	}
	return expired
}

// Close re-marks hedge id at price and credits its current value. A hedge
// found past expiry is expired instead and InvalidState is returned.
func (b *Book) Close(id int64, price decimal.Decimal, now time.Time) (Settlement, error) {
	h, ok := b.hedges[id]
	if !ok {
		return Settlement{}, fmt.Errorf("%w: hedge %d", model.ErrNotFound, id)
	}
	if h.Status != model.HedgeActive {
		return Settlement{Hedge: *h}, fmt.Errorf("%w: hedge %d is %s", model.ErrInvalidState, id, h.Status)
	}

	refresh(h, map[string]decimal.Decimal{h.Underlying: price}, now)
	if !now.Before(h.Expiry) {
		s, err := b.expire(h, now)
		if err != nil {
			return Settlement{Hedge: *h}, err
		}
		return s, fmt.Errorf("%w: hedge %d expired", model.ErrInvalidState, id)
	}

	credit := decimal.Max(decimal.Zero, h.CurrentValue)
	if err := b.ledger.Apply(ledger.Credit(b.quoteAsset, credit)); err != nil {
		return Settlement{Hedge: *h}, err
	}
	at := now
	h.Status = model.HedgeClosed
	h.ClosedAt = &at
	return Settlement{Hedge: *h, Credit: credit}, nil
}

// List refreshes the book at now and returns copies of every hedge sorted
// by id, together with any hedges that expired during the refresh.
func (b *Book) List(prices map[string]decimal.Decimal, now time.Time) ([]model.Hedge, []Settlement) {
	expired := b.Mark(prices, now)
	out := make([]model.Hedge, 0, len(b.hedges))
	for _, id := range b.ids() {
		out = append(out, *b.hedges[id])
	}
	return out, expired
}

// Get returns a copy of hedge id.
func (b *Book) Get(id int64) (model.Hedge, error) {
	h, ok := b.hedges[id]
	if !ok {
		return model.Hedge{}, fmt.Errorf("%w: hedge %d", model.ErrNotFound, id)
	}
	return *h, nil
}

// Locked returns the premium paid for ACTIVE hedges and their value at the
// last mark.
func (b *Book) Locked() (premium, value decimal.Decimal, active int) {
	for _, h := range b.hedges {
		if h.Status != model.HedgeActive {
			continue
		}
		premium = premium.Add(h.Premium)
		value = value.Add(h.CurrentValue)
		active++
	}
	return premium, value, active
}

func (b *Book) ids() []int64 {
	ids := make([]int64, 0, len(b.hedges))
	for id := range b.hedges {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
