// Package ledger holds the single balance ledger shared by every book in the
// engine. Changes are applied as all-or-nothing batches: either every change
// in a call lands, or none does.
package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/model"
)

// Change is a signed adjustment of one asset balance.
type Change struct {
	Asset string
	Delta decimal.Decimal
}

// Credit returns a change that adds amount to asset.
func Credit(asset string, amount decimal.Decimal) Change {
	return Change{Asset: asset, Delta: amount}
}

// Debit returns a change that removes amount from asset.
func Debit(asset string, amount decimal.Decimal) Change {
	return Change{Asset: asset, Delta: amount.Neg()}
}

// Ledger maps asset symbols to available quantities. Balances never go
// negative.
//
// Ledger is not safe for concurrent use; the engine serializes access
// together with the book mutation each change belongs to.
type Ledger struct {
	balances map[string]decimal.Decimal
}

// New creates a ledger seeded with the given balances. Negative seeds are
// rejected.
func New(initial map[string]decimal.Decimal) (*Ledger, error) {
	l := &Ledger{balances: make(map[string]decimal.Decimal, len(initial))}
	for asset, amt := range initial {
		if amt.IsNegative() {
			return nil, fmt.Errorf("%w: initial balance of %s is negative", model.ErrInvalidArgument, asset)
		}
		l.balances[asset] = amt
	}
	return l, nil
}

// Balance returns the available quantity of asset (zero if never seen).
func (l *Ledger) Balance(asset string) decimal.Decimal {
	return l.balances[asset]
}

// Covers reports whether the ledger holds at least amount of asset.
func (l *Ledger) Covers(asset string, amount decimal.Decimal) bool {
	return l.balances[asset].GreaterThanOrEqual(amount)
}

// Check validates a batch without applying it.
func (l *Ledger) Check(changes ...Change) error {
	_, err := l.resolve(changes)
	return err
}

// Apply validates every change first and commits them together. If any
// resulting balance would be negative it returns ErrInsufficientBalance and
// the ledger is left untouched.
func (l *Ledger) Apply(changes ...Change) error {
	next, err := l.resolve(changes)
	if err != nil {
		return err
	}
	for asset, bal := range next {
		l.balances[asset] = bal
	}
	return nil
}

// resolve folds the batch per asset and returns the would-be balances.
func (l *Ledger) resolve(changes []Change) (map[string]decimal.Decimal, error) {
	next := make(map[string]decimal.Decimal, len(changes))
	for _, c := range changes {
		if c.Asset == "" {
			return nil, fmt.Errorf("%w: empty asset symbol", model.ErrInvalidArgument)
		}
		cur, ok := next[c.Asset]
		if !ok {
			cur = l.balances[c.Asset]
		}
		next[c.Asset] = cur.Add(c.Delta)
	}
	for _, asset := range sortedKeys(next) {
		if bal := next[asset]; bal.IsNegative() {
			return nil, fmt.Errorf("%w: %s balance %s, short by %s",
				model.ErrInsufficientBalance, asset, l.balances[asset].String(), bal.Neg().String())
		}
	}
	return next, nil
}

// Snapshot returns a copy of all balances.
func (l *Ledger) Snapshot() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(l.balances))
	for asset, bal := range l.balances {
		out[asset] = bal
	}
	return out
}

// Total sums every balance regardless of asset. Only meaningful for
// conservation checks where prices are held fixed.
func (l *Ledger) Total() decimal.Decimal {
	total := decimal.Zero
	for _, bal := range l.balances {
		total = total.Add(bal)
	}
	return total
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
