// Package pair handles asset symbol and trading pair parsing and
// validation.
package pair

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aptpay/defi-engine/internal/model"
)

// symbolRegex matches an asset ticker: 2-10 upper-case letters or digits.
// Example: APT, USDC, WBTC
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,9}$`)

// pairRegex matches: {BASE}/{QUOTE} or {BASE}-{QUOTE}
// Example: APT/USDC
var pairRegex = regexp.MustCompile(`^([A-Z][A-Z0-9]{1,9})[/-]([A-Z][A-Z0-9]{1,9})$`)

var (
	ErrInvalidSymbol = fmt.Errorf("%w: invalid asset symbol", model.ErrInvalidArgument)
	ErrInvalidPair   = fmt.Errorf("%w: invalid pair format", model.ErrInvalidArgument)
	errSameToken     = errors.New("tokens must differ")
)

// Pair is an unordered-for-lookup, ordered-for-display pair of assets.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// String renders the pair as BASE/QUOTE.
func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// Key returns an order-independent identifier: APT/USDC and USDC/APT share
// one key.
func (p Pair) Key() string {
	return Key(p.Base, p.Quote)
}

// Key returns the order-independent identifier for two tokens.
func Key(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "/" + b
}

// NormalizeSymbol upper-cases and trims s and validates it.
func NormalizeSymbol(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return s, nil
}

// New validates two distinct symbols and returns the pair.
func New(base, quote string) (Pair, error) {
	b, err := NormalizeSymbol(base)
	if err != nil {
		return Pair{}, err
	}
	q, err := NormalizeSymbol(quote)
	if err != nil {
		return Pair{}, err
	}
	if b == q {
		return Pair{}, fmt.Errorf("%w: %s/%s: %v", ErrInvalidPair, b, q, errSameToken)
	}
	return Pair{Base: b, Quote: q}, nil
}

// Parse parses and validates a pair string.
// Format: {BASE}/{QUOTE}, '-' is accepted as separator.
func Parse(s string) (Pair, error) {
	matches := pairRegex.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if matches == nil {
		return Pair{}, fmt.Errorf("%w: %s (expected {BASE}/{QUOTE})", ErrInvalidPair, s)
	}
	return New(matches[1], matches[2])
}
