package model

import "errors"

// ErrorKind names a failure class surfaced to callers as data.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindNotFound            ErrorKind = "NotFound"
	KindInvalidState        ErrorKind = "InvalidState"
	KindInsufficientBalance ErrorKind = "InsufficientBalance"
	KindInvalidMarket       ErrorKind = "InvalidMarket"
	KindInvalidArgument     ErrorKind = "InvalidArgument"
	KindLimitExceeded       ErrorKind = "LimitExceeded"
	KindInternal            ErrorKind = "Internal"
)

var (
	// ErrNotFound is returned when a referenced position/order/pool/hedge
	// id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an entity is not in the state an
	// operation requires, e.g. closing an already closed position.
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientBalance is returned when the ledger cannot cover an
	// operation. It is always reported before any mutation.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidMarket is returned when a symbol has no quote or a pair
	// has no pool.
	ErrInvalidMarket = errors.New("invalid market")

	// ErrInvalidArgument is returned for malformed input such as a
	// non-positive amount.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrLimitExceeded is returned when a risk limit would be breached.
	ErrLimitExceeded = errors.New("limit exceeded")
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrNotFound, KindNotFound},
	{ErrInvalidState, KindInvalidState},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrInvalidMarket, KindInvalidMarket},
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrLimitExceeded, KindLimitExceeded},
}

// KindOf classifies err. A nil error has KindNone; an error that wraps none
// of the sentinels is KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
