// Package model defines the core domain types shared across the simulation
// engine. All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places kept when a value has gone
// through float64 math (random walk draws, square roots).
const PriceScale int32 = 8

// Hundred is used for percentage conversions.
var Hundred = decimal.NewFromInt(100)

// Quote is the market state of one tracked symbol, priced in the engine's
// quote asset.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Change24h  decimal.Decimal `json:"change_24h"` // percent, redrawn every tick
	Volume24h  decimal.Decimal `json:"volume_24h"`
	High24h    decimal.Decimal `json:"high_24h"`
	Low24h     decimal.Decimal `json:"low_24h"`
	MarketCap  decimal.Decimal `json:"market_cap"`
	Supply     decimal.Decimal `json:"-"`
	LastUpdate time.Time       `json:"last_update"`
}

// PositionSide is the direction of a leveraged position.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is a leveraged long/short exposure backed by margin taken from
// the quote asset balance.
type Position struct {
	ID            int64            `json:"id"`
	Symbol        string           `json:"symbol"`
	Side          PositionSide     `json:"side"`
	Size          decimal.Decimal  `json:"size"`
	Leverage      decimal.Decimal  `json:"leverage"`
	EntryPrice    decimal.Decimal  `json:"entry_price"`
	CurrentPrice  decimal.Decimal  `json:"current_price"`
	Margin        decimal.Decimal  `json:"margin"`
	Status        PositionStatus   `json:"status"`
	OpenedAt      time.Time        `json:"opened_at"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
	ClosePrice    *decimal.Decimal `json:"close_price,omitempty"`
	UnrealizedPnL decimal.Decimal  `json:"unrealized_pnl"`
	PnLPercent    decimal.Decimal  `json:"pnl_percent"`
	RealizedPnL   *decimal.Decimal `json:"realized_pnl,omitempty"`
}

// Notional is size valued at the entry price.
func (p Position) Notional() decimal.Decimal {
	return p.Size.Mul(p.EntryPrice)
}

// OrderSide is BUY (spend quote, receive base) or SELL (the inverse).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderKind distinguishes immediate fills from deferred ones.
type OrderKind string

const (
	Market OrderKind = "MARKET"
	Limit  OrderKind = "LIMIT"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Order is a spot order against the feed price. LIMIT orders carry a
// LimitPrice; MARKET orders never do.
type Order struct {
	ID          int64            `json:"id"`
	Symbol      string           `json:"symbol"`
	Amount      decimal.Decimal  `json:"amount"`
	Side        OrderSide        `json:"side"`
	Kind        OrderKind        `json:"kind"`
	LimitPrice  *decimal.Decimal `json:"limit_price,omitempty"`
	Status      OrderStatus      `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	FilledAt    *time.Time       `json:"filled_at,omitempty"`
	FilledPrice *decimal.Decimal `json:"filled_price,omitempty"`
	CancelledAt *time.Time       `json:"cancelled_at,omitempty"`
}

// Pool is a constant-product liquidity pool between two assets.
type Pool struct {
	ID             int64           `json:"id"`
	TokenA         string          `json:"token_a"`
	TokenB         string          `json:"token_b"`
	ReserveA       decimal.Decimal `json:"reserve_a"`
	ReserveB       decimal.Decimal `json:"reserve_b"`
	TotalLiquidity decimal.Decimal `json:"total_liquidity"`
	FeeRate        decimal.Decimal `json:"fee_rate"`
	Volume24h      decimal.Decimal `json:"volume_24h"`
	CreatedAt      time.Time       `json:"created_at"`
}

// HasPair reports whether the pool trades the two tokens, in either order.
func (p Pool) HasPair(x, y string) bool {
	return (p.TokenA == x && p.TokenB == y) || (p.TokenA == y && p.TokenB == x)
}

// HedgeKind is the payoff shape of a hedge instrument.
type HedgeKind string

const (
	Put      HedgeKind = "PUT"
	Call     HedgeKind = "CALL"
	Straddle HedgeKind = "STRADDLE"
	Collar   HedgeKind = "COLLAR"
)

// Valid reports whether k is a known hedge kind.
func (k HedgeKind) Valid() bool {
	switch k {
	case Put, Call, Straddle, Collar:
		return true
	}
	return false
}

// HedgeStatus is the lifecycle state of a hedge.
type HedgeStatus string

const (
	HedgeActive  HedgeStatus = "ACTIVE"
	HedgeClosed  HedgeStatus = "CLOSED"
	HedgeExpired HedgeStatus = "EXPIRED"
)

// Hedge is an option-like instrument bought for an upfront premium.
type Hedge struct {
	ID           int64           `json:"id"`
	Underlying   string          `json:"underlying"`
	Kind         HedgeKind       `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	StrikePrice  decimal.Decimal `json:"strike_price"`
	Expiry       time.Time       `json:"expiry"`
	Premium      decimal.Decimal `json:"premium"`
	Status       HedgeStatus     `json:"status"`
	CurrentValue decimal.Decimal `json:"current_value"`
	PnL          decimal.Decimal `json:"pnl"`
	CreatedAt    time.Time       `json:"created_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}

// JournalEntry is an immutable record of a settled engine operation.
// Once created, these are never modified or deleted.
type JournalEntry struct {
	ID        string          `json:"id" db:"id"`
	Kind      string          `json:"kind" db:"kind"`     // e.g. "position_open", "swap"
	RefID     int64           `json:"ref_id" db:"ref_id"` // position/order/pool/hedge id
	Symbol    string          `json:"symbol" db:"symbol"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Value     decimal.Decimal `json:"value" db:"value"` // signed quote-asset flow: +credit, -debit
	TxRef     string          `json:"tx_ref" db:"tx_ref"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Journal entry kinds.
const (
	EntryPositionOpen  = "position_open"
	EntryPositionClose = "position_close"
	EntryOrderFill     = "order_fill"
	EntryOrderPlace    = "order_place"
	EntryOrderCancel   = "order_cancel"
	EntryPoolCreate    = "pool_create"
	EntryPoolAdd       = "pool_add_liquidity"
	EntrySwap          = "swap"
	EntryHedgeOpen     = "hedge_open"
	EntryHedgeClose    = "hedge_close"
	EntryHedgeExpire   = "hedge_expire"
)

// Portfolio aggregates the book with balances and P&L.
type Portfolio struct {
	QuoteAsset    string                     `json:"quote_asset"`
	Balances      map[string]decimal.Decimal `json:"balances"`
	LockedMargin  decimal.Decimal            `json:"locked_margin"`
	LockedPremium decimal.Decimal            `json:"locked_premium"`
	PositionsPnL  decimal.Decimal            `json:"positions_pnl"`
	HedgesValue   decimal.Decimal            `json:"hedges_value"`
	Equity        decimal.Decimal            `json:"equity"` // quote balance + holdings at market + margin + pnl + hedge value
	OpenPositions int                        `json:"open_positions"`
	OpenOrders    int                        `json:"open_orders"`
	ActiveHedges  int                        `json:"active_hedges"`
	Pools         int                        `json:"pools"`
}
