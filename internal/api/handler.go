// Package api exposes the engine over HTTP and WebSocket for UI clients.
//
// Request and response bodies carry decimal strings; amounts are never
// decoded into float64.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/engine"
	"github.com/aptpay/defi-engine/internal/model"
	"github.com/aptpay/defi-engine/internal/order"
	"github.com/aptpay/defi-engine/internal/pair"
	"github.com/aptpay/defi-engine/internal/position"
	"github.com/aptpay/defi-engine/internal/store"
)

// Handler serves the engine's commands and queries.
type Handler struct {
	engine  *engine.Engine
	journal store.Journal
}

// NewHandler creates a Handler. journal may be nil, in which case
// GET /journal returns an empty list.
func NewHandler(e *engine.Engine, journal store.Journal) *Handler {
	return &Handler{engine: e, journal: journal}
}

// --- Request/Response types ---

// SetPriceRequest is the JSON body for PUT /quotes/{symbol}.
type SetPriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// OpenPositionRequest is the JSON body for POST /positions.
type OpenPositionRequest struct {
	Symbol   string           `json:"symbol"`
	Side     string           `json:"side"` // "LONG" or "SHORT"
	Size     decimal.Decimal  `json:"size"`
	Leverage decimal.Decimal  `json:"leverage"`
	Margin   *decimal.Decimal `json:"margin,omitempty"` // derived when omitted
}

// PlaceOrderRequest is the JSON body for POST /orders.
type PlaceOrderRequest struct {
	Symbol     string           `json:"symbol"`
	Side       string           `json:"side"` // "BUY" or "SELL"
	Kind       string           `json:"kind"` // "MARKET" or "LIMIT"
	Amount     decimal.Decimal  `json:"amount"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
}

// CreatePoolRequest is the JSON body for POST /pools. Pair ("APT/USDC")
// may be given instead of the two token fields.
type CreatePoolRequest struct {
	Pair    string          `json:"pair,omitempty"`
	TokenA  string          `json:"token_a,omitempty"`
	TokenB  string          `json:"token_b,omitempty"`
	AmountA decimal.Decimal `json:"amount_a"`
	AmountB decimal.Decimal `json:"amount_b"`
}

// AddLiquidityRequest is the JSON body for POST /pools/{id}/liquidity.
type AddLiquidityRequest struct {
	AmountA decimal.Decimal `json:"amount_a"`
	AmountB decimal.Decimal `json:"amount_b"`
}

// SwapRequest is the JSON body for POST /swap.
type SwapRequest struct {
	TokenIn  string          `json:"token_in"`
	TokenOut string          `json:"token_out"`
	AmountIn decimal.Decimal `json:"amount_in"`
}

// OpenHedgeRequest is the JSON body for POST /hedges. Either Expiry or
// ExpiresInDays must be set.
type OpenHedgeRequest struct {
	Underlying    string          `json:"underlying"`
	Kind          string          `json:"kind"` // PUT, CALL, STRADDLE, COLLAR
	Amount        decimal.Decimal `json:"amount"`
	StrikePrice   decimal.Decimal `json:"strike_price"`
	Expiry        *time.Time      `json:"expiry,omitempty"`
	ExpiresInDays int             `json:"expires_in_days,omitempty"`
}

// Response wraps a command outcome with the receipt it produced.
type Response struct {
	engine.Result
	Data any `json:"data,omitempty"`
}

// --- Quotes and balances ---

// ListQuotes handles GET /api/v1/quotes.
func (h *Handler) ListQuotes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Quotes())
}

// GetQuote handles GET /api/v1/quotes/{symbol}.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.engine.Quote(chi.URLParam(r, "symbol"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// SetPrice handles PUT /api/v1/quotes/{symbol}.
func (h *Handler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req SetPriceRequest
	if !decode(w, r, &req) {
		return
	}
	q, err := h.engine.SetPrice(r.Context(), chi.URLParam(r, "symbol"), req.Price)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetBalances handles GET /api/v1/balances.
func (h *Handler) GetBalances(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Balances())
}

// GetPortfolio handles GET /api/v1/portfolio.
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Portfolio(r.Context()))
}

// --- Positions ---

// ListPositions handles GET /api/v1/positions[?status=open].
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	filter := position.All
	if openOnly(r) {
		filter = position.OpenOnly
	}
	writeJSON(w, http.StatusOK, h.engine.ListPositions(filter))
}

// OpenPosition handles POST /api/v1/positions.
func (h *Handler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if !decode(w, r, &req) {
		return
	}
	rc, err := h.engine.OpenPosition(r.Context(), position.OpenRequest{
		Symbol:   req.Symbol,
		Side:     model.PositionSide(req.Side),
		Size:     req.Size,
		Leverage: req.Leverage,
		Margin:   req.Margin,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Result: rc.Result(), Data: rc})
}

// ClosePosition handles POST /api/v1/positions/{id}/close.
func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rc, err := h.engine.ClosePosition(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Result: rc.Result(), Data: rc})
}

// --- Orders ---

// ListOrders handles GET /api/v1/orders[?status=open].
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := order.All
	if openOnly(r) {
		filter = order.OpenOnly
	}
	writeJSON(w, http.StatusOK, h.engine.ListOrders(filter))
}

// PlaceOrder handles POST /api/v1/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if !decode(w, r, &req) {
		return
	}

	side := model.OrderSide(req.Side)
	var (
		rc  engine.OrderReceipt
		err error
	)
	switch model.OrderKind(req.Kind) {
	case model.Market, "":
		if req.LimitPrice != nil {
			writeError(w, "limit_price is only valid for LIMIT orders", http.StatusBadRequest)
			return
		}
		rc, err = h.engine.PlaceMarketOrder(r.Context(), req.Symbol, req.Amount, side)
	case model.Limit:
		if req.LimitPrice == nil {
			writeError(w, "limit_price is required for LIMIT orders", http.StatusBadRequest)
			return
		}
		rc, err = h.engine.PlaceLimitOrder(r.Context(), req.Symbol, req.Amount, *req.LimitPrice, side)
	default:
		writeError(w, "kind must be MARKET or LIMIT", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Result: rc.Result(), Data: rc})
}

// CancelOrder handles POST /api/v1/orders/{id}/cancel.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rc, err := h.engine.CancelOrder(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Result: rc.Result(), Data: rc})
}

// MatchOrder handles POST /api/v1/orders/{id}/match.
func (h *Handler) MatchOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rc, err := h.engine.MatchCheck(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Result: rc.Result(), Data: rc})
}

// --- Pools and swaps ---

// ListPools handles GET /api/v1/pools.
func (h *Handler) ListPools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ListPools())
}

// CreatePool handles POST /api/v1/pools.
func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if !decode(w, r, &req) {
		return
	}
	tokenA, tokenB := req.TokenA, req.TokenB
	if req.Pair != "" {
		p, err := pair.Parse(req.Pair)
		if err != nil {
			writeFailure(w, err)
			return
		}
		tokenA, tokenB = p.Base, p.Quote
	}
	rc, err := h.engine.CreatePool(r.Context(), tokenA, tokenB, req.AmountA, req.AmountB)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Result: rc.Result(), Data: rc})
}

// AddLiquidity handles POST /api/v1/pools/{id}/liquidity.
func (h *Handler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req AddLiquidityRequest
	if !decode(w, r, &req) {
		return
	}
	rc, err := h.engine.AddLiquidity(r.Context(), id, req.AmountA, req.AmountB)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Result: rc.Result(), Data: rc})
}

// Swap handles POST /api/v1/swap.
func (h *Handler) Swap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if !decode(w, r, &req) {
		return
	}
	rc, err := h.engine.Swap(r.Context(), req.TokenIn, req.TokenOut, req.AmountIn)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Result: rc.Result(), Data: rc})
}

// QuoteSwap handles GET /api/v1/swap/quote?token_in=&token_out=&amount_in=.
func (h *Handler) QuoteSwap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amountIn, err := decimal.NewFromString(q.Get("amount_in"))
	if err != nil {
		writeError(w, "amount_in must be a decimal", http.StatusBadRequest)
		return
	}
	res, err := h.engine.QuoteSwap(q.Get("token_in"), q.Get("token_out"), amountIn)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Hedges ---

// ListHedges handles GET /api/v1/hedges.
func (h *Handler) ListHedges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ListHedges(r.Context()))
}

// OpenHedge handles POST /api/v1/hedges.
func (h *Handler) OpenHedge(w http.ResponseWriter, r *http.Request) {
	var req OpenHedgeRequest
	if !decode(w, r, &req) {
		return
	}
	var expiry time.Time
	switch {
	case req.Expiry != nil:
		expiry = *req.Expiry
	case req.ExpiresInDays > 0:
		expiry = h.engine.Now().AddDate(0, 0, req.ExpiresInDays)
	default:
		writeError(w, "expiry or expires_in_days is required", http.StatusBadRequest)
		return
	}
	rc, err := h.engine.OpenHedge(r.Context(), engine.HedgeRequest{
		Underlying:  req.Underlying,
		Kind:        model.HedgeKind(req.Kind),
		Amount:      req.Amount,
		StrikePrice: req.StrikePrice,
		Expiry:      expiry,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Result: rc.Result(), Data: rc})
}

// CloseHedge handles POST /api/v1/hedges/{id}/close.
func (h *Handler) CloseHedge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rc, err := h.engine.CloseHedge(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Result: rc.Result(), Data: rc})
}

// --- Journal ---

// ListJournal handles GET /api/v1/journal[?kind=&symbol=&limit=].
func (h *Handler) ListJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeJSON(w, http.StatusOK, []model.JournalEntry{})
		return
	}
	q := r.URL.Query()
	f := store.Filter{Kind: q.Get("kind"), Symbol: q.Get("symbol")}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}
	entries, err := h.journal.List(r.Context(), f)
	if err != nil {
		writeError(w, "failed to list journal", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func openOnly(r *http.Request) bool {
	return r.URL.Query().Get("status") == "open"
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, fmt.Sprintf("invalid id %q", raw), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindNone:
		return http.StatusOK
	case model.KindNotFound, model.KindInvalidMarket:
		return http.StatusNotFound
	case model.KindInvalidState, model.KindLimitExceeded:
		return http.StatusConflict
	case model.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case model.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeFailure(w http.ResponseWriter, err error) {
	res := engine.ResultOf(err)
	writeJSON(w, StatusFor(res.ErrorKind), Response{Result: res})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
