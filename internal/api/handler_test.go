package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/aptpay/defi-engine/internal/api"
	"github.com/aptpay/defi-engine/internal/engine"
	"github.com/aptpay/defi-engine/internal/model"
	"github.com/aptpay/defi-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates an engine with an in-memory journal and mounts it on
// the full router.
func newTestEnv(t *testing.T, opts ...engine.Option) (*engine.Engine, *store.MemoryJournal, http.Handler) {
	t.Helper()
	journal := store.NewMemoryJournal()
	e, err := engine.New(engine.Config{
		QuoteAsset: "USDC",
		Markets: []model.Quote{
			{Symbol: "SYM", Price: d(10)},
			{Symbol: "APT", Price: d(8)},
		},
		Balances: map[string]decimal.Decimal{
			"USDC": d(1000),
			"APT":  d(100),
		},
		MatchDelay: time.Hour,
	}, append([]engine.Option{engine.WithJournal(journal)}, opts...)...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, journal, api.NewRouter(api.NewHandler(e, journal), nil)
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type positionResponse struct {
	engine.Result
	Data engine.PositionReceipt `json:"data"`
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	_, _, router := newTestEnv(t)
	w := do(t, router, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestQuotes(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/quotes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var quotes []model.Quote
	decodeInto(t, w, &quotes)
	if len(quotes) != 2 || quotes[0].Symbol != "APT" || quotes[1].Symbol != "SYM" {
		t.Fatalf("expected APT and SYM sorted, got %+v", quotes)
	}

	w = do(t, router, "GET", "/api/v1/quotes/sym", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for lower-case symbol, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, router, "GET", "/api/v1/quotes/NOPE", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = do(t, router, "PUT", "/api/v1/quotes/SYM", api.SetPriceRequest{Price: d(12.5)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var q model.Quote
	decodeInto(t, w, &q)
	if !q.Price.Equal(d(12.5)) {
		t.Errorf("price = %s, want 12.5", q.Price)
	}

	w = do(t, router, "PUT", "/api/v1/quotes/SYM", api.SetPriceRequest{Price: d(-1)})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative price, got %d", w.Code)
	}
}

func TestPositionLifecycle(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/positions", api.OpenPositionRequest{
		Symbol: "SYM", Side: "LONG", Size: d(10), Leverage: d(5),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var opened positionResponse
	decodeInto(t, w, &opened)
	if !opened.Success || opened.ID == nil {
		t.Fatalf("expected success with id, got %+v", opened.Result)
	}
	if !opened.Data.Position.Margin.Equal(d(20)) {
		t.Errorf("margin = %s, want 20", opened.Data.Position.Margin)
	}
	if len(opened.TxRef) != 66 {
		t.Errorf("tx_ref %q should be 0x plus 64 hex chars", opened.TxRef)
	}

	do(t, router, "PUT", "/api/v1/quotes/SYM", api.SetPriceRequest{Price: d(12)})

	w = do(t, router, "POST", "/api/v1/positions/1/close", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var closed positionResponse
	decodeInto(t, w, &closed)
	if closed.PnL == nil || !closed.PnL.Equal(d(100)) {
		t.Errorf("pnl = %v, want 100", closed.PnL)
	}
	if !closed.Data.Credit.Equal(d(120)) {
		t.Errorf("credit = %s, want 120", closed.Data.Credit)
	}

	w = do(t, router, "POST", "/api/v1/positions/1/close", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second close, got %d", w.Code)
	}
	var again engine.Result
	decodeInto(t, w, &again)
	if again.Success || again.ErrorKind != model.KindInvalidState {
		t.Errorf("expected InvalidState failure, got %+v", again)
	}

	w = do(t, router, "GET", "/api/v1/positions?status=open", nil)
	var open []model.Position
	decodeInto(t, w, &open)
	if len(open) != 0 {
		t.Errorf("expected no open positions, got %d", len(open))
	}

	w = do(t, router, "GET", "/api/v1/balances", nil)
	var balances map[string]decimal.Decimal
	decodeInto(t, w, &balances)
	if !balances["USDC"].Equal(d(1100)) {
		t.Errorf("USDC = %s, want 1100", balances["USDC"])
	}
}

func TestErrorStatus(t *testing.T) {
	_, _, router := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"insufficient margin", "POST", "/api/v1/positions",
			api.OpenPositionRequest{Symbol: "SYM", Side: "LONG", Size: d(1000), Leverage: d(1)}, http.StatusUnprocessableEntity},
		{"unknown market", "POST", "/api/v1/positions",
			api.OpenPositionRequest{Symbol: "ZZZ", Side: "LONG", Size: d(1), Leverage: d(1)}, http.StatusNotFound},
		{"leverage limit", "POST", "/api/v1/positions",
			api.OpenPositionRequest{Symbol: "SYM", Side: "LONG", Size: d(1), Leverage: d(101)}, http.StatusConflict},
		{"bad side", "POST", "/api/v1/positions",
			api.OpenPositionRequest{Symbol: "SYM", Side: "UP", Size: d(1), Leverage: d(1)}, http.StatusBadRequest},
		{"malformed body", "POST", "/api/v1/positions", "{not json", http.StatusBadRequest},
		{"unknown position", "POST", "/api/v1/positions/99/close", nil, http.StatusNotFound},
		{"bad id", "POST", "/api/v1/positions/abc/close", nil, http.StatusBadRequest},
		{"limit without price", "POST", "/api/v1/orders",
			api.PlaceOrderRequest{Symbol: "SYM", Side: "BUY", Kind: "LIMIT", Amount: d(1)}, http.StatusBadRequest},
		{"unknown order kind", "POST", "/api/v1/orders",
			api.PlaceOrderRequest{Symbol: "SYM", Side: "BUY", Kind: "STOP", Amount: d(1)}, http.StatusBadRequest},
		{"unknown pool", "POST", "/api/v1/pools/7/liquidity",
			api.AddLiquidityRequest{AmountA: d(1), AmountB: d(1)}, http.StatusNotFound},
		{"swap without pool", "POST", "/api/v1/swap",
			api.SwapRequest{TokenIn: "SYM", TokenOut: "USDC", AmountIn: d(1)}, http.StatusNotFound},
		{"quote bad amount", "GET", "/api/v1/swap/quote?token_in=APT&token_out=USDC&amount_in=x", nil, http.StatusBadRequest},
		{"hedge without expiry", "POST", "/api/v1/hedges",
			api.OpenHedgeRequest{Underlying: "SYM", Kind: "PUT", Amount: d(1), StrikePrice: d(9)}, http.StatusBadRequest},
		{"bad journal limit", "GET", "/api/v1/journal?limit=-2", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind model.ErrorKind
		want int
	}{
		{model.KindNone, http.StatusOK},
		{model.KindNotFound, http.StatusNotFound},
		{model.KindInvalidMarket, http.StatusNotFound},
		{model.KindInvalidState, http.StatusConflict},
		{model.KindLimitExceeded, http.StatusConflict},
		{model.KindInsufficientBalance, http.StatusUnprocessableEntity},
		{model.KindInvalidArgument, http.StatusBadRequest},
		{model.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := api.StatusFor(tt.kind); got != tt.want {
			t.Errorf("StatusFor(%q) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestOrders(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/orders", api.PlaceOrderRequest{
		Symbol: "SYM", Side: "BUY", Kind: "MARKET", Amount: d(2),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	limit := d(9)
	w = do(t, router, "POST", "/api/v1/orders", api.PlaceOrderRequest{
		Symbol: "SYM", Side: "BUY", Kind: "LIMIT", Amount: d(1), LimitPrice: &limit,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, router, "POST", "/api/v1/orders/2/match", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = do(t, router, "GET", "/api/v1/orders?status=open", nil)
	var open []model.Order
	decodeInto(t, w, &open)
	if len(open) != 1 {
		t.Fatalf("buy limit below market should stay open, got %d open", len(open))
	}

	w = do(t, router, "POST", "/api/v1/orders/2/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = do(t, router, "POST", "/api/v1/orders/2/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on second cancel, got %d", w.Code)
	}

	w = do(t, router, "GET", "/api/v1/orders", nil)
	var all []model.Order
	decodeInto(t, w, &all)
	if len(all) != 2 {
		t.Errorf("expected 2 orders, got %d", len(all))
	}
}

func TestPoolsAndSwap(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/pools", api.CreatePoolRequest{
		Pair: "APT/USDC", AmountA: d(50), AmountB: d(400),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, router, "POST", "/api/v1/pools", api.CreatePoolRequest{
		TokenA: "USDC", TokenB: "APT", AmountA: d(8), AmountB: d(1),
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate pair, got %d", w.Code)
	}

	w = do(t, router, "GET", "/api/v1/swap/quote?token_in=APT&token_out=USDC&amount_in=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var quoted struct {
		AmountOut decimal.Decimal `json:"amount_out"`
	}
	decodeInto(t, w, &quoted)

	w = do(t, router, "POST", "/api/v1/swap", api.SwapRequest{TokenIn: "APT", TokenOut: "USDC", AmountIn: d(5)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var swapped engine.Result
	decodeInto(t, w, &swapped)
	if swapped.AmountOut == nil || !swapped.AmountOut.Equal(quoted.AmountOut) {
		t.Errorf("swap out %v should equal quote %s", swapped.AmountOut, quoted.AmountOut)
	}

	w = do(t, router, "POST", "/api/v1/pools/1/liquidity", api.AddLiquidityRequest{AmountA: d(5), AmountB: d(40)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, router, "GET", "/api/v1/pools", nil)
	var pools []model.Pool
	decodeInto(t, w, &pools)
	if len(pools) != 1 {
		t.Fatalf("expected 1 pool, got %d", len(pools))
	}
}

func TestHedges(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/hedges", api.OpenHedgeRequest{
		Underlying: "SYM", Kind: "put", Amount: d(10), StrikePrice: d(9), ExpiresInDays: 30,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, router, "GET", "/api/v1/hedges", nil)
	var hedges []model.Hedge
	decodeInto(t, w, &hedges)
	if len(hedges) != 1 || hedges[0].Status != model.HedgeActive {
		t.Fatalf("expected one active hedge, got %+v", hedges)
	}

	w = do(t, router, "POST", "/api/v1/hedges/1/close", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = do(t, router, "POST", "/api/v1/hedges/1/close", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on second close, got %d", w.Code)
	}
}

func TestOpenHedge_ExpiryUsesEngineClock(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, _, router := newTestEnv(t, engine.WithClock(func() time.Time { return now }))

	w := do(t, router, "POST", "/api/v1/hedges", api.OpenHedgeRequest{
		Underlying: "SYM", Kind: "CALL", Amount: d(10), StrikePrice: d(11), ExpiresInDays: 30,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Data engine.HedgeReceipt `json:"data"`
	}
	decodeInto(t, w, &resp)
	if want := now.AddDate(0, 0, 30); !resp.Data.Hedge.Expiry.Equal(want) {
		t.Errorf("expiry = %s, want %s", resp.Data.Hedge.Expiry, want)
	}
	// 30 days out on the engine clock: decay factor 1, premium (10×0.02+1)×10.
	if !resp.Data.Hedge.Premium.Equal(d(12)) {
		t.Errorf("premium = %s, want 12", resp.Data.Hedge.Premium)
	}
}

func TestJournalAndPortfolio(t *testing.T) {
	_, journal, router := newTestEnv(t)

	do(t, router, "POST", "/api/v1/positions", api.OpenPositionRequest{
		Symbol: "SYM", Side: "SHORT", Size: d(1), Leverage: d(2),
	})
	do(t, router, "POST", "/api/v1/orders", api.PlaceOrderRequest{
		Symbol: "APT", Side: "SELL", Amount: d(1),
	})
	if journal.Len() != 2 {
		t.Fatalf("expected 2 journal entries, got %d", journal.Len())
	}

	w := do(t, router, "GET", "/api/v1/journal?limit=1", nil)
	var entries []model.JournalEntry
	decodeInto(t, w, &entries)
	if len(entries) != 1 || entries[0].Kind != model.EntryOrderFill {
		t.Fatalf("expected newest entry to be the fill, got %+v", entries)
	}

	w = do(t, router, "GET", "/api/v1/journal?kind="+model.EntryPositionOpen, nil)
	decodeInto(t, w, &entries)
	if len(entries) != 1 || entries[0].Symbol != "SYM" {
		t.Fatalf("expected one position_open entry, got %+v", entries)
	}

	w = do(t, router, "GET", "/api/v1/portfolio", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var p model.Portfolio
	decodeInto(t, w, &p)
	if p.OpenPositions != 1 {
		t.Errorf("open positions = %d, want 1", p.OpenPositions)
	}
}

func TestWSHub_BroadcastsQuotes(t *testing.T) {
	hub := api.NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	defer func() {
		cancel()
		<-hub.Done()
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.PublishQuotes(ctx, []model.Quote{{Symbol: "SYM", Price: d(10)}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg api.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "quotes" || len(msg.Quotes) != 1 || msg.Quotes[0].Symbol != "SYM" {
		t.Errorf("unexpected message %+v", msg)
	}
}
