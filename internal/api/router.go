package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aptpay/defi-engine/internal/metrics"
)

// NewRouter mounts the handler, the WebSocket hub and the operational
// endpoints on a chi router. hub may be nil.
func NewRouter(h *Handler, hub *WSHub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"defi-engine"}`))
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Get("/quotes", h.ListQuotes)
		r.Get("/quotes/{symbol}", h.GetQuote)
		r.Put("/quotes/{symbol}", h.SetPrice)

		r.Get("/balances", h.GetBalances)
		r.Get("/portfolio", h.GetPortfolio)

		r.Get("/positions", h.ListPositions)
		r.Post("/positions", h.OpenPosition)
		r.Post("/positions/{id}/close", h.ClosePosition)

		r.Get("/orders", h.ListOrders)
		r.Post("/orders", h.PlaceOrder)
		r.Post("/orders/{id}/cancel", h.CancelOrder)
		r.Post("/orders/{id}/match", h.MatchOrder)

		r.Get("/pools", h.ListPools)
		r.Post("/pools", h.CreatePool)
		r.Post("/pools/{id}/liquidity", h.AddLiquidity)
		r.Post("/swap", h.Swap)
		r.Get("/swap/quote", h.QuoteSwap)

		r.Get("/hedges", h.ListHedges)
		r.Post("/hedges", h.OpenHedge)
		r.Post("/hedges/{id}/close", h.CloseHedge)

		r.Get("/journal", h.ListJournal)
	})
	return r
}

// cors allows cross-origin requests from the frontend.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
