// Package metrics provides Prometheus instrumentation for the DeFi engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CommandsTotal counts engine commands by operation and outcome. The
	// outcome is "ok" or the error kind.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "defi_engine_commands_total",
		Help: "Total engine commands by operation and outcome",
	}, []string{"op", "outcome"})

	// CommandLatency tracks time spent holding the engine lock per command.
	CommandLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "defi_engine_command_latency_seconds",
		Help:    "Engine command latency in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"op"})

	// OpenPositions tracks the number of OPEN positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "defi_engine_open_positions",
		Help: "Number of currently open positions",
	})

	// OpenOrders tracks resting limit orders.
	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "defi_engine_open_orders",
		Help: "Number of open limit orders",
	})

	// ActiveHedges tracks hedges that have not been closed or expired.
	ActiveHedges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "defi_engine_active_hedges",
		Help: "Number of active hedges",
	})

	// Pools tracks the number of liquidity pools.
	Pools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "defi_engine_pools",
		Help: "Number of liquidity pools",
	})

	// TicksTotal counts feed ticks.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "defi_engine_ticks_total",
		Help: "Total market data feed ticks",
	})

	// LimitFills counts limit order match attempts that crossed, by result
	// ("filled" or "unfunded").
	LimitFills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "defi_engine_limit_fills_total",
		Help: "Limit orders that crossed their limit",
	}, []string{"result"})

	// HedgeExpiries counts hedges settled by expiry.
	HedgeExpiries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "defi_engine_hedge_expiries_total",
		Help: "Hedges settled at expiry",
	})

	// LimitRejections counts positions rejected by the risk limiter.
	LimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "defi_engine_limit_rejections_total",
		Help: "Positions rejected by the risk limiter",
	})

	// SwapVolume tracks cumulative swap input per token.
	SwapVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "defi_engine_swap_volume_total",
		Help: "Cumulative swap input amount by token",
	}, []string{"token_in"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "defi_engine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "defi_engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "defi_engine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern uses the matched chi route (e.g. /api/v1/positions/{id})
// instead of the raw path to keep label cardinality bounded.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
