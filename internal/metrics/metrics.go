// Package metrics provides Prometheus instrumentation for the listings
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FillsTotal counts settled fills, partitioned by order side.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listings_fills_total",
		Help: "Total number of fills settled",
	}, []string{"side"})

	// FillLatency is the settlement latency distribution per side.
	FillLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "listings_fill_latency_seconds",
		Help:    "Fill settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// OpenOrders tracks orders currently open, partitioned by side.
	OpenOrders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "listings_open_orders",
		Help: "Number of currently open orders",
	}, []string{"side"})

	// ActiveMarkets tracks the number of open markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "listings_active_markets",
		Help: "Number of currently open markets",
	})

	// EscrowedAssets tracks assets currently locked under a sell order.
	EscrowedAssets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "listings_escrowed_assets",
		Help: "Number of assets currently held in escrow",
	})

	// ProtocolFeesTotal accumulates protocol fees routed to the treasury,
	// in payment-asset base units.
	ProtocolFeesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listings_protocol_fees_total",
		Help: "Cumulative protocol fees collected in base units",
	})

	// RoyaltiesTotal accumulates creator royalties paid out.
	RoyaltiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listings_royalties_total",
		Help: "Cumulative creator royalties paid in base units",
	})

	// FillVolume tracks cumulative settled value per market.
	FillVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listings_fill_volume_total",
		Help: "Cumulative fill value in payment-asset base units",
	}, []string{"market"})

	// RejectedOperations counts operations aborted before commit, by
	// error kind.
	RejectedOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listings_rejected_operations_total",
		Help: "Operations aborted before commit",
	}, []string{"kind"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "listings_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listings_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "listings_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
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
