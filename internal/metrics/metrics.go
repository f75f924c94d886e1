// Package metrics provides Prometheus instrumentation for the simulator.
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
	// TradesTotal counts executed trades, partitioned by kind (buy/sell).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptosim_trades_total",
		Help: "Total number of trades executed",
	}, []string{"kind"})

	// TradesRejected counts trades rejected by ledger validation.
	TradesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptosim_trades_rejected_total",
		Help: "Trades rejected by ledger validation",
	}, []string{"reason"})

	// TicksTotal counts normalized ticks delivered, partitioned by display symbol.
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptosim_ticks_total",
		Help: "Total normalized price ticks delivered to subscribers",
	}, []string{"symbol"})

	// MalformedTicks counts inbound stream payloads dropped as unparseable.
	MalformedTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cryptosim_malformed_ticks_total",
		Help: "Inbound stream payloads dropped as malformed",
	})

	// StreamReconnects counts scheduled stream reconnect attempts.
	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cryptosim_stream_reconnects_total",
		Help: "Automatic stream reconnect attempts scheduled",
	})

	// WebSocketClients tracks connected outbound WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cryptosim_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptosim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cryptosim_http_request_duration_seconds",
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

		// Use the raw path for the label; route cardinality is tiny here.
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
