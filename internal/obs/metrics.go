package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	checkoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkouts_total",
			Help: "Checkout attempts by outcome (paid, hold, declined, error).",
		},
		[]string{"outcome"},
	)

	holdsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_holds_total",
			Help: "Orders placed on hold by hold type.",
		},
		[]string{"hold_type"},
	)

	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_calls_total",
			Help: "Calls to the payment gateway by kind and result.",
		},
		[]string{"kind", "result"},
	)

	syncQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crm_sync_queue_depth",
		Help: "Pending CRM sync notifications awaiting delivery.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		checkoutsTotal, holdsAppliedTotal, gatewayCallsTotal, syncQueueDepth,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCheckout counts a checkout attempt outcome.
func ObserveCheckout(outcome string) { checkoutsTotal.WithLabelValues(outcome).Inc() }

// ObserveHold counts an applied compliance hold.
func ObserveHold(holdType string) { holdsAppliedTotal.WithLabelValues(holdType).Inc() }

// ObserveGatewayCall counts a gateway call by kind (authorize/capture/void) and result.
func ObserveGatewayCall(kind, result string) {
	gatewayCallsTotal.WithLabelValues(kind, result).Inc()
}

// SetSyncQueueDepth reports the CRM sync backlog size.
func SetSyncQueueDepth(n int) { syncQueueDepth.Set(float64(n)) }

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metrics.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
