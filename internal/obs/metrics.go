package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service reports ready, 0 otherwise.",
	})

	requestsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "workflow_requests_created_total",
		Help: "Evidence requests created by buyers.",
	})

	itemsFulfilled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "workflow_items_fulfilled_total",
		Help: "Request items fulfilled by factories.",
	})

	requestsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "workflow_requests_completed_total",
		Help: "Requests whose items are all fulfilled.",
	})

	accessDenied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "workflow_access_denied_total",
		Help: "Authorization denials.",
	})

	auditAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_entries_appended_total",
		Help: "Entries appended to the audit ledger.",
	})
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		requestsCreated, itemsFulfilled, requestsCompleted, accessDenied, auditAppended,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the readiness state.
func SetReady(v bool) {
	if v {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

func IncRequestCreated()   { requestsCreated.Inc() }
func IncItemFulfilled()    { itemsFulfilled.Inc() }
func IncRequestCompleted() { requestsCompleted.Inc() }
func IncAccessDenied()     { accessDenied.Inc() }
func IncAuditAppended()    { auditAppended.Inc() }

// CanonicalPath collapses identifier segments so metric label
// cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segs := strings.Split(path, "/")
	switch {
	case len(segs) == 5 && segs[1] == "v1" && segs[2] == "evidence" && segs[4] == "versions":
		segs[3] = ":id"
	case len(segs) == 7 && segs[1] == "v1" && segs[2] == "requests" && segs[4] == "items" && segs[6] == "fulfill":
		segs[3] = ":id"
		segs[5] = ":id"
	}
	return strings.Join(segs, "/")
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
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

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
