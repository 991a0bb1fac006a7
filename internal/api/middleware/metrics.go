package middleware

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Control API requests partitioned by method, route pattern and status
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_http_requests_total",
			Help: "Total number of control API requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricewatch_http_request_duration_seconds",
			Help:    "Control API latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricewatch_http_inflight_requests",
			Help: "Number of control API requests currently being served",
		},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Metrics records Prometheus request metrics and logs one line per request.
// The route label is the matched mux pattern so path parameters do not
// explode cardinality.
type Metrics struct {
	Logger *log.Logger
	Next   http.Handler
}

func (m Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.Next == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	start := time.Now()
	httpInFlight.Inc()
	defer httpInFlight.Dec()

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	m.Next.ServeHTTP(rec, r)

	route := r.Pattern
	if route == "" {
		route = "unmatched"
	}
	elapsed := time.Since(start)

	labels := prometheus.Labels{
		"method": r.Method,
		"route":  route,
		"status": strconv.Itoa(rec.status),
	}
	httpRequestsTotal.With(labels).Inc()
	httpRequestDuration.With(labels).Observe(elapsed.Seconds())

	if m.Logger != nil {
		m.Logger.Printf("%s %s status=%d dur=%s", r.Method, r.URL.Path, rec.status, elapsed.Round(time.Millisecond))
	}
}
