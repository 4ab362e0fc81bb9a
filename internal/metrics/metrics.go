package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calcore_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calcore_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	storeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calcore_store_latency_seconds",
		Help:    "Histogram of event file load/save latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calcore_store_errors_total",
		Help: "Total number of failed event file loads/saves.",
	}, []string{"operation"})

	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calcore_event_mutations_total",
		Help: "Total number of repository mutations by operation and result.",
	}, []string{"operation", "result"})

	storedEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calcore_events_stored",
		Help: "Number of events currently held by the repository.",
	})

	dueReminders = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calcore_reminders_due_total",
		Help: "Total number of reminders found due by the poller.",
	})
)

// ObserveStore records latency for a store operation. errp is read when the
// deferred call runs, so callers can pass the address of a named result.
func ObserveStore(operation string, start time.Time, errp *error) {
	storeLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if errp != nil && *errp != nil {
		storeErrors.WithLabelValues(operation).Inc()
	}
}

// Mutation counts a repository mutation. result is one of "ok", "invalid",
// "not_found" or "error".
func Mutation(operation, result string) {
	mutationsTotal.WithLabelValues(operation, result).Inc()
}

// SetStoredEvents reports the current collection size.
func SetStoredEvents(n int) {
	storedEvents.Set(float64(n))
}

// AddDueReminders counts reminders surfaced by one poll.
func AddDueReminders(n int) {
	dueReminders.Add(float64(n))
}

// Middleware records request counts and latencies per chi route pattern.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			// The route pattern is only known after routing ran.
			route := routePattern(r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
