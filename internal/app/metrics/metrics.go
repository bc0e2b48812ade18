package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "addressology",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "addressology",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "addressology",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	intakeEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "addressology",
			Subsystem: "intake",
			Name:      "entries_total",
			Help:      "Batch entries processed, labelled by outcome.",
		},
		[]string{"outcome"},
	)

	intakeBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "addressology",
			Subsystem: "intake",
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch submissions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	intakeScore = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "addressology",
			Subsystem: "intake",
			Name:      "accepted_score_total",
			Help:      "Sum of difficulty scores of accepted candidates.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		intakeEntries,
		intakeBatchDuration,
		intakeScore,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordEntry counts one processed batch entry by outcome.
func RecordEntry(outcome string) {
	intakeEntries.WithLabelValues(outcome).Inc()
}

// RecordBatch records metrics for a completed batch submission.
func RecordBatch(duration time.Duration, totalScore float64) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	intakeBatchDuration.Observe(duration.Seconds())
	if totalScore > 0 {
		intakeScore.Add(totalScore)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource IDs so metric labels stay low-cardinality.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "candidates":
		if len(parts) == 1 {
			return "/candidates"
		}
		if parts[1] == "batch" {
			return "/candidates/batch"
		}
		if len(parts) == 2 {
			return "/candidates/:address"
		}
		return "/candidates/:address/" + parts[2]
	case "jobs":
		if len(parts) == 1 {
			return "/jobs"
		}
		if len(parts) == 2 {
			return "/jobs/:id"
		}
		return "/jobs/:id/" + parts[2]
	case "miners":
		if len(parts) == 1 {
			return "/miners"
		}
		return "/miners/:id"
	default:
		return "/" + parts[0]
	}
}
