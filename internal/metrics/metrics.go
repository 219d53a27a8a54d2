package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the Prometheus collectors shared by the api and worker
// processes. All names are prefixed with "pdfchat_".
type Metrics struct {
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec

	JobsTotal   *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	LLMCallsTotal   *prometheus.CounterVec
	LLMCallDuration prometheus.Histogram
	PagesExtracted  *prometheus.CounterVec
}

// New registers the collectors once per process and returns them.
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pdfchat_http_requests_total",
					Help: "HTTP requests by service, route and status code",
				},
				[]string{"service", "route", "code"},
			),
			HTTPDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "pdfchat_http_request_duration_seconds",
					Help:    "HTTP request latency",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"service", "route"},
			),
			JobsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pdfchat_jobs_total",
					Help: "Background jobs by kind and outcome",
				},
				[]string{"kind", "outcome"}, // outcome: success, failed, skipped, retry
			),
			JobDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "pdfchat_job_duration_seconds",
					Help:    "Background job latency",
					Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
				},
				[]string{"kind"},
			),
			LLMCallsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pdfchat_llm_calls_total",
					Help: "LLM calls by outcome category",
				},
				[]string{"outcome"},
			),
			LLMCallDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "pdfchat_llm_call_duration_seconds",
					Help:    "LLM call latency",
					Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
				},
			),
			PagesExtracted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pdfchat_pdf_pages_total",
					Help: "PDF pages processed by extraction result",
				},
				[]string{"result"}, // ok, placeholder
			),
		}
	})
	return globalMetrics
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// WithHTTPMetrics records request counts and latency. It must wrap the
// ServeMux directly so the matched pattern is visible after dispatch.
func (m *Metrics) WithHTTPMetrics(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(service, route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(service, route).Observe(time.Since(start).Seconds())
	})
}
