package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "epochapi"

// PrometheusRecorder implements Recorder with Prometheus collectors
// registered on a private registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	admissions        *prometheus.CounterVec
	admissionDuration prometheus.Histogram
	keysIssued        *prometheus.CounterVec
	issueRateLimited  prometheus.Counter
	usageResets       *prometheus.CounterVec
	conversions       *prometheus.CounterVec
}

// NewPrometheus creates a PrometheusRecorder with Go runtime and process
// collectors included.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &PrometheusRecorder{
		registry: reg,

		admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admissions_total",
				Help:      "Auth gate decisions by outcome",
			},
			[]string{"outcome"},
		),

		admissionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "admission_duration_seconds",
				Help:      "Duration of auth gate checks in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
			},
		),

		keysIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "keys_issued_total",
				Help:      "API keys issued by plan",
			},
			[]string{"plan"},
		),

		issueRateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "issue_rate_limited_total",
				Help:      "Key issuance requests rejected by the IP limiter",
			},
		),

		usageResets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_reset_records_total",
				Help:      "Usage records reset by period",
			},
			[]string{"period"},
		),

		conversions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Conversion requests by kind and status",
			},
			[]string{"kind", "status"},
		),
	}

	reg.MustRegister(
		m.admissions,
		m.admissionDuration,
		m.keysIssued,
		m.issueRateLimited,
		m.usageResets,
		m.conversions,
	)

	return m
}

// Handler returns an HTTP handler exposing the registry.
func (m *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Registry returns the underlying registry.
func (m *PrometheusRecorder) Registry() *prometheus.Registry {
	return m.registry
}

// IncAdmission increments the admission counter for outcome.
func (m *PrometheusRecorder) IncAdmission(outcome string) {
	m.admissions.WithLabelValues(outcome).Inc()
}

// ObserveAdmissionDuration records gate latency.
func (m *PrometheusRecorder) ObserveAdmissionDuration(duration time.Duration) {
	m.admissionDuration.Observe(duration.Seconds())
}

// IncKeyIssued increments the issued key counter for plan.
func (m *PrometheusRecorder) IncKeyIssued(plan string) {
	m.keysIssued.WithLabelValues(plan).Inc()
}

// IncIssueRateLimited increments the throttled issuance counter.
func (m *PrometheusRecorder) IncIssueRateLimited() {
	m.issueRateLimited.Inc()
}

// AddUsageReset adds records to the reset counter for period.
func (m *PrometheusRecorder) AddUsageReset(period string, records int64) {
	m.usageResets.WithLabelValues(period).Add(float64(records))
}

// IncConversion increments the conversion counter for kind and status.
func (m *PrometheusRecorder) IncConversion(kind, status string) {
	m.conversions.WithLabelValues(kind, status).Inc()
}
