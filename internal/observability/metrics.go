package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores the Prometheus collectors for the escalation engine. All
// record methods are nil-safe so callers can run without metrics wired.
type Metrics struct {
	registry *prometheus.Registry

	rulesFiredTotal        *prometheus.CounterVec
	dispatchFailuresTotal  *prometheus.CounterVec
	attemptsCompletedTotal prometheus.Counter
	attemptsFailedTotal    prometheus.Counter
	scanDuration           prometheus.Histogram
	processingInFlight     prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		rulesFiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "escalation_engine",
				Name:      "rules_fired_total",
				Help:      "Total number of notification rules recorded as fired, by rule type.",
			},
			[]string{"rule_type"},
		),
		dispatchFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "escalation_engine",
				Name:      "dispatch_failures_total",
				Help:      "Total number of dispatch calls that failed; the rule still counts as fired.",
			},
			[]string{"rule_type", "classification"},
		),
		attemptsCompletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "escalation_engine",
				Name:      "attempts_completed_total",
				Help:      "Total number of attempts that reached COMPLETED.",
			},
		),
		attemptsFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "escalation_engine",
				Name:      "attempts_failed_total",
				Help:      "Total number of attempts that transitioned to FAILED.",
			},
		),
		scanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "escalation_engine",
				Name:      "scan_duration_seconds",
				Help:      "Duration of one full scan tick including the all-settled join.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		processingInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "escalation_engine",
				Name:      "processing_inflight",
				Help:      "Current number of attempts being processed.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rulesFiredTotal,
		m.dispatchFailuresTotal,
		m.attemptsCompletedTotal,
		m.attemptsFailedTotal,
		m.scanDuration,
		m.processingInFlight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncRuleFired(ruleType string) {
	if m == nil {
		return
	}
	m.rulesFiredTotal.WithLabelValues(normalizeLabel(ruleType)).Inc()
}

func (m *Metrics) IncDispatchFailed(ruleType string, transient bool) {
	if m == nil {
		return
	}
	classification := "permanent"
	if transient {
		classification = "transient"
	}
	m.dispatchFailuresTotal.WithLabelValues(normalizeLabel(ruleType), classification).Inc()
}

func (m *Metrics) IncAttemptCompleted() {
	if m == nil {
		return
	}
	m.attemptsCompletedTotal.Inc()
}

func (m *Metrics) IncAttemptFailed() {
	if m == nil {
		return
	}
	m.attemptsFailedTotal.Inc()
}

func (m *Metrics) ObserveScanDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.scanDuration.Observe(seconds)
}

func (m *Metrics) IncProcessingInFlight() {
	if m == nil {
		return
	}
	m.processingInFlight.Inc()
}

func (m *Metrics) DecProcessingInFlight() {
	if m == nil {
		return
	}
	m.processingInFlight.Dec()
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
