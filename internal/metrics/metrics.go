// Package metrics exposes Prometheus collectors for the auditor service.
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
	auditsTotal                *prometheus.CounterVec
	probeDurationSeconds       *prometheus.HistogramVec
	linkChecksTotal            *prometheus.CounterVec
	scorerFailuresTotal        *prometheus.CounterVec
	activeAudits               prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		auditsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditor_audits_total",
				Help: "Total number of audits that reached a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		probeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auditor_probe_duration_seconds",
				Help:    "Histogram of probe latencies, labeled by probe and outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"probe", "outcome"},
		)

		linkChecksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditor_link_checks_total",
				Help: "Total number of link reachability checks, labeled by status class.",
			},
			[]string{"class"},
		)

		scorerFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditor_scorer_failures_total",
				Help: "Total number of failed performance scorer calls, labeled by device profile.",
			},
			[]string{"profile"},
		)

		activeAudits = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "auditor_active_audits",
				Help: "Number of audits currently running.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAudit increments the audit counter for a terminal status.
func ObserveAudit(status string) {
	Init()
	auditsTotal.WithLabelValues(status).Inc()
}

// ObserveProbe records how long one probe took and whether it succeeded.
func ObserveProbe(probe string, ok bool, duration time.Duration) {
	Init()
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	probeDurationSeconds.WithLabelValues(probe, outcome).Observe(duration.Seconds())
}

// ObserveLinkCheck increments the link check counter for a status class.
func ObserveLinkCheck(class string) {
	Init()
	linkChecksTotal.WithLabelValues(class).Inc()
}

// ObserveScorerFailure increments the scorer failure counter for a profile.
func ObserveScorerFailure(profile string) {
	Init()
	scorerFailuresTotal.WithLabelValues(profile).Inc()
}

// IncActiveAudits increments the active audits gauge.
func IncActiveAudits() {
	Init()
	activeAudits.Inc()
}

// DecActiveAudits decrements the active audits gauge.
func DecActiveAudits() {
	Init()
	activeAudits.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
