// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "krapi"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Audit outcome label values.
const (
	AuditWritten      = "written"
	AuditRetried      = "retried"
	AuditDeadLettered = "dead_lettered"
	AuditReplayed     = "replayed"
	AuditLost         = "lost"
)

// Metrics is the set of collectors for one server instance. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	logins          *prometheus.CounterVec
	sessionChecks   *prometheus.CounterVec
	auditEntries    *prometheus.CounterVec
	auditQueueDepth prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegisterer(reg, reg)
}

// NewWithRegisterer creates the collectors on registerer. gatherer may be
// nil when the caller serves metrics some other way.
func NewWithRegisterer(registerer prometheus.Registerer, gatherer *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: gatherer,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by method and outcome",
		}, []string{"method", "outcome"}),
		sessionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "session_validations_total",
			Help:      "Session validations by outcome",
		}, []string{"outcome"}),
		auditEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "entries_total",
			Help:      "Changelog entries by delivery outcome",
		}, []string{"outcome"}),
		auditQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "queue_depth",
			Help:      "Changelog entries waiting to be written",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.logins, m.sessionChecks, m.auditEntries, m.auditQueueDepth, m.httpRequests, m.httpDuration)
	}
	m.init()
	return m
}

// init pre-populates label combinations so the series show up before the
// first event.
func (m *Metrics) init() {
	for _, method := range []string{"password", "api_key"} {
		for _, o := range []string{OutcomeSuccess, OutcomeFailure} {
			m.logins.WithLabelValues(method, o)
		}
	}
	for _, o := range []string{OutcomeSuccess, OutcomeFailure} {
		m.sessionChecks.WithLabelValues(o)
	}
	for _, o := range []string{AuditWritten, AuditRetried, AuditDeadLettered, AuditReplayed, AuditLost} {
		m.auditEntries.WithLabelValues(o)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Login counts one login attempt.
func (m *Metrics) Login(method string, ok bool) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(method, outcome(ok)).Inc()
}

// SessionCheck counts one session validation.
func (m *Metrics) SessionCheck(ok bool) {
	if m == nil {
		return
	}
	m.sessionChecks.WithLabelValues(outcome(ok)).Inc()
}

// Audit counts one audit delivery event.
func (m *Metrics) Audit(o string) {
	if m == nil {
		return
	}
	m.auditEntries.WithLabelValues(o).Inc()
}

// AuditQueueDepth reports the current queue length.
func (m *Metrics) AuditQueueDepth(n int) {
	if m == nil {
		return
	}
	m.auditQueueDepth.Set(float64(n))
}

// Request records one served HTTP request.
func (m *Metrics) Request(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func outcome(ok bool) string {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeFailure
}
