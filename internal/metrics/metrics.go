package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service exports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TradesTotal     *prometheus.CounterVec
	TriggersFired   *prometheus.CounterVec
	QuotesTotal     *prometheus.CounterVec
	AuditDropped    prometheus.Counter
	ReapedTotal     *prometheus.CounterVec
}

// New creates the collectors and registers them with registry
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		TradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daytrader_trades_total",
				Help: "Trade operations by command and outcome code.",
			},
			[]string{"command", "code"},
		),
		TriggersFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daytrader_triggers_fired_total",
				Help: "Triggers executed by side.",
			},
			[]string{"side"},
		),
		QuotesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daytrader_quotes_total",
				Help: "Quotes served by source and status.",
			},
			[]string{"source", "status"},
		),
		AuditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "daytrader_audit_events_dropped_total",
				Help: "Audit events dropped because the queue was full.",
			},
		),
		ReapedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daytrader_reservations_reaped_total",
				Help: "Expired reservations removed.",
			},
			[]string{"side"},
		),
	}

	registry.MustRegister(
		m.RequestCount,
		m.RequestDuration,
		m.TradesTotal,
		m.TriggersFired,
		m.QuotesTotal,
		m.AuditDropped,
		m.ReapedTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestCount.WithLabelValues(method, path, http.StatusText(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) IncTrade(command, code string) {
	if m == nil {
		return
	}
	m.TradesTotal.WithLabelValues(command, code).Inc()
}

func (m *Metrics) IncTriggerFired(side string) {
	if m == nil {
		return
	}
	m.TriggersFired.WithLabelValues(side).Inc()
}

func (m *Metrics) IncQuote(source, status string) {
	if m == nil {
		return
	}
	m.QuotesTotal.WithLabelValues(source, status).Inc()
}

func (m *Metrics) IncAuditDropped() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}

func (m *Metrics) AddReaped(side string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ReapedTotal.WithLabelValues(side).Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
