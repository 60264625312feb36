package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cthz"

// Metrics holds the Prometheus instruments for the fleet core.
//
// A single instance is created at startup and shared by the pipeline,
// dispatcher and alert manager. All instruments are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	EventsIngested  *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	PoliciesMatched *prometheus.CounterVec
	ActionsTotal    *prometheus.CounterVec
	ActionRetries   prometheus.Counter
	AlertsRaised    *prometheus.CounterVec
	AlertsDeduped   prometheus.Counter
	RequestsPending prometheus.Gauge
	RequestsTimedOut prometheus.Counter
	DispatchSeconds *prometheus.HistogramVec
	QueueDepth      *prometheus.GaugeVec
}

// New creates and registers all fleet core instruments on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_ingested_total",
			Help:      "Events accepted into the pipeline, by event type.",
		}, []string{"event_type"}),

		EventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_rejected_total",
			Help:      "Events rejected at ingress validation, by reason.",
		}, []string{"reason"}),

		PoliciesMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "matched_total",
			Help:      "Policy condition matches, by policy name.",
		}, []string{"policy"}),

		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "actions_total",
			Help:      "Action executions by action type and terminal status.",
		}, []string{"action_type", "status"}),

		ActionRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "retries_total",
			Help:      "Action delivery retries after transient failures.",
		}),

		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "raised_total",
			Help:      "Alerts created, by severity.",
		}, []string{"severity"}),

		AlertsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "deduplicated_total",
			Help:      "Alerts suppressed by the deduplication window.",
		}),

		RequestsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "requests_pending",
			Help:      "Scan/calibration requests currently awaiting results.",
		}),

		RequestsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "requests_timed_out_total",
			Help:      "Requests expired by the timeout sweep.",
		}),

		DispatchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "action_duration_seconds",
			Help:      "Wall time per action execution including retries.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"action_type"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "shard_queue_depth",
			Help:      "Buffered events per pipeline shard.",
		}, []string{"shard"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EventsIngested,
		m.EventsRejected,
		m.PoliciesMatched,
		m.ActionsTotal,
		m.ActionRetries,
		m.AlertsRaised,
		m.AlertsDeduped,
		m.RequestsPending,
		m.RequestsTimedOut,
		m.DispatchSeconds,
		m.QueueDepth,
	)

	return m
}

// Handler returns an http.Handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, primarily for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
