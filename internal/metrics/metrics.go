// Package metrics holds the Prometheus collectors of the platform.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	turnsTotal       *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	notifications    *prometheus.CounterVec
	notifyErrors     prometheus.Counter
	registryRebuilds *prometheus.CounterVec
	registrySize     prometheus.Gauge
	jobsDispatched   *prometheus.CounterVec
	jobsConsumed     *prometheus.CounterVec

	registry *prometheus.Registry
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		turnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_turns_total",
				Help: "Executed turns by pipeline and outcome",
			},
			[]string{"pipeline", "outcome"},
		),
		turnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_turn_duration_seconds",
				Help:    "Time spent in a handler's process step",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"pipeline"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_notifications_total",
				Help: "Notifications published by envelope type",
			},
			[]string{"type"},
		),
		notifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_notification_errors_total",
			Help: "Notifications dropped because the transport failed",
		}),
		registryRebuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_registry_rebuilds_total",
				Help: "Registry snapshot rebuilds by trigger and status",
			},
			[]string{"trigger", "status"},
		),
		registrySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_registry_definitions",
			Help: "Definitions held by the current registry snapshot",
		}),
		jobsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_jobs_dispatched_total",
				Help: "Jobs handed to a dispatcher by status",
			},
			[]string{"status"},
		),
		jobsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_jobs_consumed_total",
				Help: "Queue deliveries by outcome (ack, retry, requeue, dead)",
			},
			[]string{"outcome"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.turnsTotal,
		m.turnDuration,
		m.notifications,
		m.notifyErrors,
		m.registryRebuilds,
		m.registrySize,
		m.jobsDispatched,
		m.jobsConsumed,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// All recording methods accept a nil receiver so callers can run without metrics.

func (m *Metrics) RecordTurn(pipeline, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(pipeline, outcome).Inc()
	m.turnDuration.WithLabelValues(pipeline).Observe(d.Seconds())
}

func (m *Metrics) RecordNotification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordNotificationError() {
	if m == nil {
		return
	}
	m.notifyErrors.Inc()
}

func (m *Metrics) RecordRebuild(trigger string, size int, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	} else {
		m.registrySize.Set(float64(size))
	}
	m.registryRebuilds.WithLabelValues(trigger, status).Inc()
}

func (m *Metrics) RecordDispatch(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.jobsDispatched.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordConsumed(outcome string) {
	if m == nil {
		return
	}
	m.jobsConsumed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
