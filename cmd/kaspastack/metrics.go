package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts sync events and deployment stage outcomes. The
// registry is local to the process and served over HTTP when the
// --metrics-addr flag is set.
type Metrics struct {
	registry *prometheus.Registry

	syncEvents  *prometheus.CounterVec
	stageRuns   *prometheus.CounterVec
	activeTasks prometheus.Gauge
}

// NewMetrics creates and registers the collector set.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		syncEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaspastack_sync_events_total",
			Help: "Background sync lifecycle events by event name.",
		}, []string{"event"}),
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaspastack_deploy_stage_total",
			Help: "Deployment stage executions by stage and outcome.",
		}, []string{"stage", "outcome"}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kaspastack_active_sync_tasks",
			Help: "Background sync tasks currently being polled.",
		}),
	}
	m.registry.MustRegister(m.syncEvents, m.stageRuns, m.activeTasks)
	return m
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SyncEvent counts one emitted sync event.
func (m *Metrics) SyncEvent(event string) {
	if m == nil {
		return
	}
	m.syncEvents.WithLabelValues(event).Inc()
}

// StageRun counts one deployment stage outcome ("success" or "failure").
func (m *Metrics) StageRun(stage, outcome string) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(stage, outcome).Inc()
}

// TaskStarted and TaskStopped track the active task gauge.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.activeTasks.Inc()
}

func (m *Metrics) TaskStopped() {
	if m == nil {
		return
	}
	m.activeTasks.Dec()
}
