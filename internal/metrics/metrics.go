// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes pipeline counters to Prometheus.
// All recording methods are safe on a nil *Metrics, so stages built
// without metrics need no guards.
package metrics

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all pipeline Prometheus metrics
type Metrics struct {
	StagePackets  *prometheus.CounterVec
	StageErrors   *prometheus.CounterVec
	Verdicts      *prometheus.CounterVec
	VerdictErrors prometheus.Counter
	DetectRouted  *prometheus.CounterVec
	Alerts        *prometheus.CounterVec
	ActiveStages  prometheus.Gauge
	Topologies    *prometheus.CounterVec

	// Per-role totals mirrored for the rate collector.
	totals sync.Map // role -> *atomic.Uint64
}

// New creates the pipeline metrics.
func New() *Metrics {
	return &Metrics{
		StagePackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipsd_stage_packets_total",
			Help: "Packets processed, by stage role",
		}, []string{"role"}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipsd_stage_errors_total",
			Help: "Collaborator errors, by stage role",
		}, []string{"role"}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipsd_verdicts_total",
			Help: "Verdicts issued to the kernel queue, by verdict",
		}, []string{"verdict"}),
		VerdictErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipsd_verdict_errors_total",
			Help: "Verdicts the kernel queue rejected",
		}),
		DetectRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipsd_detect_packets_total",
			Help: "Packets inspected, by detect instance",
		}, []string{"instance"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipsd_alerts_total",
			Help: "Detection alerts, by rule and action",
		}, []string{"rule", "action"}),
		ActiveStages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ipsd_active_stages",
			Help: "Pipeline stages currently running",
		}),
		Topologies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipsd_topology_builds_total",
			Help: "Topology constructions, by mode and result",
		}, []string{"mode", "result"}),
	}
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.StagePackets.Describe(ch)
	m.StageErrors.Describe(ch)
	m.Verdicts.Describe(ch)
	m.VerdictErrors.Describe(ch)
	m.DetectRouted.Describe(ch)
	m.Alerts.Describe(ch)
	m.ActiveStages.Describe(ch)
	m.Topologies.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.StagePackets.Collect(ch)
	m.StageErrors.Collect(ch)
	m.Verdicts.Collect(ch)
	m.VerdictErrors.Collect(ch)
	m.DetectRouted.Collect(ch)
	m.Alerts.Collect(ch)
	m.ActiveStages.Collect(ch)
	m.Topologies.Collect(ch)
}

// Register registers the metrics with r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	return r.Register(m)
}

func (m *Metrics) StagePacket(role string) {
	if m == nil {
		return
	}
	m.StagePackets.WithLabelValues(role).Inc()
	v, _ := m.totals.LoadOrStore(role, new(atomic.Uint64))
	v.(*atomic.Uint64).Add(1)
}

func (m *Metrics) StageError(role string) {
	if m == nil {
		return
	}
	m.StageErrors.WithLabelValues(role).Inc()
}

func (m *Metrics) Verdict(verdict string) {
	if m == nil {
		return
	}
	m.Verdicts.WithLabelValues(verdict).Inc()
}

func (m *Metrics) VerdictError() {
	if m == nil {
		return
	}
	m.VerdictErrors.Inc()
}

func (m *Metrics) Routed(instance int) {
	if m == nil {
		return
	}
	m.DetectRouted.WithLabelValues(strconv.Itoa(instance)).Inc()
}

func (m *Metrics) Alert(rule, action string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(rule, action).Inc()
}

func (m *Metrics) StageStarted() {
	if m == nil {
		return
	}
	m.ActiveStages.Inc()
}

func (m *Metrics) StageStopped() {
	if m == nil {
		return
	}
	m.ActiveStages.Dec()
}

func (m *Metrics) TopologyBuilt(mode string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.Topologies.WithLabelValues(mode, result).Inc()
}

// Totals returns the packets processed so far, by role.
func (m *Metrics) Totals() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.totals.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Uint64).Load()
		return true
	})
	return out
}
