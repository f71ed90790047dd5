// Package metrics exports the HA control plane's Prometheus series,
// grounded on the teacher daemon's own /metrics route in cmd/dplaned.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector this daemon exports.
type Metrics struct {
	NodeScore        *prometheus.GaugeVec
	NodeHeartbeatGap *prometheus.GaugeVec
	IsMaster         prometheus.Gauge
	IsIsolated       prometheus.Gauge
	QueueDepth       *prometheus.GaugeVec
	ProcessRestarts  *prometheus.CounterVec
	ChangeModeGap    *prometheus.GaugeVec
	PingHostResult   *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New constructs and registers every collector against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		NodeScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ha_node_score",
			Help: "Most recently computed CALC_SCORE value per roster node.",
		}, []string{"node"}),
		NodeHeartbeatGap: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ha_node_heartbeat_gap",
			Help: "Consecutive missed heartbeats per roster node.",
		}, []string{"node"}),
		IsMaster: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ha_cluster_is_master",
			Help: "1 if this node currently believes it is MASTER.",
		}),
		IsIsolated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ha_cluster_is_isolated",
			Help: "1 if every non-replica peer except self is UNKNOWN.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ha_job_queue_depth",
			Help: "Pending job count per queue.",
		}, []string{"queue"}),
		ProcessRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ha_process_restarts_total",
			Help: "Supervised child process (re)starts by kind.",
		}, []string{"type"}),
		ChangeModeGap: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ha_changemode_gap",
			Help: "Consecutive CHANGE_MODE cycles without acknowledgement, per process.",
		}, []string{"argv"}),
		PingHostResult: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ha_ping_host_result",
			Help: "Most recent ping-host probe result (1 success, 0 otherwise), per host.",
		}, []string{"host"}),
	}

	reg.MustRegister(
		m.NodeScore, m.NodeHeartbeatGap, m.IsMaster, m.IsIsolated,
		m.QueueDepth, m.ProcessRestarts, m.ChangeModeGap, m.PingHostResult,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
