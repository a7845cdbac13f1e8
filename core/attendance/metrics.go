package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the synchronization collectors.
type Metrics struct {
	Pushes          *prometheus.CounterVec // result=ok|error
	Polls           *prometheus.CounterVec // result=ok|error|skipped
	AppliedRemote   prometheus.Counter
	DroppedEntities prometheus.Counter
	LastSync        prometheus.Gauge
	ActiveSessions  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg (when not nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edutracker",
			Subsystem: "sync",
			Name:      "pushes_total",
			Help:      "Remote document replacements by result.",
		}, []string{"result"}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edutracker",
			Subsystem: "sync",
			Name:      "polls_total",
			Help:      "Remote document polls by result.",
		}, []string{"result"}),
		AppliedRemote: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edutracker",
			Subsystem: "sync",
			Name:      "applied_snapshots_total",
			Help:      "Remote snapshots that overwrote the local state.",
		}),
		DroppedEntities: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edutracker",
			Subsystem: "sync",
			Name:      "dropped_entities_total",
			Help:      "Remote entities discarded by payload validation.",
		}),
		LastSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edutracker",
			Subsystem: "sync",
			Name:      "last_sync_timestamp_seconds",
			Help:      "Unix time of the last successful push or applied snapshot.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edutracker",
			Name:      "active_sessions",
			Help:      "Students currently clocked in.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Pushes, m.Polls, m.AppliedRemote, m.DroppedEntities, m.LastSync, m.ActiveSessions)
	}
	return m
}
