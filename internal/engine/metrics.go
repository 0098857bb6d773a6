package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/membersync/internal/ir"
)

// Record results used as the "result" label.
const (
	resultSynced  = "synced"
	resultFailed  = "failed"
	resultRetried = "retried"
	resultSkipped = "skipped"
)

// Metrics holds the orchestrator's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	RecordsTotal  *prometheus.CounterVec
	RunsTotal     *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	ApplyDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer to serve them from the default /metrics
// handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "membersync_records_total",
				Help: "Change records resolved by the orchestrator",
			},
			[]string{"direction", "result"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "membersync_runs_total",
				Help: "Orchestrator runs",
			},
			[]string{"direction", "trigger"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "membersync_run_duration_seconds",
				Help:    "Wall time of one orchestrator run",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"direction"},
		),
		ApplyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "membersync_apply_duration_seconds",
				Help:    "Latency of one apply call to the target store",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"direction"},
		),
	}
	reg.MustRegister(m.RecordsTotal, m.RunsTotal, m.RunDuration, m.ApplyDuration)
	return m
}

func (m *Metrics) observeRecord(d ir.Direction, result string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(string(d), result).Inc()
}

func (m *Metrics) observeApply(d ir.Direction, took time.Duration) {
	if m == nil {
		return
	}
	m.ApplyDuration.WithLabelValues(string(d)).Observe(took.Seconds())
}

func (m *Metrics) observeRun(entry ir.AuditEntry) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(entry.Direction), entry.Trigger).Inc()
	m.RunDuration.WithLabelValues(string(entry.Direction)).Observe(entry.CompletedAt.Sub(entry.StartedAt).Seconds())
}
