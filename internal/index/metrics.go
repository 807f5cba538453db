package index

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the sync worker collectors.
type Metrics struct {
	Passes       *prometheus.CounterVec
	DocsAdded    prometheus.Counter
	DocsDeleted  prometheus.Counter
	Failures     *prometheus.CounterVec
	JoinSkips    prometheus.Counter
	PassDuration prometheus.Histogram
	Pending      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg when reg
// is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptindex",
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Completed drain cycles by mode.",
		}, []string{"mode"}),
		DocsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apptindex",
			Subsystem: "sync",
			Name:      "documents_added_total",
		}),
		DocsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apptindex",
			Subsystem: "sync",
			Name:      "documents_deleted_total",
		}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptindex",
			Subsystem: "sync",
			Name:      "failures_total",
			Help:      "Failed sync steps by stage.",
		}, []string{"stage"}),
		JoinSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apptindex",
			Subsystem: "sync",
			Name:      "join_skips_total",
			Help:      "Records skipped because their form could not be resolved.",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "apptindex",
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 30, 120},
		}),
		Pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "apptindex",
			Subsystem: "ledger",
			Name:      "pending_actions",
			Help:      "Ledger entries seen at the start of the last drain, by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.Passes, m.DocsAdded, m.DocsDeleted, m.Failures, m.JoinSkips, m.PassDuration, m.Pending)
	}
	return m
}
