package gatekeeper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the decision core.
type Metrics struct {
	Decisions        *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec
	BreakGlassOpened prometheus.Counter
	LedgerFailures   prometheus.Counter
}

// NewMetrics creates and registers the gatekeeper metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_gatekeeper_decisions_total",
				Help: "Authorization decisions by outcome and violation type",
			},
			[]string{"decision", "violation"},
		),
		DecisionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aegis_gatekeeper_decision_duration_seconds",
				Help:    "End-to-end duration of gatekeeper validation",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"decision"},
		),
		BreakGlassOpened: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_gatekeeper_breakglass_opened_total",
				Help: "Break-glass events opened by the gatekeeper",
			},
		),
		LedgerFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_gatekeeper_ledger_failures_total",
				Help: "Decisions forced to BLOCKED because the ledger append failed",
			},
		),
	}
}

func (m *Metrics) observe(decision, violation string, seconds float64) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(decision, violation).Inc()
	m.DecisionDuration.WithLabelValues(decision).Observe(seconds)
}
