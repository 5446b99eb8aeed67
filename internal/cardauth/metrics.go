package cardauth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the authorization path.
type Metrics struct {
	Authorizations   *prometheus.CounterVec
	AuthDuration     prometheus.Histogram
	DeadlineOverruns prometheus.Counter
	LedgerFailures   prometheus.Counter
	BadSignatures    prometheus.Counter
}

// NewMetrics creates and registers the card-auth metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Authorizations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_cardauth_authorizations_total",
				Help: "Card authorization decisions by result",
			},
			[]string{"result"},
		),
		AuthDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aegis_cardauth_duration_seconds",
				Help:    "End-to-end authorization latency",
				Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
		),
		DeadlineOverruns: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_cardauth_deadline_overruns_total",
				Help: "Authorizations that ran out of budget and were declined",
			},
		),
		LedgerFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_cardauth_ledger_failures_total",
				Help: "Authorizations declined because the ledger append failed",
			},
		),
		BadSignatures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "aegis_cardauth_bad_signatures_total",
				Help: "Webhook requests rejected for a bad or missing signature",
			},
		),
	}
}
