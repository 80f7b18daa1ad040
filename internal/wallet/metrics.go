package wallet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_mutations_total",
			Help: "Wallet mutations by type and outcome kind",
		},
		[]string{"type", "outcome"},
	)

	mutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wallet_mutation_duration_seconds",
			Help:    "End to end duration of wallet mutations including lock wait",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"type"},
	)

	lockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wallet_lock_wait_duration_seconds",
			Help:    "Time spent waiting for the per-user serialization lock",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	eventPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wallet_event_publish_failures_total",
			Help: "Ledger events that could not be published after commit",
		},
	)
)

func observeOutcome(txType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	mutationsTotal.WithLabelValues(txType, outcome).Inc()
}
