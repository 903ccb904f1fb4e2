package pkdiag

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	chainsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pk",
			Name:      "chains_total",
			Help:      "Completed or failed chains, by role and outcome.",
		},
		[]string{"role", "op", "outcome"},
	)
	retransmitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pk",
			Name:      "retransmits_total",
			Help:      "Frame retransmissions due to ACK timeout.",
		},
		[]string{"role"},
	)
	chainDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pk",
			Name:      "chain_duration_seconds",
			Help:      "Wall-clock duration of a completed chain.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "op"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(chainsTotal, retransmitsTotal, chainDuration)
	})
}

func RecordChainCompleted(role, op string, duration time.Duration) {
	RegisterMetrics()
	chainsTotal.WithLabelValues(role, op, "completed").Inc()
	chainDuration.WithLabelValues(role, op).Observe(duration.Seconds())
}

func RecordChainFailed(role, op string) {
	RegisterMetrics()
	chainsTotal.WithLabelValues(role, op, "failed").Inc()
}

func RecordRetransmit(role string) {
	RegisterMetrics()
	retransmitsTotal.WithLabelValues(role).Inc()
}
