package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SnapshotsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "paperhub", Name: "snapshots_delivered_total", Help: "Live-query snapshots delivered to subscribers, by collection."},
		[]string{"collection"},
	)
	LikeTxAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "paperhub", Name: "like_tx_attempts_total", Help: "Attempts of the atomic like/unlike transaction (including retries)."},
	)
	LikeTxConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "paperhub", Name: "like_tx_conflicts_total", Help: "Atomic transaction attempts lost to a concurrent writer."},
	)
	LikeTxExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "paperhub", Name: "like_tx_exhausted_total", Help: "Atomic transactions that gave up after the retry budget."},
	)
	CascadeSweepFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "paperhub", Name: "cascade_sweep_failures_total", Help: "Comments that could not be removed during a paper-delete cascade."},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "paperhub", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "paperhub", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(SnapshotsDelivered)
	reg.MustRegister(LikeTxAttempts)
	reg.MustRegister(LikeTxConflicts)
	reg.MustRegister(LikeTxExhausted)
	reg.MustRegister(CascadeSweepFailures)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
}
