// utils/metrics.go
package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Economy metrics, exposed on /metrics.
var (
	LedgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "economy",
		Subsystem: "ledger",
		Name:      "mutations_total",
		Help:      "Committed ledger mutations by kind and currency",
	}, []string{"kind", "currency"})

	LedgerRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "economy",
		Subsystem: "ledger",
		Name:      "cas_retries_total",
		Help:      "Ledger transactions retried after a lost compare-and-swap",
	})

	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "economy",
		Name:      "invariant_violations_total",
		Help:      "Balance rows found with total != sum of sub-balances",
	})

	TournamentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "economy",
		Subsystem: "tournament",
		Name:      "transitions_total",
		Help:      "Tournament state transitions by target state",
	}, []string{"state"})

	SettlementPayouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "economy",
		Subsystem: "tournament",
		Name:      "payouts_total",
		Help:      "Participant prize payouts committed",
	})

	ReferralRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "economy",
		Subsystem: "referral",
		Name:      "refresh_duration_seconds",
		Help:      "Time spent recomputing one referral balance summary",
		Buckets:   prometheus.DefBuckets,
	})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "economy",
		Subsystem: "notify",
		Name:      "dropped_total",
		Help:      "Events dropped because the dispatch queue was full",
	})
)
