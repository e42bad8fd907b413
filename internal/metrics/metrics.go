package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger engine metrics
	LedgerAppliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_ledger_applies_total",
			Help: "Total number of ledger apply calls by entry kind and outcome",
		},
		[]string{"kind", "outcome"}, // committed, replayed, rejected, failed
	)

	LedgerApplyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credits_ledger_apply_duration_seconds",
			Help:    "Latency of ledger apply calls",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"kind"},
	)

	LedgerVersionConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credits_ledger_version_conflicts_total",
			Help: "Total number of optimistic lock conflicts retried by the engine",
		},
	)

	BalanceCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_balance_cache_lookups_total",
			Help: "Balance reads served from cache (hit) or store (miss)",
		},
		[]string{"result"},
	)

	// Payment reconciliation metrics
	ReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_payment_reconciliations_total",
			Help: "Payment callbacks processed by outcome",
		},
		[]string{"outcome"}, // credited, replayed, ignored, package_not_found, failed
	)

	PurchasesStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_purchases_started_total",
			Help: "Checkout sessions created by package",
		},
		[]string{"package"},
	)

	// Usage metering metrics
	UsageChargesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_usage_charges_total",
			Help: "Feature debits by feature and outcome",
		},
		[]string{"feature", "outcome"},
	)

	UsageRefundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_usage_refunds_total",
			Help: "Feature refunds issued after provider failures",
		},
		[]string{"feature"},
	)
)
