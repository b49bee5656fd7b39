// Package metrics exposes the ledger's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransactionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_applied_total",
			Help: "Transactions committed to the ledger, by type",
		},
		[]string{"type"},
	)

	TransactionsReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_transactions_replayed_total",
			Help: "Requests answered from a prior transaction with the same idempotency key",
		},
	)

	TransactionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_rejected_total",
			Help: "Requests that failed, by reason",
		},
		[]string{"reason"},
	)

	ApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_apply_duration_seconds",
			Help:    "Duration of apply_transaction calls",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	WebhookFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_webhook_failures_total",
			Help: "balance_updated webhook deliveries that failed",
		},
	)

	OutboxPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_outbox_published_total",
			Help: "Outbox events relayed to Kafka",
		},
	)
)
