// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "finance_bot"

// AIAttempts counts calls to the receipt extraction service by result
// (success, retryable, fatal).
var AIAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ai",
	Name:      "attempts_total",
	Help:      "Total attempts against the AI extraction service.",
}, []string{"result"})

// AIRetryWait observes each backoff wait before a retry.
var AIRetryWait = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "ai",
	Name:      "retry_wait_seconds",
	Help:      "Backoff waits between AI extraction attempts.",
	Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32},
})

// ExtractionOutcomes counts receipt extractions by outcome.
var ExtractionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "receipt",
	Name:      "extraction_outcomes_total",
	Help:      "Receipt extraction results (extracted, fallback, failed).",
}, []string{"outcome"})

// SessionsActive is the number of open receipt sessions.
var SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "receipt",
	Name:      "sessions_active",
	Help:      "Receipt sessions waiting for mode selection or confirmation.",
})

// TransactionsCommitted counts stored transactions by source.
var TransactionsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "transactions_committed_total",
	Help:      "Transactions handed to the store, by source.",
}, []string{"source"})

// OutboxPending is the number of confirmed transactions waiting to sync.
var OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "outbox_pending",
	Help:      "Confirmed transactions queued for the remote store.",
})
