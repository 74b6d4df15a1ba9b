package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RequestsFinished counts liquidation requests by terminal status.
var RequestsFinished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "liquidation_requests_finished_total",
		Help: "Total number of liquidation requests reaching a terminal status",
	},
	[]string{"status"},
)

// RequestDuration records end-to-end liquidation latency by terminal status.
var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "liquidation_request_duration_seconds",
		Help:    "Seconds from request creation to terminal status",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	},
	[]string{"status"},
)

// ComplianceChecks counts compliance check completions by type and result.
var ComplianceChecks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "liquidation_compliance_checks_total",
		Help: "Total number of compliance checks by type and terminal result",
	},
	[]string{"type", "result"},
)

// ExecutionAttempts counts transaction execution attempts by outcome.
var ExecutionAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "liquidation_execution_attempts_total",
		Help: "Total number of execution attempts against provider rails",
	},
	[]string{"outcome"},
)

// ProviderReservations counts liquidity reservation attempts.
var ProviderReservations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "liquidation_provider_reservations_total",
		Help: "Total number of liquidity reservation attempts",
	},
	[]string{"outcome"},
)

// QuotesIssued counts price snapshots by suitability verdict.
var QuotesIssued = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "liquidation_quotes_issued_total",
		Help: "Total number of market price snapshots issued",
	},
	[]string{"suitable"},
)

func init() {
	prometheus.MustRegister(
		RequestsFinished,
		RequestDuration,
		ComplianceChecks,
		ExecutionAttempts,
		ProviderReservations,
		QuotesIssued,
	)
}
