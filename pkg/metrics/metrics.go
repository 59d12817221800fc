package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expensio_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// ExpenseListLookups counts cache-aside list reads by source (cache|database).
	ExpenseListLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expensio_expense_list_lookups_total",
			Help: "Total number of expense list reads by source",
		},
		[]string{"source"},
	)

	// ImportedRows counts bulk import rows by outcome (inserted|skipped).
	ImportedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expensio_imported_rows_total",
			Help: "Total number of bulk import rows processed",
		},
		[]string{"outcome"},
	)

	// ActiveSessions tracks active sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "expensio_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "expensio_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
