package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_received_total",
		Help: "Total number of payment events received, by type",
	}, []string{"type"})

	EventsDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_events_duplicate_total",
		Help: "Total number of duplicate deliveries short-circuited by the ledger",
	})

	EventsUnhandledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_events_unhandled_total",
		Help: "Total number of events acknowledged without handling",
	})

	EventsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_skipped_total",
		Help: "Total number of events skipped before claiming",
	}, []string{"reason"})

	OrdersReconciledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_reconciled_total",
		Help: "Total number of orders transitioned to paid",
	})

	SlotsReconciledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slots_reconciled_total",
		Help: "Total number of slots transitioned to booked",
	})

	ReconciliationFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_failed_total",
		Help: "Total number of reconciliations recorded as errors",
	}, []string{"reason"})

	ReconciliationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconciliation_latency_seconds",
		Help:    "Latency of the full claim-transition-commit cycle",
		Buckets: prometheus.DefBuckets,
	})

	LedgerClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_claims_total",
		Help: "Total number of ledger claim attempts, by result",
	}, []string{"result"})

	LedgerPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_purged_total",
		Help: "Total number of expired ledger rows purged",
	})

	NotificationsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_published_total",
		Help: "Total number of notification dispatch attempts, by kind",
	}, []string{"kind"})

	NotificationsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Total number of failed notification dispatches",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
