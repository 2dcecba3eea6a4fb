package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_orders_placed_total",
		Help: "Total number of orders placed",
	}, []string{"payment_method"})

	OrdersPaidTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_orders_paid_total",
		Help: "Total number of orders marked paid",
	}, []string{"source"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_orders_failed_total",
		Help: "Total number of failed order placements",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrdersDiscardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_orders_discarded_total",
		Help: "Total number of unpaid gateway orders deleted",
	}, []string{"reason"})

	OrderPlacementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_order_placement_latency_seconds",
		Help:    "Latency of the order placement transaction",
		Buckets: prometheus.DefBuckets,
	})

	StockConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_stock_conflicts_total",
		Help: "Total number of placements rejected for insufficient stock",
	})

	GatewaySessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_gateway_sessions_total",
		Help: "Total number of hosted gateway session requests",
	}, []string{"result"})

	GatewaySessionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_gateway_session_latency_seconds",
		Help:    "Latency of hosted gateway session creation",
		Buckets: prometheus.DefBuckets,
	})

	GatewayCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_gateway_callbacks_total",
		Help: "Total number of gateway callbacks by outcome",
	}, []string{"kind", "outcome"})

	LedgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_ledger_entries_total",
		Help: "Total number of ledger entries created or corrected",
	}, []string{"entry_type", "action"})

	LedgerSyncFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_ledger_sync_failures_total",
		Help: "Total number of ledger synchronizations that failed after a committed transition",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_notifications_total",
		Help: "Total number of notifications by kind and result",
	}, []string{"kind", "result"})

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
