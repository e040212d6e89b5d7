// Package metrics provides Prometheus metrics for the realtime
// delivery subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Realtime channel metrics
	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_realtime_events_total",
			Help: "Total number of push events received, by event type",
		},
		[]string{"type"},
	)

	RealtimeEventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_realtime_events_dropped_total",
			Help: "Push events dropped before reaching a store (malformed payload, unknown channel)",
		},
		[]string{"reason"},
	)

	RealtimeReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_realtime_reconnects_total",
			Help: "Reconnect attempts after a network drop, by outcome",
		},
		[]string{"outcome"},
	)

	RealtimeSubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_realtime_subscriptions_active",
			Help: "Logical channel subscriptions currently open",
		},
	)

	// Store metrics
	StoreEventsDedupedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_store_events_deduped_total",
			Help: "Events ignored because an entry with the same id already exists",
		},
		[]string{"store"},
	)

	StoreUnread = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portal_store_unread",
			Help: "Current unread count per store",
		},
		[]string{"store"},
	)

	// Snapshot / mutation metrics
	SnapshotLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_snapshot_loads_total",
			Help: "REST snapshot fetches, by collection and outcome",
		},
		[]string{"collection", "outcome"},
	)

	SendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_send_failures_total",
			Help: "Message sends that failed and left a provisional entry flagged",
		},
	)
)
