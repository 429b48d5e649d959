package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_realtime_events_published_total",
		Help: "Records published to the change feed",
	}, []string{"table"})

	eventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_realtime_events_delivered_total",
		Help: "Records delivered to subscribers",
	}, []string{"table"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_realtime_events_dropped_total",
		Help: "Records dropped because a subscriber's buffer was full",
	}, []string{"table"})

	activeSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "portal_realtime_subscriptions",
		Help: "Open change-feed subscriptions",
	}, []string{"table"})

	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_realtime_connections",
		Help: "Open realtime websocket connections",
	})

	authFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_realtime_auth_failures_total",
		Help: "Rejected realtime connections and subscriptions",
	}, []string{"reason"})
)
