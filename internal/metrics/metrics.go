// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "holder_rounds"

// Holder sync outcomes
const (
	SyncOutcomeSuccess     = "success"
	SyncOutcomeEmpty       = "empty"
	SyncOutcomeRateLimited = "rate_limited"
	SyncOutcomeError       = "error"
)

var (
	// HolderSyncTotal counts holder sync cycles by outcome
	HolderSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "holder_sync_total",
		Help:      "Holder sync cycles by outcome.",
	}, []string{"outcome"})

	// HolderSyncDuration observes how long a sync cycle takes
	HolderSyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "holder_sync_duration_seconds",
		Help:      "Duration of holder sync cycles.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	// TrackedHolders is the size of the current holder snapshot
	TrackedHolders = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_holders",
		Help:      "Number of holders in the current snapshot.",
	})

	// RoundTransitionsTotal counts round phase changes by target phase
	RoundTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "round_transitions_total",
		Help:      "Round phase transitions by phase entered.",
	}, []string{"phase"})

	// CurrentRoundNumber is the number of the open round
	CurrentRoundNumber = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "current_round_number",
		Help:      "Number of the currently open round.",
	})

	// ConnectedObservers is the number of live websocket observers
	ConnectedObservers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connected_observers",
		Help:      "Number of connected notification observers.",
	})

	// DroppedNotifications counts events dropped because an observer buffer was full
	DroppedNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_notifications_total",
		Help:      "Notifications dropped for slow observers, by event type.",
	}, []string{"event"})

	// RPCThrottledTotal counts chain calls delayed or refused by the compute unit budget
	RPCThrottledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_throttled_total",
		Help:      "Chain RPC calls throttled by the compute unit budget.",
	}, []string{"method", "priority"})

	// HTTPRequestDuration observes API latency
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
