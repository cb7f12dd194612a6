// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines the Prometheus instruments for the node pool:
// link connection state, reconnect attempts, session registry population,
// event routing throughput, and REST call latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinkState tracks each link's connection state as a labeled gauge.
	// Exactly one state label per node carries the value 1.
	LinkState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "anchorage_link_state",
			Help: "Current connection state per backend node (1 for the active state)",
		},
		[]string{"node", "state"},
	)

	// LinkReconnects counts connection attempts per node, by outcome.
	LinkReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchorage_link_connect_attempts_total",
			Help: "Total connection attempts per backend node",
		},
		[]string{"node", "outcome"}, // "success", "failure"
	)

	// LinkPenalties exposes the last load score computed from a node's
	// stats frames.
	LinkPenalties = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "anchorage_link_penalties",
			Help: "Load penalty score per backend node (lower is healthier)",
		},
		[]string{"node"},
	)

	// SessionsActive tracks registered sessions per owning node.
	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "anchorage_sessions_active",
			Help: "Currently registered playback sessions per backend node",
		},
		[]string{"node"},
	)

	// EventsRouted counts stream events delivered to session sinks.
	EventsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchorage_events_routed_total",
			Help: "Stream events delivered to session event sinks",
		},
		[]string{"node"},
	)

	// EventsDropped counts events discarded before delivery, by reason.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchorage_events_dropped_total",
			Help: "Stream events discarded instead of delivered",
		},
		[]string{"node", "reason"}, // "no_session", "stale_binding", "sink_overflow"
	)

	// RestRequestDuration observes REST round-trip latency per node.
	RestRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anchorage_rest_request_duration_seconds",
			Help:    "Duration of REST requests to backend nodes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node", "operation"},
	)

	// RestRequestErrors counts failed REST requests per node.
	RestRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchorage_rest_request_errors_total",
			Help: "Total failed REST requests to backend nodes",
		},
		[]string{"node", "operation"},
	)
)

// linkStates enumerates every state label so SetLinkState can zero the
// inactive ones.
var linkStates = []string{"disconnected", "connecting", "connected", "failed", "closed"}

// SetLinkState records the active connection state for a node, clearing
// the other state labels.
func SetLinkState(node, state string) {
	for _, s := range linkStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		LinkState.WithLabelValues(node, s).Set(v)
	}
}
