// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"github.com/anchorage-audio/anchorage/internal/logging"
	"github.com/anchorage-audio/anchorage/internal/metrics"
	"github.com/anchorage-audio/anchorage/protocol"
)

// Router fans inbound stream events out to session sinks. One router is
// shared by every link; the originating node name travels with each event
// so stale bindings are filtered out after a session migrates.
type Router struct {
	registry *Registry
}

// NewRouter returns a router over registry.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Dispatch forwards event to the session registered for its guild, if that
// session is still bound to node. Events for unknown guilds or stale
// bindings are dropped without error; a full sink drops its oldest queued
// notification rather than blocking the link's read pump.
func (r *Router) Dispatch(node string, event *protocol.PlayerEvent) {
	r.registry.mu.RLock()
	defer r.registry.mu.RUnlock()

	s, ok := r.registry.sessions[event.GuildID]
	if !ok {
		metrics.EventsDropped.WithLabelValues(node, "no_session").Inc()
		return
	}
	if s.owner.Name() != node {
		metrics.EventsDropped.WithLabelValues(node, "stale_binding").Inc()
		return
	}

	delivered, dropped := s.tryEnqueue(Notification{Kind: KindEvent, Event: event})
	if dropped {
		metrics.EventsDropped.WithLabelValues(node, "sink_overflow").Inc()
		logging.Warn().
			Str("guild", event.GuildID).
			Str("node", node).
			Msg("session sink full, dropped oldest notification")
	}
	if delivered {
		metrics.EventsRouted.WithLabelValues(node).Inc()
	}
}
