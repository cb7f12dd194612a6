// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"sync"

	"github.com/anchorage-audio/anchorage/internal/logging"
	"github.com/anchorage-audio/anchorage/internal/metrics"
)

var (
	// ErrDuplicateSession is returned when a guild already has an active
	// session; a second registration never silently replaces the first.
	ErrDuplicateSession = errors.New("session already exists for guild")

	// ErrLinkNotConnected is returned when the chosen link left the
	// connected state between selection and registration. Callers should
	// reselect and retry.
	ErrLinkNotConnected = errors.New("link is not connected")

	// ErrSessionNotFound is returned for lookups and teardowns of guilds
	// with no active session.
	ErrSessionNotFound = errors.New("no session for guild")
)

// Registry maps guild identity to its active session. All mutations are
// mutually exclusive; lookups and event dispatch run under the read lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a session for guildID against owner. The duplicate
// check, the connected-state check and the insertion happen atomically
// under the registry lock, so a link-loss sweep can never miss a racing
// registration: either TryAttach observes the link already disconnected,
// or the inserted session is visible to the sweep.
func (r *Registry) Create(guildID string, owner Owner, buffer int) (*Session, error) {
	if buffer < 1 {
		buffer = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[guildID]; exists {
		return nil, ErrDuplicateSession
	}
	if !owner.TryAttach() {
		return nil, ErrLinkNotConnected
	}

	s := &Session{
		guildID: guildID,
		owner:   owner,
		sink:    make(chan Notification, buffer),
	}
	r.sessions[guildID] = s
	metrics.SessionsActive.WithLabelValues(owner.Name()).Inc()

	logging.Debug().
		Str("guild", guildID).
		Str("node", owner.Name()).
		Msg("session registered")

	return s, nil
}

// Lookup returns the active session for guildID.
func (r *Registry) Lookup(guildID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[guildID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Destroy removes guildID's session on caller request. The sink is closed
// without a Destroyed notification: caller-initiated teardown is silent by
// contract, only link loss is signaled.
func (r *Registry) Destroy(guildID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[guildID]
	if !ok {
		return ErrSessionNotFound
	}

	delete(r.sessions, guildID)
	s.owner.Detach()
	close(s.sink)
	metrics.SessionsActive.WithLabelValues(s.owner.Name()).Dec()

	logging.Debug().
		Str("guild", guildID).
		Str("node", s.owner.Name()).
		Msg("session destroyed")

	return nil
}

// EvictAllForLink removes every session bound to node, delivering exactly
// one terminal Destroyed notification per sink before closing it. Sessions
// are removed inside the same critical section, so concurrent or repeated
// sweeps find nothing left to notify: the operation is idempotent.
func (r *Registry) EvictAllForLink(node string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for guildID, s := range r.sessions {
		if s.owner.Name() != node {
			continue
		}

		s.enqueueFinal(Notification{Kind: KindDestroyed})
		close(s.sink)
		delete(r.sessions, guildID)
		s.owner.Detach()
		evicted++
	}

	if evicted > 0 {
		metrics.SessionsActive.WithLabelValues(node).Set(0)
		logging.Info().
			Str("node", node).
			Int("sessions", evicted).
			Msg("evicted sessions for lost link")
	}

	return evicted
}
