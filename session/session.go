// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"github.com/anchorage-audio/anchorage/protocol"
)

// Kind discriminates the notifications delivered on a session's sink.
type Kind int

const (
	// KindEvent wraps a backend-originated player event, forwarded in
	// emission order.
	KindEvent Kind = iota

	// KindDestroyed is synthetic: the owning link left the connected
	// state and the session is gone. It is always the final notification
	// on a sink, after which the sink is closed.
	KindDestroyed
)

// Notification is one value delivered on a session's event sink.
type Notification struct {
	Kind  Kind
	Event *protocol.PlayerEvent // nil when Kind is KindDestroyed
}

// Owner is the contract a session binds to its owning link through. The
// registry calls these while holding its own lock, so implementations must
// only touch their own state and return promptly.
type Owner interface {
	// Name returns the link's pool-unique identity.
	Name() string

	// TryAttach registers one more session against the link. It returns
	// false when the link is not currently connected, in which case no
	// attachment happened.
	TryAttach() bool

	// Detach undoes one TryAttach.
	Detach()
}

// Session is one guild's active playback context. Values are immutable
// after creation; teardown state lives in the registry.
type Session struct {
	guildID string
	owner   Owner
	sink    chan Notification
}

// GuildID returns the guild identity this session is keyed by.
func (s *Session) GuildID() string { return s.guildID }

// Node returns the name of the owning link.
func (s *Session) Node() string { return s.owner.Name() }

// Events returns the session's event sink. The channel preserves backend
// emission order, terminates with a single KindDestroyed value when the
// owning link is lost, and is closed on any teardown path.
func (s *Session) Events() <-chan Notification { return s.sink }

// tryEnqueue delivers n without blocking. When the sink is full it drops
// the oldest queued notification to make room; it reports false only if
// the freed slot was immediately consumed by a concurrent enqueue, which
// cannot happen under the registry's locking discipline but keeps the
// primitive honest.
func (s *Session) tryEnqueue(n Notification) (delivered, dropped bool) {
	select {
	case s.sink <- n:
		return true, false
	default:
	}

	select {
	case <-s.sink:
		dropped = true
	default:
	}

	select {
	case s.sink <- n:
		return true, dropped
	default:
		return false, dropped
	}
}

// enqueueFinal delivers n even against a full sink, dropping queued
// notifications until it fits. Used only for KindDestroyed.
func (s *Session) enqueueFinal(n Notification) {
	for {
		if delivered, _ := s.tryEnqueue(n); delivered {
			return
		}
	}
}
