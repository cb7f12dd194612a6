// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

package node

// State is a link's position in its connection lifecycle.
//
// Transitions:
//
//	Disconnected -> Connecting            Serve starts, or a caller restart
//	Connecting   -> Connected             handshake accepted
//	Connecting   -> Connecting            attempt failed, budget remains
//	Connected    -> Connecting            stream dropped, reconnecting
//	any          -> Failed                retry budget exhausted (terminal)
//	Connected    -> Closed                graceful shutdown (terminal)
//
// Every transition out of Connected evicts the sessions bound to the link.
// Failed and Closed are terminal for the state machine; only an explicit
// caller restart leaves them.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
	Closed
)

// String returns the lower-case state name used in logs and metric labels.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state machine stops on its own in s.
func (s State) Terminal() bool {
	return s == Failed || s == Closed
}
