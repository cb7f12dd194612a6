// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

package node

import "errors"

// ErrNoAvailableNode is returned when no link in the pool is connected.
// Recoverable: links reconnect in the background, callers may retry.
var ErrNoAvailableNode = errors.New("no backend node available")

// SelectIdeal picks the connected link with the fewest bound sessions.
// Ties keep the earliest-registered link, so repeated calls over unchanged
// state are deterministic. links must be in registration order.
//
// The result is a snapshot of live state: the chosen link can drop out of
// Connected immediately after selection, which registration surfaces as
// ErrLinkNotConnected for the caller to reselect on.
func SelectIdeal(links []*Link) (*Link, error) {
	var best *Link
	bestCount := 0

	for _, l := range links {
		if l.State() != Connected {
			continue
		}
		count := l.SessionCount()
		if best == nil || count < bestCount {
			best = l
			bestCount = count
		}
	}

	if best == nil {
		return nil, ErrNoAvailableNode
	}
	return best, nil
}
