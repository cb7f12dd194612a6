// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

package protocol

// EventType discriminates the player events a node emits on its stream.
type EventType string

const (
	EventTrackStart      EventType = "TrackStartEvent"
	EventTrackEnd        EventType = "TrackEndEvent"
	EventTrackException  EventType = "TrackExceptionEvent"
	EventTrackStuck      EventType = "TrackStuckEvent"
	EventWebSocketClosed EventType = "WebSocketClosedEvent"
)

// Exception describes a playback failure reported by a node.
type Exception struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

// PlayerEvent is one guild-scoped event from a node's stream. The populated
// fields depend on Type: Track for start/end/exception/stuck, Reason for
// track end, Exception for exceptions, ThresholdMs for stuck tracks, and
// Code/Reason/ByRemote for a closed voice gateway.
type PlayerEvent struct {
	Type    EventType `json:"type"`
	GuildID string    `json:"guildId"`

	Track       *Track     `json:"track,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Exception   *Exception `json:"exception,omitempty"`
	ThresholdMs int64      `json:"thresholdMs,omitempty"`
	Code        int        `json:"code,omitempty"`
	ByRemote    bool       `json:"byRemote,omitempty"`
}
