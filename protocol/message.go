// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Op identifies the kind of frame received on a node's event stream.
type Op string

const (
	OpReady        Op = "ready"
	OpPlayerUpdate Op = "playerUpdate"
	OpStats        Op = "stats"
	OpEvent        Op = "event"
)

// Ready is sent by a node once the stream handshake completes. The session
// id it carries scopes every session-bound REST call until the stream drops.
type Ready struct {
	Resumed   bool   `json:"resumed"`
	SessionID string `json:"sessionId"`
}

// PlayerState is the live playback position reported in player updates.
type PlayerState struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
	Ping      *int  `json:"ping,omitempty"`
}

// PlayerUpdate is a periodic position report for one guild's player.
type PlayerUpdate struct {
	GuildID string      `json:"guildId"`
	State   PlayerState `json:"state"`
}

// Message is one decoded frame from a node's event stream. Exactly one of
// the body fields is non-nil, matching Op; all of them are nil when the op
// is unknown to this client.
type Message struct {
	Op           Op
	Ready        *Ready
	PlayerUpdate *PlayerUpdate
	Stats        *Stats
	Event        *PlayerEvent
}

// DecodeMessage parses a raw stream frame into a Message.
//
// Unknown ops return a Message with only Op set; the caller is expected to
// ignore it. A frame that is not valid JSON, or whose body does not match
// its declared op, returns an error.
func DecodeMessage(data []byte) (*Message, error) {
	var probe struct {
		Op Op `json:"op"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}

	msg := &Message{Op: probe.Op}

	switch probe.Op {
	case OpReady:
		var body Ready
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("decode ready frame: %w", err)
		}
		msg.Ready = &body

	case OpPlayerUpdate:
		var body PlayerUpdate
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("decode playerUpdate frame: %w", err)
		}
		msg.PlayerUpdate = &body

	case OpStats:
		var body Stats
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("decode stats frame: %w", err)
		}
		msg.Stats = &body

	case OpEvent:
		var body PlayerEvent
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("decode event frame: %w", err)
		}
		msg.Event = &body
	}

	return msg, nil
}
