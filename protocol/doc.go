// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire types exchanged with an audio backend
// node: the op-tagged frames received over the node's WebSocket stream and
// the JSON payloads used by the node's REST surface.
//
// Frame decoding is tolerant of newer nodes: unknown op values and unknown
// event types decode into an envelope with no typed body, which upstream
// consumers discard. A malformed frame is an error; a well-formed frame of
// an unknown shape is not.
package protocol
