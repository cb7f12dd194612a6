// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

package protocol

import "math"

// Memory reports a node's JVM memory usage.
type Memory struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

// CPU reports a node's processor load.
type CPU struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

// FrameStats reports audio frame delivery health over the last minute.
// Only present for nodes that are actively sending audio.
type FrameStats struct {
	Sent    int64 `json:"sent"`
	Nulled  int64 `json:"nulled"`
	Deficit int64 `json:"deficit"`
}

// Stats is the periodic load report emitted by a node on its event stream
// and available on demand from its REST surface.
type Stats struct {
	Players        int         `json:"players"`
	PlayingPlayers int         `json:"playingPlayers"`
	Uptime         int64       `json:"uptime"`
	Memory         Memory      `json:"memory"`
	CPU            CPU         `json:"cpu"`
	FrameStats     *FrameStats `json:"frameStats,omitempty"`
}

// Penalties condenses a stats report into a single load score: active
// players, an exponential CPU term, and frame deficit weighting. Lower is
// a healthier node.
func (s *Stats) Penalties() float64 {
	p := float64(s.Players)
	p += math.Round(math.Pow(1.05, 100*s.CPU.SystemLoad))

	if s.FrameStats != nil {
		p += float64(s.FrameStats.Deficit)
		p += float64(s.FrameStats.Nulled) * 2
	}

	return p
}
