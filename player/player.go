// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

// Package player exposes guild-scoped playback commands. A Player is a
// thin command surface over its node's REST facade; playback events
// arrive separately on the session's event sink.
package player

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/anchorage-audio/anchorage/node"
	"github.com/anchorage-audio/anchorage/protocol"
)

// Player issues commands for one guild's playback on one node.
type Player struct {
	guildID string
	rest    *node.Rest
}

// New returns the command surface for guildID on the node behind rest.
func New(guildID string, rest *node.Rest) *Player {
	return &Player{guildID: guildID, rest: rest}
}

// GuildID returns the guild this player commands.
func (p *Player) GuildID() string { return p.guildID }

// Get fetches the player's current state from the node.
func (p *Player) Get(ctx context.Context) (*protocol.Player, error) {
	return p.rest.Player(ctx, p.guildID)
}

func (p *Player) update(ctx context.Context, req *protocol.PlayerUpdateRequest) error {
	_, err := p.rest.UpdatePlayer(ctx, p.guildID, false, req)
	return err
}

// Play starts playback of an encoded track, replacing the current one.
func (p *Player) Play(ctx context.Context, encoded string) error {
	raw, err := json.Marshal(encoded)
	if err != nil {
		return fmt.Errorf("encode track: %w", err)
	}
	return p.update(ctx, &protocol.PlayerUpdateRequest{
		Track: &protocol.UpdateTrack{Encoded: raw},
	})
}

// Stop ends the current playback. The JSON null is what clears the track
// server-side, so it is spelled out rather than omitted.
func (p *Player) Stop(ctx context.Context) error {
	return p.update(ctx, &protocol.PlayerUpdateRequest{
		Track: &protocol.UpdateTrack{Encoded: json.RawMessage("null")},
	})
}

// Pause toggles the paused state.
func (p *Player) Pause(ctx context.Context) error {
	current, err := p.Get(ctx)
	if err != nil {
		return err
	}
	return p.SetPaused(ctx, !current.Paused)
}

// SetPaused pauses or resumes playback.
func (p *Player) SetPaused(ctx context.Context, paused bool) error {
	return p.update(ctx, &protocol.PlayerUpdateRequest{Paused: &paused})
}

// SetVolume sets the playback volume in percent (0-1000).
func (p *Player) SetVolume(ctx context.Context, volume int) error {
	return p.update(ctx, &protocol.PlayerUpdateRequest{Volume: &volume})
}

// Seek moves the playback position.
func (p *Player) Seek(ctx context.Context, position time.Duration) error {
	ms := position.Milliseconds()
	return p.update(ctx, &protocol.PlayerUpdateRequest{Position: &ms})
}

// SetFilters applies filters on top of the active chain: members unset in
// filters keep their current value.
func (p *Player) SetFilters(ctx context.Context, filters protocol.Filters) error {
	current, err := p.Get(ctx)
	if err != nil {
		return err
	}
	merged := current.Filters
	merged.Merge(filters)
	return p.update(ctx, &protocol.PlayerUpdateRequest{Filters: &merged})
}

// ClearFilters removes the whole filter chain.
func (p *Player) ClearFilters(ctx context.Context) error {
	return p.update(ctx, &protocol.PlayerUpdateRequest{Filters: &protocol.Filters{}})
}

// UpdateVoice hands the node fresh voice gateway credentials.
func (p *Player) UpdateVoice(ctx context.Context, voice protocol.VoiceState) error {
	return p.update(ctx, &protocol.PlayerUpdateRequest{Voice: &voice})
}

// Destroy removes the player on the node. Registry teardown is separate;
// use the pool facade to release the session binding as well.
func (p *Player) Destroy(ctx context.Context) error {
	return p.rest.DestroyPlayer(ctx, p.guildID)
}
