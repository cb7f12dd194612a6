// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"

	"github.com/goccy/go-json"
)

// TrackInfo is the decoded metadata of an encoded track.
type TrackInfo struct {
	Identifier string  `json:"identifier"`
	IsSeekable bool    `json:"isSeekable"`
	Author     string  `json:"author"`
	Length     int64   `json:"length"`
	IsStream   bool    `json:"isStream"`
	Position   int64   `json:"position"`
	Title      string  `json:"title"`
	URI        *string `json:"uri,omitempty"`
	ArtworkURL *string `json:"artworkUrl,omitempty"`
	ISRC       *string `json:"isrc,omitempty"`
	SourceName string  `json:"sourceName"`
}

// Track pairs an opaque encoded track with its metadata.
type Track struct {
	Encoded    string          `json:"encoded"`
	Info       TrackInfo       `json:"info"`
	PluginInfo json.RawMessage `json:"pluginInfo,omitempty"`
}

// PlaylistInfo describes a resolved playlist.
type PlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack int    `json:"selectedTrack"`
}

// Playlist is the payload of a playlist load result.
type Playlist struct {
	Info       PlaylistInfo    `json:"info"`
	PluginInfo json.RawMessage `json:"pluginInfo,omitempty"`
	Tracks     []Track         `json:"tracks"`
}

// LoadError is the payload of a failed load result.
type LoadError struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

// LoadType discriminates the outcome of resolving an identifier.
type LoadType string

const (
	LoadTypeTrack    LoadType = "track"
	LoadTypePlaylist LoadType = "playlist"
	LoadTypeSearch   LoadType = "search"
	LoadTypeEmpty    LoadType = "empty"
	LoadTypeError    LoadType = "error"
)

// LoadResult is the loadType-tagged response of a track resolution. Data
// holds the raw payload; use the typed accessors to interpret it.
type LoadResult struct {
	LoadType LoadType        `json:"loadType"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Track returns the payload of a single-track result.
func (r *LoadResult) Track() (*Track, error) {
	if r.LoadType != LoadTypeTrack {
		return nil, fmt.Errorf("load result is %q, not a track", r.LoadType)
	}
	var t Track
	if err := json.Unmarshal(r.Data, &t); err != nil {
		return nil, fmt.Errorf("decode track payload: %w", err)
	}
	return &t, nil
}

// Playlist returns the payload of a playlist result.
func (r *LoadResult) Playlist() (*Playlist, error) {
	if r.LoadType != LoadTypePlaylist {
		return nil, fmt.Errorf("load result is %q, not a playlist", r.LoadType)
	}
	var p Playlist
	if err := json.Unmarshal(r.Data, &p); err != nil {
		return nil, fmt.Errorf("decode playlist payload: %w", err)
	}
	return &p, nil
}

// Search returns the payload of a search result.
func (r *LoadResult) Search() ([]Track, error) {
	if r.LoadType != LoadTypeSearch {
		return nil, fmt.Errorf("load result is %q, not a search", r.LoadType)
	}
	var tracks []Track
	if err := json.Unmarshal(r.Data, &tracks); err != nil {
		return nil, fmt.Errorf("decode search payload: %w", err)
	}
	return tracks, nil
}

// Error returns the payload of an error result.
func (r *LoadResult) Error() (*LoadError, error) {
	if r.LoadType != LoadTypeError {
		return nil, fmt.Errorf("load result is %q, not an error", r.LoadType)
	}
	var e LoadError
	if err := json.Unmarshal(r.Data, &e); err != nil {
		return nil, fmt.Errorf("decode error payload: %w", err)
	}
	return &e, nil
}

// VoiceState carries the voice gateway credentials a node needs to join a
// guild's voice channel.
type VoiceState struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
	Connected *bool  `json:"connected,omitempty"`
	Ping      *int   `json:"ping,omitempty"`
}

// Player is the REST representation of one guild's player on a node.
type Player struct {
	GuildID string      `json:"guildId"`
	Track   *Track      `json:"track,omitempty"`
	Volume  int         `json:"volume"`
	Paused  bool        `json:"paused"`
	State   PlayerState `json:"state"`
	Voice   VoiceState  `json:"voice"`
	Filters Filters     `json:"filters"`
}

// UpdateTrack selects the track portion of a player update. Encoded uses
// json.RawMessage so the JSON null that stops playback survives the
// omitempty handling applied to absent fields.
type UpdateTrack struct {
	Encoded    json.RawMessage `json:"encoded,omitempty"`
	Identifier string          `json:"identifier,omitempty"`
	UserData   json.RawMessage `json:"userData,omitempty"`
}

// PlayerUpdateRequest is a partial player update; nil fields are left
// untouched by the node.
type PlayerUpdateRequest struct {
	Track    *UpdateTrack `json:"track,omitempty"`
	Position *int64       `json:"position,omitempty"`
	EndTime  *int64       `json:"endTime,omitempty"`
	Volume   *int         `json:"volume,omitempty"`
	Paused   *bool        `json:"paused,omitempty"`
	Filters  *Filters     `json:"filters,omitempty"`
	Voice    *VoiceState  `json:"voice,omitempty"`
}

// SessionUpdate configures stream resuming for the current session.
type SessionUpdate struct {
	Resuming bool `json:"resuming"`
	Timeout  int  `json:"timeout"`
}
