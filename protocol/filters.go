// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

package protocol

import "github.com/goccy/go-json"

// EqualizerBand adjusts the gain of one of the fifteen equalizer bands.
type EqualizerBand struct {
	Band int     `json:"band"`
	Gain float64 `json:"gain"`
}

// Karaoke configures vocal suppression.
type Karaoke struct {
	Level       *float64 `json:"level,omitempty"`
	MonoLevel   *float64 `json:"monoLevel,omitempty"`
	FilterBand  *float64 `json:"filterBand,omitempty"`
	FilterWidth *float64 `json:"filterWidth,omitempty"`
}

// Timescale changes playback speed, pitch and rate.
type Timescale struct {
	Speed *float64 `json:"speed,omitempty"`
	Pitch *float64 `json:"pitch,omitempty"`
	Rate  *float64 `json:"rate,omitempty"`
}

// Tremolo oscillates the volume.
type Tremolo struct {
	Frequency *float64 `json:"frequency,omitempty"`
	Depth     *float64 `json:"depth,omitempty"`
}

// Vibrato oscillates the pitch.
type Vibrato struct {
	Frequency *float64 `json:"frequency,omitempty"`
	Depth     *float64 `json:"depth,omitempty"`
}

// Rotation pans the audio around the stereo field.
type Rotation struct {
	RotationHz *float64 `json:"rotationHz,omitempty"`
}

// Distortion applies waveform distortion.
type Distortion struct {
	SinOffset *float64 `json:"sinOffset,omitempty"`
	SinScale  *float64 `json:"sinScale,omitempty"`
	CosOffset *float64 `json:"cosOffset,omitempty"`
	CosScale  *float64 `json:"cosScale,omitempty"`
	TanOffset *float64 `json:"tanOffset,omitempty"`
	TanScale  *float64 `json:"tanScale,omitempty"`
	Offset    *float64 `json:"offset,omitempty"`
	Scale     *float64 `json:"scale,omitempty"`
}

// ChannelMix remixes the left and right channels into each other.
type ChannelMix struct {
	LeftToLeft   *float64 `json:"leftToLeft,omitempty"`
	LeftToRight  *float64 `json:"leftToRight,omitempty"`
	RightToLeft  *float64 `json:"rightToLeft,omitempty"`
	RightToRight *float64 `json:"rightToRight,omitempty"`
}

// LowPass suppresses high frequencies.
type LowPass struct {
	Smoothing *float64 `json:"smoothing,omitempty"`
}

// Filters is the full playback filter chain of a player. Nil members are
// not applied.
type Filters struct {
	Volume        *float64        `json:"volume,omitempty"`
	Equalizer     []EqualizerBand `json:"equalizer,omitempty"`
	Karaoke       *Karaoke        `json:"karaoke,omitempty"`
	Timescale     *Timescale      `json:"timescale,omitempty"`
	Tremolo       *Tremolo        `json:"tremolo,omitempty"`
	Vibrato       *Vibrato        `json:"vibrato,omitempty"`
	Rotation      *Rotation       `json:"rotation,omitempty"`
	Distortion    *Distortion     `json:"distortion,omitempty"`
	ChannelMix    *ChannelMix     `json:"channelMix,omitempty"`
	LowPass       *LowPass        `json:"lowPass,omitempty"`
	PluginFilters json.RawMessage `json:"pluginFilters,omitempty"`
}

// Merge overlays other onto f, keeping f's members where other leaves them
// unset. Used to send filter updates without clobbering active filters.
func (f *Filters) Merge(other Filters) {
	if other.Volume != nil {
		f.Volume = other.Volume
	}
	if other.Equalizer != nil {
		f.Equalizer = other.Equalizer
	}
	if other.Karaoke != nil {
		f.Karaoke = other.Karaoke
	}
	if other.Timescale != nil {
		f.Timescale = other.Timescale
	}
	if other.Tremolo != nil {
		f.Tremolo = other.Tremolo
	}
	if other.Vibrato != nil {
		f.Vibrato = other.Vibrato
	}
	if other.Rotation != nil {
		f.Rotation = other.Rotation
	}
	if other.Distortion != nil {
		f.Distortion = other.Distortion
	}
	if other.ChannelMix != nil {
		f.ChannelMix = other.ChannelMix
	}
	if other.LowPass != nil {
		f.LowPass = other.LowPass
	}
	if other.PluginFilters != nil {
		f.PluginFilters = other.PluginFilters
	}
}
