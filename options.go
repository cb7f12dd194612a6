// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

package anchorage

import (
	"net/http"

	"github.com/anchorage-audio/anchorage/config"
)

// Options configures a pool. The zero value is usable; unset fields fall
// back to the config defaults.
type Options struct {
	// Pool tunes link lifecycle behavior. Zero fields are filled from
	// config.Default().
	Pool config.Pool

	// HTTPClient is shared by every node's REST facade. Defaults to a
	// client bounded by Pool.RestTimeout.
	HTTPClient *http.Client
}

func (o *Options) normalize() {
	def := config.Default().Pool
	if o.Pool.UserAgent == "" {
		o.Pool.UserAgent = def.UserAgent
	}
	if o.Pool.MaxRetries == 0 {
		o.Pool.MaxRetries = def.MaxRetries
	}
	if o.Pool.ReconnectDelay == 0 {
		o.Pool.ReconnectDelay = def.ReconnectDelay
	}
	if o.Pool.MaxReconnectDelay == 0 {
		o.Pool.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if o.Pool.HandshakeTimeout == 0 {
		o.Pool.HandshakeTimeout = def.HandshakeTimeout
	}
	if o.Pool.RestTimeout == 0 {
		o.Pool.RestTimeout = def.RestTimeout
	}
	if o.Pool.SessionBuffer == 0 {
		o.Pool.SessionBuffer = def.SessionBuffer
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Pool.RestTimeout}
	}
}
