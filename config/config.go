// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

// Package config defines the node pool configuration and its loader.
//
// Configuration is layered with Koanf v2, highest priority last:
//  1. Built-in defaults (structs provider)
//  2. Optional YAML file (ANCHORAGE_CONFIG, anchorage.yaml, anchorage.yml)
//  3. Environment variables with the ANCHORAGE_ prefix
//     (ANCHORAGE_POOL_MAX_RETRIES -> pool.max_retries)
//
// Node lists cannot be expressed usefully through flat environment
// variables, so nodes come from the file layer or are supplied
// programmatically.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Node identifies one audio backend node. Immutable after Start; the pool
// keys links by Name for the life of the process.
type Node struct {
	Name          string `koanf:"name" validate:"required"`
	Host          string `koanf:"host" validate:"required"`
	Port          int    `koanf:"port" validate:"required,min=1,max=65535"`
	Authorization string `koanf:"authorization" validate:"required"`

	// Secure selects wss/https endpoints.
	Secure bool `koanf:"secure"`
}

// StreamEndpoint returns the node's event stream URL.
func (n Node) StreamEndpoint() string {
	scheme := "ws"
	if n.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/v4/websocket", scheme, n.Host, n.Port)
}

// RestEndpoint returns the base URL of the node's REST surface.
func (n Node) RestEndpoint() string {
	scheme := "http"
	if n.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/v4", scheme, n.Host, n.Port)
}

// Pool tunes connection lifecycle behavior shared by every link.
type Pool struct {
	// UserAgent is sent as Client-Name and User-Agent on every request.
	UserAgent string `koanf:"user_agent"`

	// MaxRetries bounds consecutive failed connection attempts before a
	// link is declared lost. The budget refills on every successful
	// connect.
	MaxRetries int `koanf:"max_retries" validate:"min=1"`

	// ReconnectDelay is the first backoff interval; it doubles per failed
	// attempt up to MaxReconnectDelay.
	ReconnectDelay    time.Duration `koanf:"reconnect_delay" validate:"min=1ms"`
	MaxReconnectDelay time.Duration `koanf:"max_reconnect_delay" validate:"min=1ms"`

	// HandshakeTimeout bounds a single dial attempt.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"min=1ms"`

	// RestTimeout bounds a single REST round trip.
	RestTimeout time.Duration `koanf:"rest_timeout" validate:"min=1ms"`

	// SessionBuffer is the per-session event sink capacity. When full the
	// oldest queued notification is dropped in favor of the new one.
	SessionBuffer int `koanf:"session_buffer" validate:"min=1"`
}

// Logging configures the package logger.
type Logging struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

// Config is the complete pool configuration.
type Config struct {
	Nodes   []Node  `koanf:"nodes" validate:"omitempty,min=1,dive"`
	Pool    Pool    `koanf:"pool"`
	Logging Logging `koanf:"logging"`
}

// Default returns the built-in defaults. Nodes is empty; a usable pool
// needs at least one node from the file layer or the caller.
func Default() *Config {
	return &Config{
		Pool: Pool{
			UserAgent:         "Anchorage/1.0",
			MaxRetries:        3,
			ReconnectDelay:    1 * time.Second,
			MaxReconnectDelay: 32 * time.Second,
			HandshakeTimeout:  10 * time.Second,
			RestTimeout:       15 * time.Second,
			SessionBuffer:     256,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "ANCHORAGE_CONFIG"

// DefaultConfigPaths lists where a config file is searched, in order.
var DefaultConfigPaths = []string{
	"anchorage.yaml",
	"anchorage.yml",
	"/etc/anchorage/anchorage.yaml",
	"/etc/anchorage/anchorage.yml",
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps ANCHORAGE_POOL_MAX_RETRIES to pool.max_retries. Only
// the first underscore separates the section from the key; the key keeps
// its remaining underscores.
func envTransform(key string) string {
	key = strings.TrimPrefix(key, "ANCHORAGE_")
	key = strings.ToLower(key)
	return strings.Replace(key, "_", ".", 1)
}
