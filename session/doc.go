// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

// Package session holds the authoritative mapping from guild identity to
// playback session, and the routing path that turns node stream events
// into per-session notifications.
//
// The Registry is the single source of truth for which node owns which
// guild's session. Links never hold session lists; they are looked up here
// by node name, which keeps the link/session relationship cycle-free.
//
// Locking: the registry mutex is the outer lock. Registration calls into
// the owning link (TryAttach) while holding it, and event dispatch
// enqueues under the read lock, so a sink can never be written after the
// write-locked teardown paths close it. Nothing in this package calls out
// while holding the mutex except TryAttach/Detach, which must not block.
package session
