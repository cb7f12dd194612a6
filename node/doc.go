// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

// Package node implements the persistent link to a single audio backend
// node: its connection state machine with bounded reconnection, the
// WebSocket read pump that feeds the event router, the REST facade for
// stateless commands, and the pool-level ideal-node selector.
//
// A Link is created once per configured node and lives until process
// shutdown. Its connection may cycle through many connect/drop/reconnect
// rounds without the Link being recreated, which is what keeps session
// bindings stable across reconnects.
package node
