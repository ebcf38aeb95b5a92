// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaling implements the rendezvous/relay server: the
// WebSocket endpoint peers register with, the broker that links a
// viewer to a host after password verification, and the relay that
// forwards signaling and payload frames between linked peers when no
// P2P path exists.
//
// [Registry] owns all shared peer state. Peers register under a
// connection id; a successful connect links two peers symmetrically
// under a session id, and every unlink path (explicit disconnect,
// socket close, idle timeout, eviction) breaks both sides in one
// critical section, so the link invariant — A connected to B implies B
// connected to A — holds at every observable instant.
//
// [Lockout] tracks failed password attempts per source IP. Once an IP
// exhausts its budget inside the rolling window, new WebSocket
// connections from it are refused at accept time, before any
// registration or lookup happens.
//
// [AccessLog] is a fixed-capacity in-memory ring of auth, connect,
// disconnect, and admin events. It is the only audit surface; nothing
// is persisted.
//
// [Server] ties these together: one goroutine per WebSocket connection
// runs the read loop, a clock-driven sweep disconnects idle peers
// through the same path as an explicit disconnect, and [Server.Admin]
// exposes the API-key-gated administrative HTTP surface.
package signaling
