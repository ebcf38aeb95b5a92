// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the client-side connection state machine
// used identically by host and viewer. A Machine owns the WebSocket
// to the rendezvous server, drives the connection lifecycle
// (disconnected, connecting, connected, authenticating,
// session-active, error), reconnects with linear backoff after
// unexpected socket loss, runs the heartbeat, and fans inbound
// messages out to subscribers.
//
// The machine handles the lifecycle kinds itself (registered,
// connect-success, connect-error, incoming-connection, disconnected,
// pong); everything else — SDP, ICE, frames, input, file transfer —
// is delivered to message subscribers untouched.
package session
