// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package session

// State is the connection lifecycle state of a Machine.
type State int

const (
	// StateDisconnected is the initial state, and the terminal state
	// after an explicit disconnect or an exhausted reconnect loop.
	StateDisconnected State = iota

	// StateConnecting covers dialing and the register handshake.
	StateConnecting

	// StateConnected means registered with the server, no linked
	// peer.
	StateConnected

	// StateAuthenticating is the viewer-side window between sending
	// connect and the server's verdict.
	StateAuthenticating

	// StateSessionActive means linked to a peer.
	StateSessionActive

	// StateError is entered on connect-error. Non-terminal: the
	// machine stays registered and the caller may retry.
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateSessionActive:
		return "session-active"
	case StateError:
		return "error"
	}
	return "unknown"
}
