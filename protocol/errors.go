// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "errors"

// Sentinel errors for protocol-level failures. Server handlers convert
// these to *-error wire messages on the affected socket; they are
// never allowed to escape a connection handler.
var (
	// ErrUnknownKind is returned by Decode for a frame whose "type"
	// is not in the closed message set.
	ErrUnknownKind = errors.New("unknown message kind")

	// ErrInvalidPassword is an authentication failure against a
	// registered peer's password hash.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrNotFound means the target connection id is not registered.
	ErrNotFound = errors.New("not found")

	// ErrLockedOut means the source IP has exceeded the failed
	// password attempt budget and new work from it is refused.
	ErrLockedOut = errors.New("locked out")

	// ErrTooLarge rejects a file transfer before it starts.
	ErrTooLarge = errors.New("file too large")

	// ErrChecksumMismatch is a per-chunk or whole-file integrity
	// failure.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Canonical reason strings carried in connect-error frames. Clients
// match on these, so they are part of the wire contract.
const (
	ReasonNotFound        = "not found"
	ReasonInvalidPassword = "invalid password"
	ReasonLockedOut       = "locked out"
)
