// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for components that tick, sweep, back
// off, or heartbeat. Production code injects [Real]; tests inject
// [Fake] and drive it with Advance, making every timer-dependent
// behaviour in the engine deterministic: the server's idle-session
// sweep, the client's heartbeat and reconnect backoff, the streaming
// loop's capture ticker, and the file-transfer staleness sweep.
package clock
