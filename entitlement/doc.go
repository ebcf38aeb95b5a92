// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package entitlement answers whether a peer may start a connection,
// use a feature, and how much session time it has left. The session
// machinery consults it at the moments that matter (before connecting,
// before accepting a file transfer) and otherwise stays out of its
// way; deployments plug in their own implementation.
package entitlement
