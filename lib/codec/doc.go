// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the binary encoding used on P2P data
// channels. The relay path speaks JSON text frames over WebSocket; the
// data channel carries the same payloads as CBOR with Core
// Deterministic Encoding (RFC 8949 §4.2), so identical logical
// messages always produce identical bytes. Consumers import only this
// package, not fxamacker/cbor directly.
package codec
