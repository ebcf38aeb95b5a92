// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the screenlink wire protocol: the closed
// set of message kinds exchanged between peers and the rendezvous
// server, their payload structs, and the codecs.
//
// The relay path carries JSON text frames over WebSocket. Every frame
// is a flat object with a "type" discriminator:
//
//	{"type":"connect","targetConnectionId":"123456789","password":"AB12"}
//
// [Decode] validates frames at the protocol boundary and rejects
// unknown kinds with [ErrUnknownKind], so a handler's decision to drop
// a message is always an explicit switch case rather than an accident
// of loose typing. [Encode] is the inverse.
//
// The P2P data channel carries the same payloads as CBOR via
// [EncodeBinary] and [DecodeBinary]; screen frames and file chunks are
// bulky enough that base64-in-JSON would cost a third of the channel's
// throughput.
//
// [HashPassword] is the session-admission hash shared by both ends:
// Argon2id with the target connection id as salt. The server stores
// and compares only these hashes; plaintext never appears in a
// PeerSession or a log line.
package protocol
