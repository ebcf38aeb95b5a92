// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport negotiates the peer-to-peer data channel and
// selects the live send path.
//
// Negotiator wraps one pion PeerConnection: the initiator calls
// CreateOffer, the other side answers through HandleOffer, and both
// trickle ICE candidates through the signaling relay as they gather.
// Data flows over a single ordered data channel carrying CBOR
// envelopes.
//
// Switch is the seam the streaming loop and file transfer write to:
// it prefers the data channel while the negotiator reports connected
// and silently reroutes through the server relay otherwise. Falling
// back is never an error the sender sees.
package transport
