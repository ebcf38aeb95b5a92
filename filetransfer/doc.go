// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package filetransfer implements chunked file transfer between
// linked peers. A [Sender] splits a file into fixed-size chunks and
// ships them one at a time, waiting for each chunk's acknowledgment
// before sending the next. A [Receiver] reassembles the chunks,
// verifying a BLAKE3 checksum per chunk and another over the whole
// file before anything is written to disk.
//
// Both sides speak through the transport switch, so chunks ride the
// data channel when one is up and the relay otherwise. Transfers
// that go quiet are swept after a timeout.
package filetransfer
