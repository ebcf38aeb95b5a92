// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for the session-admission hash. Both peers and
// the server must agree on these: the hash is computed client-side for
// register and connect, and recomputed nowhere.
const (
	argonTime    = 1
	argonMemory  = 19 * 1024 // KiB
	argonThreads = 1
	argonKeyLen  = 32
)

// HashPassword derives the admission hash for a connection id and
// password. The connection id is the salt, so the same password
// yields different hashes for different peers and precomputed tables
// are useless. The empty password hashes like any other string: a
// host that sets no password still gets a well-formed hash, and a
// viewer must still present the matching (empty) password.
func HashPassword(connectionID, password string) string {
	key := argon2.IDKey([]byte(password), []byte(connectionID), argonTime, argonMemory, argonThreads, argonKeyLen)
	return hex.EncodeToString(key)
}

// VerifyHash compares the stored admission hash against a presented
// one in constant time. The server never sees plaintext, so this is
// the only comparison it performs.
func VerifyHash(stored, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
