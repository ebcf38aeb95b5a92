// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package filetransfer

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// checksum is the hex-encoded BLAKE3 digest of data. Both per-chunk
// and whole-file checksums use it.
func checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// checksumFile streams the file through BLAKE3 without loading it
// into memory.
func checksumFile(file *os.File) (string, error) {
	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hashing %s: %w", file.Name(), err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// chunkCount is the number of chunks a file of the given size splits
// into: ceil(size / chunkSize). An empty file has zero chunks.
func chunkCount(size int64, chunkSize int) int {
	return int((size + int64(chunkSize) - 1) / int64(chunkSize))
}
