// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

// Package filehash computes the local content hash of an installer
// package file. Jamf Pro reports MD5 in its package digest fields, so
// MD5 is the hash the early-exit optimization and the post-timeout
// equivalence check compare against — it is a wire-format identity
// check, not an integrity guarantee.
package filehash

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// MD5File computes the MD5 digest of the file at path and returns it
// as lowercase hex. The file is streamed through the hash in chunks
// (via io.Copy) to keep memory usage constant regardless of file size.
func MD5File(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := md5.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
