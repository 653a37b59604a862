// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Key priority lists for each snapshot field, most specific first.
// The order is part of the extraction contract: at any object level,
// an earlier key beats a later one, and any key at the current level
// beats every key in nested objects.
var (
	md5Keys      = []string{"md5Hash", "md5", "md5Checksum", "md5Sum", "MD5"}
	hashTypeKeys = []string{"hashType", "checksumType"}
	hashKeys     = []string{"hashValue", "checksum", "hash"}
	sizeKeys     = []string{"fileSize", "size", "fileSizeBytes"}
)

// Snapshot is the externally observed payload evidence for a package.
// Each field is optional: an empty string (or nil size) means the
// server did not report that field, which is a valid state rather
// than an error.
type Snapshot struct {
	// MD5Hash is the server-reported MD5 of the stored payload,
	// typically lowercase hex.
	MD5Hash string

	// HashType names the algorithm of HashValue (e.g. "SHA3_512").
	HashType string

	// HashValue is the digest in the HashType algorithm.
	HashValue string

	// FileSize is the stored payload size in bytes. Nil when not
	// reported.
	FileSize *uint64
}

// Extract decodes a Jamf package detail document and pulls the digest
// fields out of it, wherever the schema variant put them. The returned
// snapshot may be empty; only malformed JSON is an error.
func Extract(raw []byte) (Snapshot, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var document any
	if err := decoder.Decode(&document); err != nil {
		return Snapshot{}, fmt.Errorf("decoding package detail: %w", err)
	}
	return FromValue(document), nil
}

// FromValue extracts a snapshot from an already-decoded JSON value.
// Numeric values must be json.Number (decode with UseNumber) for exact
// rendering; float64 values are accepted and formatted minimally.
func FromValue(document any) Snapshot {
	snapshot := Snapshot{
		MD5Hash:   firstString(document, md5Keys),
		HashType:  firstString(document, hashTypeKeys),
		HashValue: firstString(document, hashKeys),
	}
	if size, ok := firstUint(document, sizeKeys); ok {
		snapshot.FileSize = &size
	}
	return snapshot
}

// IsEmpty reports whether no field was found at all. This is the "no
// digest available" state: the server has not (yet) computed checksums
// for the package.
func (s Snapshot) IsEmpty() bool {
	return s.MD5Hash == "" && s.HashType == "" && s.HashValue == "" && s.FileSize == nil
}

// HasVerifiableContent reports whether the snapshot carries enough to
// meaningfully identify payload content: an MD5 or a typed hash value.
// Size and hash type alone do not qualify — they cannot distinguish
// one payload from another with any confidence.
func (s Snapshot) HasVerifiableContent() bool {
	return s.MD5Hash != "" || s.HashValue != ""
}

// DiffersFrom reports whether the snapshot differs from prior under
// the strict change-detection policy: only a field present in BOTH
// snapshots can register a difference. A field appearing or vanishing
// between observations is server-side reprocessing noise, not evidence
// of new content.
func (s Snapshot) DiffersFrom(prior Snapshot) bool {
	if stringChanged(prior.MD5Hash, s.MD5Hash) {
		return true
	}
	if stringChanged(prior.HashType, s.HashType) {
		return true
	}
	if stringChanged(prior.HashValue, s.HashValue) {
		return true
	}
	return s.FileSize != nil && prior.FileSize != nil && *s.FileSize != *prior.FileSize
}

// String renders the snapshot as a one-line diagnostic, with absent
// fields shown as "unknown".
func (s Snapshot) String() string {
	size := "unknown"
	if s.FileSize != nil {
		size = strconv.FormatUint(*s.FileSize, 10)
	}
	return fmt.Sprintf("md5=%s, hash=%s %s, file_size=%s",
		orUnknown(s.MD5Hash), orUnknown(s.HashType), orUnknown(s.HashValue), size)
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

func stringChanged(old, new string) bool {
	return old != "" && new != "" && old != new
}

// firstString finds the first string-coercible value under any of the
// candidate keys, checking the current object's keys in priority order
// before descending. Returns "" when nothing matches.
func firstString(value any, keys []string) string {
	switch typed := value.(type) {
	case map[string]any:
		for _, key := range keys {
			if nested, ok := typed[key]; ok {
				if found, ok := scalarString(nested); ok {
					return found
				}
			}
		}
		for _, key := range sortedKeys(typed) {
			if found := firstString(typed[key], keys); found != "" {
				return found
			}
		}
	case []any:
		for _, item := range typed {
			if found := firstString(item, keys); found != "" {
				return found
			}
		}
	}
	return ""
}

// firstUint is firstString's counterpart for unsigned sizes. Values
// that exist under a candidate key but are not coercible (negative,
// fractional, non-numeric string) are treated as absent.
func firstUint(value any, keys []string) (uint64, bool) {
	switch typed := value.(type) {
	case map[string]any:
		for _, key := range keys {
			if nested, ok := typed[key]; ok {
				if found, ok := scalarUint(nested); ok {
					return found, true
				}
			}
		}
		for _, key := range sortedKeys(typed) {
			if found, ok := firstUint(typed[key], keys); ok {
				return found, true
			}
		}
	case []any:
		for _, item := range typed {
			if found, ok := firstUint(item, keys); ok {
				return found, true
			}
		}
	}
	return 0, false
}

// scalarString coerces a leaf value to a string. Empty strings count
// as absent. Numbers are accepted and rendered decimally — some Jamf
// versions report checksums and sizes as bare numbers.
func scalarString(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		if typed == "" {
			return "", false
		}
		return typed, true
	case json.Number:
		return typed.String(), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	}
	return "", false
}

// scalarUint coerces a leaf value to a uint64, accepting
// numeric-looking strings.
func scalarUint(value any) (uint64, bool) {
	switch typed := value.(type) {
	case json.Number:
		parsed, err := strconv.ParseUint(typed.String(), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	case float64:
		if typed < 0 || typed != float64(uint64(typed)) {
			return 0, false
		}
		return uint64(typed), true
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return 0, false
		}
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

// sortedKeys returns the object's keys in sorted order, making the
// descent order between equal-depth siblings deterministic.
func sortedKeys(object map[string]any) []string {
	keys := make([]string, 0, len(object))
	for key := range object {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
