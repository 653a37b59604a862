// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest models the checksum evidence Jamf Pro reports for a
// package payload.
//
// The Jamf API is inconsistent about where checksum fields live and
// what they are called: depending on version and storage backend, the
// MD5 may appear top-level as "md5", nested under a file-info object
// as "md5Hash", or aliased as "md5Checksum". Extraction therefore
// performs a deterministic pre-order search over the whole detail
// document with a fixed key-priority list per field: at each object,
// the priority keys are consulted before descending, the first match
// wins, and nested objects are visited in sorted key order so the
// tie-break between same-named fields at equal depth does not depend
// on map iteration order.
//
// A snapshot with no recognized fields at all ("no digest available")
// is a valid observation, distinct from both an error and a snapshot
// whose fields are present but unchanged.
package digest
