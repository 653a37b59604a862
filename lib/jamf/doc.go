// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

// Package jamf is a typed client for the slice of the Jamf Pro API
// that package replacement needs: OAuth2 client-credentials
// authentication, package search/create/update, multipart payload
// upload with bounded retry, JCDS inventory refresh, package digest
// reads, and the legacy XML policy resource.
//
// Every non-2xx response is surfaced as a typed error carrying the
// HTTP status and raw response body, so a failed run can be diagnosed
// without re-running. The only retries are the explicitly bounded
// upload retry loop in this package and the digest convergence poll in
// package converge — nothing else retries silently.
//
// The bearer token is acquired once in [Connect] and held as an
// immutable value for the client's lifetime.
package jamf
