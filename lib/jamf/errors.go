// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

package jamf

import (
	"errors"
	"fmt"
)

// AuthenticationError is a failed OAuth2 token exchange: a non-2xx
// response from the token endpoint or a 2xx response whose payload did
// not contain a usable token.
type AuthenticationError struct {
	// StatusCode is the token endpoint's HTTP status. Zero when the
	// failure was a malformed 2xx payload.
	StatusCode int

	// Body is the raw response body.
	Body string

	// Reason describes a malformed-payload failure.
	Reason string
}

func (err *AuthenticationError) Error() string {
	if err.Reason != "" {
		return fmt.Sprintf("jamf: authentication failed: %s", err.Reason)
	}
	return fmt.Sprintf("jamf: authentication failed (HTTP %d): %s", err.StatusCode, err.Body)
}

// APIError is a non-2xx response from any Jamf endpoint that does not
// have a more specific error type. Operation names the call that
// failed ("package search", "policy list", ...).
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (err *APIError) Error() string {
	return fmt.Sprintf("jamf: %s failed (HTTP %d): %s", err.Operation, err.StatusCode, err.Body)
}

// MetadataUpdateError is a failed in-place package metadata replace.
type MetadataUpdateError struct {
	PackageID  string
	StatusCode int
	Body       string
}

func (err *MetadataUpdateError) Error() string {
	return fmt.Sprintf("jamf: updating metadata for package %s failed (HTTP %d): %s",
		err.PackageID, err.StatusCode, err.Body)
}

// UploadError is a failed package payload upload. Exhausted
// distinguishes "retried the full budget and the server kept failing"
// from "aborted immediately on a non-retryable response".
type UploadError struct {
	PackageID  string
	StatusCode int
	Body       string

	// Attempts is how many upload attempts were made in total.
	Attempts int

	// Exhausted is true when every attempt in the retry budget failed
	// with a server error.
	Exhausted bool
}

func (err *UploadError) Error() string {
	if err.Exhausted {
		return fmt.Sprintf("jamf: uploading package %s failed after %d attempts (HTTP %d): %s",
			err.PackageID, err.Attempts, err.StatusCode, err.Body)
	}
	return fmt.Sprintf("jamf: uploading package %s failed (HTTP %d): %s",
		err.PackageID, err.StatusCode, err.Body)
}

// IsAuthenticationError reports whether err is a failed token exchange.
func IsAuthenticationError(err error) bool {
	var authenticationError *AuthenticationError
	return errors.As(err, &authenticationError)
}

// isServerError reports whether an HTTP status is a 5xx. Server errors
// are the only upload failures worth retrying — a 4xx will not heal by
// waiting.
func isServerError(statusCode int) bool {
	return statusCode >= 500 && statusCode < 600
}
