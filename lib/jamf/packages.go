// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

package jamf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jamfup/jamfup/lib/digest"
)

// filterEscaper percent-escapes the characters that would corrupt an
// RSQL filter value embedded in a query string. '%' must escape first;
// strings.NewReplacer never rescans replacement text, so the single
// pass is safe.
var filterEscaper = strings.NewReplacer(
	"%", "%25",
	" ", "%20",
	`"`, "%22",
	"#", "%23",
	"&", "%26",
	"+", "%2B",
)

// FindPackageByName searches the first page (size 100) for an exact
// package name match. Absence is reported via the bool, not an error.
func (client *Client) FindPackageByName(ctx context.Context, name string) (Package, bool, error) {
	path := fmt.Sprintf("/api/v1/packages?page=0&page-size=100&filter=packageName%%3D%%3D%%22%s%%22",
		filterEscaper.Replace(name))

	statusCode, body, err := client.send(ctx, http.MethodGet, path, "application/json", nil)
	if err != nil {
		return Package{}, false, err
	}
	if !isSuccess(statusCode) {
		return Package{}, false, &APIError{Operation: "package search", StatusCode: statusCode, Body: string(body)}
	}

	var search searchResponse
	if err := json.Unmarshal(body, &search); err != nil {
		return Package{}, false, fmt.Errorf("jamf: parsing package search response: %w", err)
	}
	if len(search.Results) == 0 {
		return Package{}, false, nil
	}
	return search.Results[0], true, nil
}

// CreatePackage creates a new package record and returns the assigned
// ID.
func (client *Client) CreatePackage(ctx context.Context, request UpdateRequest) (string, error) {
	statusCode, body, err := client.send(ctx, http.MethodPost, "/api/v1/packages", "application/json", request)
	if err != nil {
		return "", err
	}
	if !isSuccess(statusCode) {
		return "", &APIError{Operation: "package create", StatusCode: statusCode, Body: string(body)}
	}

	var created createResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("jamf: parsing package create response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("jamf: package create response contains no id")
	}
	return created.ID, nil
}

// UpdatePackage replaces the package's metadata in place. The record's
// ID is preserved — that is the entire point of updating instead of
// deleting and recreating, since policies reference the ID.
func (client *Client) UpdatePackage(ctx context.Context, id string, request UpdateRequest) error {
	statusCode, body, err := client.send(ctx, http.MethodPut, "/api/v1/packages/"+id, "application/json", request)
	if err != nil {
		return err
	}
	if !isSuccess(statusCode) {
		return &MetadataUpdateError{PackageID: id, StatusCode: statusCode, Body: string(body)}
	}
	return nil
}

// RefreshInventory asks Jamf to recompute stored package checksums.
// Success means the request was accepted; the recomputation itself is
// asynchronous and only observable through digest polling.
func (client *Client) RefreshInventory(ctx context.Context) error {
	statusCode, body, err := client.send(ctx, http.MethodPost, "/api/v1/jcds/refresh-inventory", "application/json", nil)
	if err != nil {
		return err
	}
	if !isSuccess(statusCode) {
		return &APIError{Operation: "inventory refresh", StatusCode: statusCode, Body: string(body)}
	}
	return nil
}

// DigestSnapshot reads the package detail and extracts whatever digest
// fields the server currently reports. The bool is false when no
// recognized field appears anywhere in the payload — a valid state for
// a freshly uploaded package whose checksums are still being computed.
func (client *Client) DigestSnapshot(ctx context.Context, id string) (digest.Snapshot, bool, error) {
	statusCode, body, err := client.send(ctx, http.MethodGet, "/api/v1/packages/"+id, "application/json", nil)
	if err != nil {
		return digest.Snapshot{}, false, err
	}
	if !isSuccess(statusCode) {
		return digest.Snapshot{}, false, &APIError{Operation: "package detail", StatusCode: statusCode, Body: string(body)}
	}

	snapshot, err := digest.Extract(body)
	if err != nil {
		return digest.Snapshot{}, false, fmt.Errorf("jamf: %w", err)
	}
	if snapshot.IsEmpty() {
		return digest.Snapshot{}, false, nil
	}
	return snapshot, true, nil
}
