// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

package jamf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// ListPolicies returns the ID and name of every policy. The legacy
// JSSResource family serves the list as JSON; a single unbounded page
// is assumed sufficient.
func (client *Client) ListPolicies(ctx context.Context) ([]PolicySummary, error) {
	statusCode, body, err := client.send(ctx, http.MethodGet, "/JSSResource/policies", "application/json", nil)
	if err != nil {
		return nil, err
	}
	if !isSuccess(statusCode) {
		return nil, &APIError{Operation: "policy list", StatusCode: statusCode, Body: string(body)}
	}

	var list policyListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("jamf: parsing policy list response: %w", err)
	}
	return list.Policies, nil
}

// PolicyXML fetches the full XML detail document for one policy. The
// legacy resource only serves structural detail (including the
// package_configuration section) as XML.
func (client *Client) PolicyXML(ctx context.Context, id int64) (string, error) {
	path := "/JSSResource/policies/id/" + strconv.FormatInt(id, 10)
	statusCode, body, err := client.send(ctx, http.MethodGet, path, "application/xml", nil)
	if err != nil {
		return "", err
	}
	if !isSuccess(statusCode) {
		return "", &APIError{
			Operation:  fmt.Sprintf("policy %d detail", id),
			StatusCode: statusCode,
			Body:       string(body),
		}
	}
	return string(body), nil
}
