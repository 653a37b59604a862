// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

package jamf

// Package is a package record as Jamf Pro stores it. The ID is
// service-assigned and never changes across an update; everything else
// is replaceable metadata.
type Package struct {
	ID                   string `json:"id"`
	PackageName          string `json:"packageName"`
	FileName             string `json:"fileName"`
	CategoryID           string `json:"categoryId"`
	Priority             int    `json:"priority"`
	FillUserTemplate     bool   `json:"fillUserTemplate"`
	FillExistingUsers    bool   `json:"fillExistingUsers"`
	RebootRequired       bool   `json:"rebootRequired"`
	OSInstall            bool   `json:"osInstall"`
	SuppressUpdates      bool   `json:"suppressUpdates"`
	SuppressFromDock     bool   `json:"suppressFromDock"`
	SuppressEula         bool   `json:"suppressEula"`
	SuppressRegistration bool   `json:"suppressRegistration"`
}

// UpdateRequest is the write-intent projection of a Package: every
// field except the ID. The same shape serves both creation and
// in-place update.
type UpdateRequest struct {
	PackageName          string `json:"packageName"`
	FileName             string `json:"fileName"`
	CategoryID           string `json:"categoryId"`
	Priority             int    `json:"priority"`
	FillUserTemplate     bool   `json:"fillUserTemplate"`
	FillExistingUsers    bool   `json:"fillExistingUsers"`
	RebootRequired       bool   `json:"rebootRequired"`
	OSInstall            bool   `json:"osInstall"`
	SuppressUpdates      bool   `json:"suppressUpdates"`
	SuppressFromDock     bool   `json:"suppressFromDock"`
	SuppressEula         bool   `json:"suppressEula"`
	SuppressRegistration bool   `json:"suppressRegistration"`
}

// NewUpdateRequest returns the request for a brand-new package:
// uncategorized, default priority 3, all behavior flags off.
func NewUpdateRequest(packageName, fileName string) UpdateRequest {
	return UpdateRequest{
		PackageName: packageName,
		FileName:    fileName,
		CategoryID:  "-1",
		Priority:    3,
	}
}

// RequestFromPackage derives an update request from an existing
// record, replacing only the file name. Every other field passes
// through unchanged so an update never silently loses metadata.
func RequestFromPackage(old Package, newFileName string) UpdateRequest {
	return UpdateRequest{
		PackageName:          old.PackageName,
		FileName:             newFileName,
		CategoryID:           old.CategoryID,
		Priority:             old.Priority,
		FillUserTemplate:     old.FillUserTemplate,
		FillExistingUsers:    old.FillExistingUsers,
		RebootRequired:       old.RebootRequired,
		OSInstall:            old.OSInstall,
		SuppressUpdates:      old.SuppressUpdates,
		SuppressFromDock:     old.SuppressFromDock,
		SuppressEula:         old.SuppressEula,
		SuppressRegistration: old.SuppressRegistration,
	}
}

// PolicySummary is an entry from the policy list resource.
type PolicySummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// searchResponse is the package search envelope.
type searchResponse struct {
	TotalCount int64     `json:"totalCount"`
	Results    []Package `json:"results"`
}

// createResponse is the package creation envelope.
type createResponse struct {
	ID string `json:"id"`
}

// policyListResponse is the legacy policy list envelope.
type policyListResponse struct {
	Policies []PolicySummary `json:"policies"`
}

// tokenResponse is the OAuth2 token exchange envelope.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
}
