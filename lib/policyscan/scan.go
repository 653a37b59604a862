// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

// Package policyscan determines which deployment policies reference a
// package that is about to be replaced.
//
// Jamf policies embed their package assignments in a
// <package_configuration> XML section. The scan fetches every policy's
// detail document and tests, within that section only, for the
// package's display name or file name wrapped in <name> delimiters.
// Policies reference packages by ID once assigned, so matching
// policies pick up the new payload automatically — the scan exists to
// tell the administrator how wide the blast radius is.
//
// The scan is fail-fast: any single detail fetch failure aborts the
// whole run rather than producing a silently incomplete list, because
// an undercounted blast radius is worse than no answer.
package policyscan

import (
	"context"
	"fmt"
	"strings"

	"github.com/jamfup/jamfup/lib/jamf"
)

// Client is the slice of the Jamf API the scanner needs. Satisfied by
// *jamf.Client.
type Client interface {
	ListPolicies(ctx context.Context) ([]jamf.PolicySummary, error)
	PolicyXML(ctx context.Context, id int64) (string, error)
}

// AffectedPolicy identifies a policy whose package assignments
// reference the package under replacement.
type AffectedPolicy struct {
	ID   int64
	Name string
}

// ScanError is a failed policy detail fetch. It names the policy so
// the administrator knows where the scan stopped.
type ScanError struct {
	PolicyID   int64
	PolicyName string
	Err        error
}

func (err *ScanError) Error() string {
	return fmt.Sprintf("policyscan: scanning policy %q (ID %d): %v", err.PolicyName, err.PolicyID, err.Err)
}

func (err *ScanError) Unwrap() error { return err.Err }

// Scanner finds the policies affected by a package replacement.
type Scanner struct {
	// Client fetches policy lists and details.
	Client Client

	// Progress, when set, is called once per policy scanned with the
	// 1-based position, the total, and the policy name. UI only — the
	// scan's behavior does not depend on it.
	Progress func(scanned, total int, name string)
}

// Find returns every policy whose package_configuration section
// references packageName or fileName. Policies without the section are
// excluded. Any detail fetch failure aborts the scan with *ScanError.
func (scanner *Scanner) Find(ctx context.Context, packageName, fileName string) ([]AffectedPolicy, error) {
	policies, err := scanner.Client.ListPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("policyscan: listing policies: %w", err)
	}

	var affected []AffectedPolicy
	for index, policy := range policies {
		if scanner.Progress != nil {
			scanner.Progress(index+1, len(policies), policy.Name)
		}

		document, err := scanner.Client.PolicyXML(ctx, policy.ID)
		if err != nil {
			return nil, &ScanError{PolicyID: policy.ID, PolicyName: policy.Name, Err: err}
		}

		section, ok := extractSection(document, "package_configuration")
		if !ok {
			continue
		}
		if referencesPackage(section, packageName) || referencesPackage(section, fileName) {
			affected = append(affected, AffectedPolicy{ID: policy.ID, Name: policy.Name})
		}
	}
	return affected, nil
}

// extractSection returns the slice of document from the first <tag> to
// the end of the first </tag>. Structural boundary search, not XML
// parsing: the legacy documents are flat enough that the first
// occurrence is the section.
func extractSection(document, tag string) (string, bool) {
	openMarker := "<" + tag + ">"
	closeMarker := "</" + tag + ">"

	start := strings.Index(document, openMarker)
	if start < 0 {
		return "", false
	}
	end := strings.Index(document, closeMarker)
	if end < start {
		return "", false
	}
	return document[start : end+len(closeMarker)], true
}

// referencesPackage tests for the identifier wrapped in the section's
// name-field delimiters. Exact substring match: the legacy resource
// does not escape names, so the raw identifier appears verbatim.
func referencesPackage(section, identifier string) bool {
	return identifier != "" && strings.Contains(section, "<name>"+identifier+"</name>")
}
