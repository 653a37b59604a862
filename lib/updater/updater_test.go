// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

package updater

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jamfup/jamfup/lib/digest"
	"github.com/jamfup/jamfup/lib/jamf"
)

// helloWorldMD5 is md5("hello world"), the content written by writePkg.
const helloWorldMD5 = "5eb63bbbe01eeed093cb22bb8f5acdc3"

func writePkg(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("writing package file: %v", err)
	}
	return path
}

// snapshotStep is one scripted answer for DigestSnapshot.
type snapshotStep struct {
	snapshot digest.Snapshot
	present  bool
}

// fakeService records every call and serves scripted answers.
type fakeService struct {
	existing  jamf.Package
	found     bool
	createdID string
	policies  []jamf.PolicySummary
	documents map[int64]string
	snapshots []snapshotStep

	findCalls      int
	createRequests []jamf.UpdateRequest
	updateRequests []jamf.UpdateRequest
	uploadPaths    []string
	refreshCalls   int
	snapshotCalls  int
	listCalls      int
}

func (service *fakeService) FindPackageByName(ctx context.Context, name string) (jamf.Package, bool, error) {
	service.findCalls++
	return service.existing, service.found, nil
}

func (service *fakeService) CreatePackage(ctx context.Context, request jamf.UpdateRequest) (string, error) {
	service.createRequests = append(service.createRequests, request)
	return service.createdID, nil
}

func (service *fakeService) UpdatePackage(ctx context.Context, id string, request jamf.UpdateRequest) error {
	service.updateRequests = append(service.updateRequests, request)
	return nil
}

func (service *fakeService) UploadPackageFile(ctx context.Context, id, path string) error {
	service.uploadPaths = append(service.uploadPaths, path)
	return nil
}

func (service *fakeService) RefreshInventory(ctx context.Context) error {
	service.refreshCalls++
	return nil
}

func (service *fakeService) DigestSnapshot(ctx context.Context, id string) (digest.Snapshot, bool, error) {
	index := service.snapshotCalls
	if index >= len(service.snapshots) {
		index = len(service.snapshots) - 1
	}
	service.snapshotCalls++
	step := service.snapshots[index]
	return step.snapshot, step.present, nil
}

func (service *fakeService) ListPolicies(ctx context.Context) ([]jamf.PolicySummary, error) {
	service.listCalls++
	return service.policies, nil
}

func (service *fakeService) PolicyXML(ctx context.Context, id int64) (string, error) {
	return service.documents[id], nil
}

// newUpdater wires a fake service with an effectively-instant poll so
// tests stay synchronous. Convergence timing itself is covered by the
// converge package tests.
func newUpdater(service *fakeService, output *bytes.Buffer) *Updater {
	return &Updater{
		Service:      service,
		Output:       output,
		PollInterval: time.Nanosecond,
	}
}

func TestRunCreatesNewPackage(t *testing.T) {
	path := writePkg(t, "Chrome-121.pkg")
	service := &fakeService{
		found:     false,
		createdID: "42",
		snapshots: []snapshotStep{
			{digest.Snapshot{}, false},
			{digest.Snapshot{MD5Hash: helloWorldMD5}, true},
		},
	}
	var output bytes.Buffer

	result, err := newUpdater(service, &output).Run(context.Background(), Request{Path: path})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !result.Created || result.PackageID != "42" {
		t.Errorf("result = %+v, want Created with ID 42", result)
	}
	if result.PackageName != "Chrome-121" {
		t.Errorf("PackageName = %q, want file stem", result.PackageName)
	}
	if len(service.createRequests) != 1 {
		t.Fatalf("CreatePackage called %d times, want 1", len(service.createRequests))
	}
	created := service.createRequests[0]
	if created.Priority != 3 || created.CategoryID != "-1" {
		t.Errorf("create request = %+v, want default priority 3 and category -1", created)
	}
	if len(service.uploadPaths) != 1 || service.uploadPaths[0] != path {
		t.Errorf("uploads = %v, want the local file", service.uploadPaths)
	}
	if service.refreshCalls != 1 {
		t.Errorf("RefreshInventory called %d times, want 1", service.refreshCalls)
	}
	if len(service.updateRequests) != 0 {
		t.Error("UpdatePackage called on the new-package path")
	}
	if service.listCalls != 0 {
		t.Error("policy scan ran on the new-package path")
	}
	if !strings.Contains(output.String(), "created and uploaded") {
		t.Errorf("output %q does not report creation", output.String())
	}
}

func TestRunAlreadyUpToDate(t *testing.T) {
	path := writePkg(t, "Chrome-121.pkg")
	service := &fakeService{
		existing: jamf.Package{ID: "7", PackageName: "Chrome-121", FileName: "Chrome-120.pkg"},
		found:    true,
		snapshots: []snapshotStep{
			// Remote MD5 equals the local file's hash (different case).
			{digest.Snapshot{MD5Hash: strings.ToUpper(helloWorldMD5)}, true},
		},
	}
	var output bytes.Buffer

	result, err := newUpdater(service, &output).Run(context.Background(), Request{Path: path})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !result.AlreadyCurrent {
		t.Errorf("result = %+v, want AlreadyCurrent", result)
	}
	if len(service.uploadPaths) != 0 || len(service.updateRequests) != 0 || service.listCalls != 0 {
		t.Error("early exit still performed upload, update, or policy scan")
	}
	if !strings.Contains(output.String(), "already up to date") {
		t.Errorf("output %q does not report the early exit", output.String())
	}
}

func TestRunUpdatesExistingPackage(t *testing.T) {
	path := writePkg(t, "Chrome-121.pkg")
	service := &fakeService{
		existing: jamf.Package{
			ID:               "7",
			PackageName:      "Chrome",
			FileName:         "Chrome-120.pkg",
			CategoryID:       "5",
			Priority:         9,
			RebootRequired:   true,
			SuppressFromDock: true,
		},
		found: true,
		policies: []jamf.PolicySummary{
			{ID: 1, Name: "Deploy Chrome"},
			{ID: 2, Name: "Unrelated"},
		},
		documents: map[int64]string{
			1: `<policy><package_configuration><package><name>Chrome-120.pkg</name></package></package_configuration></policy>`,
			2: `<policy><package_configuration><package><name>Firefox</name></package></package_configuration></policy>`,
		},
		snapshots: []snapshotStep{
			{digest.Snapshot{MD5Hash: "oldhash"}, true}, // prior read
			{digest.Snapshot{MD5Hash: "oldhash"}, true}, // poll 1: unchanged
			{digest.Snapshot{MD5Hash: "newhash"}, true}, // poll 2: converged
		},
	}
	var output bytes.Buffer

	result, err := newUpdater(service, &output).Run(context.Background(), Request{Path: path})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Created || result.AlreadyCurrent {
		t.Errorf("result = %+v, want a plain update", result)
	}
	if len(result.AffectedPolicies) != 1 || result.AffectedPolicies[0].ID != 1 {
		t.Errorf("AffectedPolicies = %+v, want policy 1 only", result.AffectedPolicies)
	}
	if result.FinalSnapshot.MD5Hash != "newhash" {
		t.Errorf("FinalSnapshot = %v, want the converged digest", result.FinalSnapshot)
	}

	if len(service.updateRequests) != 1 {
		t.Fatalf("UpdatePackage called %d times, want 1", len(service.updateRequests))
	}
	updated := service.updateRequests[0]
	if updated.FileName != "Chrome-121.pkg" {
		t.Errorf("FileName = %q, want the new file name", updated.FileName)
	}
	if updated.PackageName != "Chrome" || updated.CategoryID != "5" || updated.Priority != 9 ||
		!updated.RebootRequired || !updated.SuppressFromDock {
		t.Errorf("update request %+v lost carried metadata", updated)
	}
}

func TestRunPriorityOverride(t *testing.T) {
	path := writePkg(t, "Chrome-121.pkg")
	priority := 15
	service := &fakeService{
		existing: jamf.Package{ID: "7", PackageName: "Chrome", FileName: "Chrome-120.pkg", Priority: 9},
		found:    true,
		snapshots: []snapshotStep{
			{digest.Snapshot{MD5Hash: "oldhash"}, true},
			{digest.Snapshot{MD5Hash: "newhash"}, true},
		},
	}
	var output bytes.Buffer

	_, err := newUpdater(service, &output).Run(context.Background(), Request{Path: path, Priority: &priority})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if service.updateRequests[0].Priority != 15 {
		t.Errorf("Priority = %d, want the override 15", service.updateRequests[0].Priority)
	}
}

func TestRunExistingPackageWithoutPriorDigest(t *testing.T) {
	// The record exists but the server never hashed it: there is no
	// prior snapshot to diff against, so convergence waits for
	// availability — but the policy scan and metadata update still run.
	path := writePkg(t, "Chrome-121.pkg")
	service := &fakeService{
		existing: jamf.Package{ID: "7", PackageName: "Chrome", FileName: "Chrome-120.pkg"},
		found:    true,
		snapshots: []snapshotStep{
			{digest.Snapshot{}, false},                        // prior read: nothing
			{digest.Snapshot{MD5Hash: helloWorldMD5}, true},   // poll: available
		},
	}
	var output bytes.Buffer

	result, err := newUpdater(service, &output).Run(context.Background(), Request{Path: path})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if service.listCalls != 1 || len(service.updateRequests) != 1 {
		t.Error("existing-package steps skipped when prior digest was missing")
	}
	if result.FinalSnapshot.MD5Hash != helloWorldMD5 {
		t.Errorf("FinalSnapshot = %v, want the available digest", result.FinalSnapshot)
	}
}

func TestRunValidation(t *testing.T) {
	service := &fakeService{}
	updater := newUpdater(service, &bytes.Buffer{})
	badPriority := 21

	cases := []struct {
		name    string
		request Request
	}{
		{"bad extension", Request{Path: writePkg(t, "Chrome.zip")}},
		{"missing file", Request{Path: filepath.Join(t.TempDir(), "absent.pkg")}},
		{"priority out of range", Request{Path: writePkg(t, "Chrome.pkg"), Priority: &badPriority}},
	}
	for _, testCase := range cases {
		_, err := updater.Run(context.Background(), testCase.request)
		var validationError *ValidationError
		if !errors.As(err, &validationError) {
			t.Errorf("%s: error = %v, want *ValidationError", testCase.name, err)
		}
	}
	if service.findCalls != 0 {
		t.Error("validation failure still reached the remote service")
	}
}

func TestValidateRequest(t *testing.T) {
	badPriority := -1
	cases := []struct {
		name    string
		request Request
		valid   bool
	}{
		{"good package", Request{Path: writePkg(t, "Chrome.pkg")}, true},
		{"good disk image", Request{Path: writePkg(t, "Chrome.dmg")}, true},
		{"bad extension", Request{Path: writePkg(t, "Chrome.zip")}, false},
		{"missing file", Request{Path: filepath.Join(t.TempDir(), "absent.pkg")}, false},
		{"priority out of range", Request{Path: writePkg(t, "Other.pkg"), Priority: &badPriority}, false},
	}
	for _, testCase := range cases {
		err := ValidateRequest(testCase.request)
		if testCase.valid {
			if err != nil {
				t.Errorf("%s: ValidateRequest = %v, want nil", testCase.name, err)
			}
			continue
		}
		var validationError *ValidationError
		if !errors.As(err, &validationError) {
			t.Errorf("%s: error = %v, want *ValidationError", testCase.name, err)
		}
	}
}

func TestRunNameOverride(t *testing.T) {
	path := writePkg(t, "GoogleChrome-121.0.pkg")
	service := &fakeService{
		found:     false,
		createdID: "9",
		snapshots: []snapshotStep{{digest.Snapshot{MD5Hash: helloWorldMD5}, true}},
	}
	var output bytes.Buffer

	result, err := newUpdater(service, &output).Run(context.Background(), Request{Path: path, Name: "Chrome"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.PackageName != "Chrome" {
		t.Errorf("PackageName = %q, want the override", result.PackageName)
	}
	if service.createRequests[0].PackageName != "Chrome" {
		t.Errorf("create used name %q, want the override", service.createRequests[0].PackageName)
	}
	if service.createRequests[0].FileName != "GoogleChrome-121.0.pkg" {
		t.Errorf("create used file name %q, want the real file name", service.createRequests[0].FileName)
	}
}
