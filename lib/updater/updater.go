// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

// Package updater composes the full package replacement workflow: a
// strict pipeline with no backward transitions and exactly one early
// exit.
//
//	validate → locate-or-create → [existing: prior digest → early exit
//	if unchanged → policy scan → metadata update] → upload → inventory
//	refresh → digest convergence → report
//
// The early exit fires when the local file's MD5 already matches the
// remote digest: the workflow then ends successfully without
// uploading, scanning, or touching metadata. The new-package branch
// skips the prior-digest read, the equivalence check, and the policy
// scan entirely — nothing can reference a package that did not exist —
// and polls for digest availability instead of digest change.
package updater

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jamfup/jamfup/lib/clock"
	"github.com/jamfup/jamfup/lib/converge"
	"github.com/jamfup/jamfup/lib/digest"
	"github.com/jamfup/jamfup/lib/filehash"
	"github.com/jamfup/jamfup/lib/jamf"
	"github.com/jamfup/jamfup/lib/policyscan"
)

// Service is the slice of the Jamf client the workflow drives.
// Satisfied by *jamf.Client; tests substitute a fake to exercise each
// pipeline state in isolation.
type Service interface {
	FindPackageByName(ctx context.Context, name string) (jamf.Package, bool, error)
	CreatePackage(ctx context.Context, request jamf.UpdateRequest) (string, error)
	UpdatePackage(ctx context.Context, id string, request jamf.UpdateRequest) error
	UploadPackageFile(ctx context.Context, id, path string) error
	RefreshInventory(ctx context.Context) error
	DigestSnapshot(ctx context.Context, id string) (digest.Snapshot, bool, error)
	ListPolicies(ctx context.Context) ([]jamf.PolicySummary, error)
	PolicyXML(ctx context.Context, id int64) (string, error)
}

// ValidationError is a failed precondition: bad file extension,
// missing file, or an out-of-range priority. Never retried, and no
// remote call happens after one.
type ValidationError struct {
	Reason string
}

func (err *ValidationError) Error() string { return "updater: " + err.Reason }

// Request describes one replacement run.
type Request struct {
	// Path is the local .pkg or .dmg file.
	Path string

	// Name overrides the package name to match in Jamf. Empty means
	// the file stem.
	Name string

	// Priority, when non-nil, overrides the carried priority for
	// updates and the default (3) for new packages. Valid range 0–20.
	Priority *int
}

// Result is the final report of a successful run.
type Result struct {
	PackageID   string
	PackageName string
	FileName    string

	// Created is true when the package record did not exist before.
	Created bool

	// AlreadyCurrent is true when the early exit fired: the remote
	// payload already matched the local file and nothing was changed.
	AlreadyCurrent bool

	// AffectedPolicies lists the policies that will pick up the new
	// payload automatically. Empty for new packages.
	AffectedPolicies []policyscan.AffectedPolicy

	// FinalSnapshot is the converged digest. Zero when AlreadyCurrent.
	FinalSnapshot digest.Snapshot
}

// Updater runs the replacement workflow. Service is required;
// everything else has working defaults.
type Updater struct {
	// Service performs the remote calls.
	Service Service

	// Clock drives the convergence poll. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives structured events. Defaults to slog.Default().
	Logger *slog.Logger

	// Output receives human-readable progress lines. Defaults to
	// io.Discard.
	Output io.Writer

	// PollAttempts and PollInterval tune the convergence poll. Zero
	// selects the converge package defaults (12 attempts, 5s apart).
	PollAttempts int
	PollInterval time.Duration
}

// allowedExtensions is the fixed allow-list of installer formats Jamf
// accepts for package payloads.
var allowedExtensions = map[string]bool{".pkg": true, ".dmg": true}

// Run executes the pipeline for one request.
func (updater *Updater) Run(ctx context.Context, request Request) (*Result, error) {
	fileName, packageName, err := resolveNames(request)
	if err != nil {
		return nil, err
	}

	logger := updater.logger().With("package_name", packageName, "file_name", fileName)
	output := updater.output()

	fmt.Fprintf(output, "Package name: %s\n", packageName)
	fmt.Fprintf(output, "File: %s\n", request.Path)

	fmt.Fprintf(output, "Searching for package %q...\n", packageName)
	existing, found, err := updater.Service.FindPackageByName(ctx, packageName)
	if err != nil {
		return nil, err
	}

	if !found {
		logger.Info("package not found, creating")
		return updater.runCreate(ctx, request, packageName, fileName)
	}
	logger.Info("package found", "package_id", existing.ID, "current_file", existing.FileName)
	fmt.Fprintf(output, "Found package %q (ID: %s, file: %s)\n", packageName, existing.ID, existing.FileName)
	return updater.runUpdate(ctx, request, existing, fileName)
}

// runCreate is the new-package branch.
func (updater *Updater) runCreate(ctx context.Context, request Request, packageName, fileName string) (*Result, error) {
	output := updater.output()

	createRequest := jamf.NewUpdateRequest(packageName, fileName)
	if request.Priority != nil {
		createRequest.Priority = *request.Priority
	}

	fmt.Fprintf(output, "Package %q not found, creating it...\n", packageName)
	id, err := updater.Service.CreatePackage(ctx, createRequest)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(output, "Created package %q (ID: %s)\n", packageName, id)

	snapshot, err := updater.uploadAndConverge(ctx, id, request.Path, fileName, digest.Snapshot{}, false)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(output, "Package %q (ID: %s) created and uploaded.\n", packageName, id)
	return &Result{
		PackageID:     id,
		PackageName:   packageName,
		FileName:      fileName,
		Created:       true,
		FinalSnapshot: snapshot,
	}, nil
}

// runUpdate is the existing-package branch, including the early exit.
func (updater *Updater) runUpdate(ctx context.Context, request Request, existing jamf.Package, fileName string) (*Result, error) {
	output := updater.output()

	prior, havePrior, err := updater.Service.DigestSnapshot(ctx, existing.ID)
	if err != nil {
		return nil, err
	}

	localMD5, err := filehash.MD5File(request.Path)
	if err != nil {
		return nil, err
	}

	// The one short-circuit in the pipeline: if the server already
	// holds this exact payload, there is nothing to do.
	if havePrior && prior.MD5Hash != "" && strings.EqualFold(localMD5, prior.MD5Hash) {
		updater.logger().Info("remote payload already matches local file",
			"package_id", existing.ID, "md5", localMD5)
		fmt.Fprintf(output, "Package %q (ID: %s) is already up to date (md5 %s).\n",
			existing.PackageName, existing.ID, localMD5)
		return &Result{
			PackageID:      existing.ID,
			PackageName:    existing.PackageName,
			FileName:       existing.FileName,
			AlreadyCurrent: true,
		}, nil
	}

	fmt.Fprintf(output, "Scanning policies...\n")
	scanner := &policyscan.Scanner{
		Client: updater.Service,
		Progress: func(scanned, total int, name string) {
			fmt.Fprintf(output, "\r  Scanning policy %d/%d...", scanned, total)
		},
	}
	affected, err := scanner.Find(ctx, existing.PackageName, existing.FileName)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(output, "\nFound %d %s referencing this package.\n", len(affected), pluralPolicies(len(affected)))
	for _, policy := range affected {
		fmt.Fprintf(output, "  - %s (ID: %d)\n", policy.Name, policy.ID)
	}

	updateRequest := jamf.RequestFromPackage(existing, fileName)
	if request.Priority != nil {
		updateRequest.Priority = *request.Priority
	}

	fmt.Fprintf(output, "Updating package metadata...\n")
	if err := updater.Service.UpdatePackage(ctx, existing.ID, updateRequest); err != nil {
		return nil, err
	}
	fmt.Fprintf(output, "Metadata updated.\n")

	snapshot, err := updater.uploadAndConverge(ctx, existing.ID, request.Path, fileName, prior, havePrior)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(output, "Package %q (ID: %s) updated successfully.\n", existing.PackageName, existing.ID)
	if len(affected) > 0 {
		fmt.Fprintf(output, "%d %s will automatically use the new package.\n", len(affected), pluralPolicies(len(affected)))
	}
	return &Result{
		PackageID:        existing.ID,
		PackageName:      existing.PackageName,
		FileName:         fileName,
		AffectedPolicies: affected,
		FinalSnapshot:    snapshot,
	}, nil
}

// uploadAndConverge runs the tail shared by both branches: upload,
// inventory refresh, digest convergence. Change-detection mode needs a
// prior snapshot; without one (new package, or an existing record the
// server never hashed) availability mode is the only meaningful wait.
func (updater *Updater) uploadAndConverge(ctx context.Context, id, path, fileName string, prior digest.Snapshot, havePrior bool) (digest.Snapshot, error) {
	output := updater.output()

	fmt.Fprintf(output, "Uploading %s...\n", fileName)
	if err := updater.Service.UploadPackageFile(ctx, id, path); err != nil {
		return digest.Snapshot{}, err
	}
	fmt.Fprintf(output, "Upload complete.\n")

	fmt.Fprintf(output, "Refreshing package inventory (recalculating checksums)...\n")
	if err := updater.Service.RefreshInventory(ctx); err != nil {
		return digest.Snapshot{}, err
	}

	poller := &converge.Poller{
		Reader:   updater.Service,
		Clock:    updater.clock(),
		Logger:   updater.logger(),
		Attempts: updater.PollAttempts,
		Interval: updater.PollInterval,
	}

	fmt.Fprintf(output, "Waiting for the server to verify the new payload...\n")
	var snapshot digest.Snapshot
	var err error
	if havePrior {
		snapshot, err = poller.WaitForChange(ctx, id, prior, func() (string, error) {
			return filehash.MD5File(path)
		})
	} else {
		snapshot, err = poller.WaitForAvailability(ctx, id)
	}
	if err != nil {
		return digest.Snapshot{}, err
	}
	fmt.Fprintf(output, "Server digest: %s\n", snapshot)
	return snapshot, nil
}

// ValidateRequest checks the request preconditions — file extension,
// file existence, priority range — without touching the network. The
// CLI runs this before authenticating so a bad invocation never
// reaches the server; Run repeats the check as a backstop.
func ValidateRequest(request Request) error {
	_, _, err := resolveNames(request)
	return err
}

// resolveNames validates the request and derives the file name and
// package name. All failures here are *ValidationError: they are
// precondition failures and no remote call has happened yet.
func resolveNames(request Request) (fileName, packageName string, err error) {
	extension := strings.ToLower(filepath.Ext(request.Path))
	if !allowedExtensions[extension] {
		return "", "", &ValidationError{Reason: fmt.Sprintf("file must be a .pkg or .dmg (got %q)", extension)}
	}
	if _, err := os.Stat(request.Path); err != nil {
		return "", "", &ValidationError{Reason: fmt.Sprintf("file not found: %s", request.Path)}
	}
	if request.Priority != nil && (*request.Priority < 0 || *request.Priority > 20) {
		return "", "", &ValidationError{Reason: fmt.Sprintf("priority must be between 0 and 20 (got %d)", *request.Priority)}
	}

	fileName = filepath.Base(request.Path)
	packageName = request.Name
	if packageName == "" {
		packageName = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	}
	return fileName, packageName, nil
}

func (updater *Updater) clock() clock.Clock {
	if updater.Clock != nil {
		return updater.Clock
	}
	return clock.Real()
}

func (updater *Updater) logger() *slog.Logger {
	if updater.Logger != nil {
		return updater.Logger
	}
	return slog.Default()
}

func (updater *Updater) output() io.Writer {
	if updater.Output != nil {
		return updater.Output
	}
	return io.Discard
}

func pluralPolicies(count int) string {
	if count == 1 {
		return "policy"
	}
	return "policies"
}
