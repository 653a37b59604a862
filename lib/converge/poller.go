// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

// Package converge waits for Jamf's asynchronous checksum
// recomputation to produce observable evidence that an upload was
// applied.
//
// The recomputation's completion is not separately observable, so
// polling its side effects — the package's reported digest fields — is
// the only signal available. Two entry modes exist: change detection
// for packages that had a prior digest, and availability for brand-new
// packages where any verifiable digest is evidence. Both are bounded:
// at the defaults, 12 attempts 5 seconds apart, 60 seconds total
// before declaring non-convergence.
package converge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jamfup/jamfup/lib/clock"
	"github.com/jamfup/jamfup/lib/digest"
)

// Poll defaults: 12 attempts, 5 seconds apart.
const (
	defaultAttempts = 12
	defaultInterval = 5 * time.Second
)

// SnapshotReader fetches the current digest snapshot for a package.
// Satisfied by *jamf.Client. The bool is false when the server reports
// no digest fields at all.
type SnapshotReader interface {
	DigestSnapshot(ctx context.Context, id string) (digest.Snapshot, bool, error)
}

// TimeoutError is non-convergence: the poll budget elapsed without the
// digest changing (change mode) or appearing (availability mode).
type TimeoutError struct {
	// PackageID is the package that never converged.
	PackageID string

	// Prior is the reference snapshot in change mode; zero in
	// availability mode.
	Prior digest.Snapshot

	// Latest is the last snapshot observed, possibly empty.
	Latest digest.Snapshot

	// SawSnapshot is true when at least one non-empty snapshot was
	// observed during the poll.
	SawSnapshot bool

	// Elapsed is how long the poll ran.
	Elapsed time.Duration
}

func (err *TimeoutError) Error() string {
	if !err.SawSnapshot {
		return fmt.Sprintf("converge: package %s reported no digest within %s", err.PackageID, err.Elapsed)
	}
	return fmt.Sprintf("converge: package %s digest did not converge within %s (previous: %s; latest: %s)",
		err.PackageID, err.Elapsed, err.Prior, err.Latest)
}

// ContentMismatchError is the post-timeout equivalence check failing:
// the digest never changed AND the local file's hash does not match
// the remote one, so the upload demonstrably did not take effect.
type ContentMismatchError struct {
	PackageID  string
	Prior      digest.Snapshot
	Latest     digest.Snapshot
	LocalHash  string
	RemoteHash string
	Elapsed    time.Duration
}

func (err *ContentMismatchError) Error() string {
	return fmt.Sprintf(
		"converge: package %s content mismatch after %s: digest unchanged (previous: %s; latest: %s) and local hash %s does not match remote hash %s",
		err.PackageID, err.Elapsed, err.Prior, err.Latest, err.LocalHash, err.RemoteHash)
}

// Poller polls a package's digest until it converges. The zero value
// is not usable; populate Reader and leave the tuning fields zero for
// the defaults.
type Poller struct {
	// Reader fetches snapshots.
	Reader SnapshotReader

	// Clock drives the inter-attempt waits. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives per-attempt debug events. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Attempts and Interval override the poll budget. Zero selects the
	// defaults (12 attempts, 5s apart).
	Attempts int
	Interval time.Duration
}

func (poller *Poller) attempts() int {
	if poller.Attempts > 0 {
		return poller.Attempts
	}
	return defaultAttempts
}

func (poller *Poller) interval() time.Duration {
	if poller.Interval > 0 {
		return poller.Interval
	}
	return defaultInterval
}

func (poller *Poller) clock() clock.Clock {
	if poller.Clock != nil {
		return poller.Clock
	}
	return clock.Real()
}

func (poller *Poller) logger() *slog.Logger {
	if poller.Logger != nil {
		return poller.Logger
	}
	return slog.Default()
}

// WaitForChange polls until the package's digest differs from prior
// under the strict policy: only fields present on both sides count.
// Unavailable snapshots are logged and skipped.
//
// If the budget is exhausted without a detected change, the
// content-equivalence fallback runs: localHash recomputes the local
// file's MD5, and a case-insensitive match against the latest remote
// MD5 is success — a rebuilt-but-byte-identical payload legitimately
// keeps its digest. A mismatch is *ContentMismatchError; never having
// seen a remote MD5 at all is *TimeoutError.
func (poller *Poller) WaitForChange(ctx context.Context, id string, prior digest.Snapshot, localHash func() (string, error)) (digest.Snapshot, error) {
	latest := prior
	sawSnapshot := false
	start := poller.clock().Now()

	for attempt := 1; attempt <= poller.attempts(); attempt++ {
		if err := poller.wait(ctx); err != nil {
			return digest.Snapshot{}, err
		}

		snapshot, ok, err := poller.Reader.DigestSnapshot(ctx, id)
		if err != nil {
			return digest.Snapshot{}, fmt.Errorf("converge: reading digest for package %s: %w", id, err)
		}
		if !ok {
			poller.logger().Debug("digest not yet available",
				"package_id", id, "attempt", attempt, "max_attempts", poller.attempts())
			continue
		}

		sawSnapshot = true
		latest = snapshot
		if snapshot.DiffersFrom(prior) {
			poller.logger().Info("digest change detected",
				"package_id", id, "attempt", attempt, "digest", snapshot.String())
			return snapshot, nil
		}
		poller.logger().Debug("digest unchanged",
			"package_id", id, "attempt", attempt, "digest", snapshot.String())
	}

	elapsed := poller.clock().Now().Sub(start)

	// Equivalence fallback: an unchanged digest is still success if
	// the local payload hashes to the same MD5 the server reports.
	if latest.MD5Hash != "" {
		local, err := localHash()
		if err != nil {
			return digest.Snapshot{}, fmt.Errorf("converge: hashing local file for equivalence check: %w", err)
		}
		if strings.EqualFold(local, latest.MD5Hash) {
			poller.logger().Info("digest unchanged but content matches local file",
				"package_id", id, "md5", local)
			return latest, nil
		}
		return digest.Snapshot{}, &ContentMismatchError{
			PackageID:  id,
			Prior:      prior,
			Latest:     latest,
			LocalHash:  local,
			RemoteHash: latest.MD5Hash,
			Elapsed:    elapsed,
		}
	}

	return digest.Snapshot{}, &TimeoutError{
		PackageID:   id,
		Prior:       prior,
		Latest:      latest,
		SawSnapshot: sawSnapshot,
		Elapsed:     elapsed,
	}
}

// WaitForAvailability polls until the package reports a verifiable
// digest. For a brand-new package there is no prior snapshot to diff
// against — the first appearance of comparable content is the
// evidence. Exhaustion is *TimeoutError naming the latest partial
// snapshot if any was seen.
func (poller *Poller) WaitForAvailability(ctx context.Context, id string) (digest.Snapshot, error) {
	var latest digest.Snapshot
	sawSnapshot := false
	start := poller.clock().Now()

	for attempt := 1; attempt <= poller.attempts(); attempt++ {
		if err := poller.wait(ctx); err != nil {
			return digest.Snapshot{}, err
		}

		snapshot, ok, err := poller.Reader.DigestSnapshot(ctx, id)
		if err != nil {
			return digest.Snapshot{}, fmt.Errorf("converge: reading digest for package %s: %w", id, err)
		}
		if !ok {
			poller.logger().Debug("digest not yet available",
				"package_id", id, "attempt", attempt, "max_attempts", poller.attempts())
			continue
		}

		sawSnapshot = true
		latest = snapshot
		if snapshot.HasVerifiableContent() {
			poller.logger().Info("digest available",
				"package_id", id, "attempt", attempt, "digest", snapshot.String())
			return snapshot, nil
		}
		poller.logger().Debug("digest present but not yet verifiable",
			"package_id", id, "attempt", attempt, "digest", snapshot.String())
	}

	return digest.Snapshot{}, &TimeoutError{
		PackageID:   id,
		Latest:      latest,
		SawSnapshot: sawSnapshot,
		Elapsed:     poller.clock().Now().Sub(start),
	}
}

// wait blocks for one poll interval, cancellable via ctx.
func (poller *Poller) wait(ctx context.Context) error {
	select {
	case <-poller.clock().After(poller.interval()):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
