// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

package converge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jamfup/jamfup/lib/clock"
	"github.com/jamfup/jamfup/lib/digest"
)

// scriptedReader serves a fixed sequence of snapshot observations,
// repeating the last one if polled past the end.
type scriptedReader struct {
	snapshots []digest.Snapshot
	present   []bool
	calls     int
}

func (reader *scriptedReader) DigestSnapshot(ctx context.Context, id string) (digest.Snapshot, bool, error) {
	index := reader.calls
	if index >= len(reader.snapshots) {
		index = len(reader.snapshots) - 1
	}
	reader.calls++
	return reader.snapshots[index], reader.present[index], nil
}

// drive advances the fake clock through poll intervals until result
// delivers, then returns it. The short real-time wait lets the polling
// goroutine make progress between advances without racing it.
func drive[T any](t *testing.T, fake *clock.FakeClock, interval time.Duration, result <-chan T) T {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case value := <-result:
			return value
		case <-deadline:
			t.Fatal("poll under test never finished")
		case <-time.After(time.Millisecond):
		}
		if fake.PendingCount() > 0 {
			fake.Advance(interval)
		}
	}
}

type pollResult struct {
	snapshot digest.Snapshot
	err      error
}

func TestWaitForChangeConvergesOnThirdAttempt(t *testing.T) {
	prior := digest.Snapshot{MD5Hash: "a"}
	reader := &scriptedReader{
		snapshots: []digest.Snapshot{{MD5Hash: "a"}, {MD5Hash: "a"}, {MD5Hash: "b"}},
		present:   []bool{true, true, true},
	}
	fake := clock.Fake(time.Unix(0, 0))
	poller := &Poller{Reader: reader, Clock: fake, Interval: 5 * time.Second}

	results := make(chan pollResult, 1)
	go func() {
		snapshot, err := poller.WaitForChange(context.Background(), "17", prior, func() (string, error) {
			t.Error("localHash called even though the digest changed")
			return "", nil
		})
		results <- pollResult{snapshot, err}
	}()

	result := drive(t, fake, 5*time.Second, results)
	if result.err != nil {
		t.Fatalf("WaitForChange: %v", result.err)
	}
	if result.snapshot.MD5Hash != "b" {
		t.Errorf("converged snapshot = %v, want md5 b", result.snapshot)
	}
	if reader.calls != 3 {
		t.Errorf("reader polled %d times, want 3", reader.calls)
	}
}

func TestWaitForChangeSkipsUnavailableSnapshots(t *testing.T) {
	prior := digest.Snapshot{MD5Hash: "a"}
	reader := &scriptedReader{
		snapshots: []digest.Snapshot{{}, {MD5Hash: "b"}},
		present:   []bool{false, true},
	}
	fake := clock.Fake(time.Unix(0, 0))
	poller := &Poller{Reader: reader, Clock: fake, Interval: 5 * time.Second}

	results := make(chan pollResult, 1)
	go func() {
		snapshot, err := poller.WaitForChange(context.Background(), "17", prior, nil)
		results <- pollResult{snapshot, err}
	}()

	result := drive(t, fake, 5*time.Second, results)
	if result.err != nil {
		t.Fatalf("WaitForChange: %v", result.err)
	}
	if result.snapshot.MD5Hash != "b" {
		t.Errorf("converged snapshot = %v, want md5 b", result.snapshot)
	}
}

func TestWaitForChangeEquivalenceFallbackSucceeds(t *testing.T) {
	prior := digest.Snapshot{MD5Hash: "AbC123"}
	reader := &scriptedReader{
		snapshots: []digest.Snapshot{{MD5Hash: "AbC123"}},
		present:   []bool{true},
	}
	fake := clock.Fake(time.Unix(0, 0))
	poller := &Poller{Reader: reader, Clock: fake, Attempts: 3, Interval: 5 * time.Second}

	results := make(chan pollResult, 1)
	go func() {
		snapshot, err := poller.WaitForChange(context.Background(), "17", prior, func() (string, error) {
			return "abc123", nil // case differs, must still match
		})
		results <- pollResult{snapshot, err}
	}()

	result := drive(t, fake, 5*time.Second, results)
	if result.err != nil {
		t.Fatalf("WaitForChange: %v", result.err)
	}
	if result.snapshot.MD5Hash != "AbC123" {
		t.Errorf("snapshot = %v, want the latest remote snapshot", result.snapshot)
	}
	if reader.calls != 3 {
		t.Errorf("reader polled %d times, want the full budget of 3", reader.calls)
	}
}

func TestWaitForChangeContentMismatch(t *testing.T) {
	prior := digest.Snapshot{MD5Hash: "aaa"}
	reader := &scriptedReader{
		snapshots: []digest.Snapshot{{MD5Hash: "aaa"}},
		present:   []bool{true},
	}
	fake := clock.Fake(time.Unix(0, 0))
	poller := &Poller{Reader: reader, Clock: fake, Attempts: 2, Interval: 5 * time.Second}

	results := make(chan pollResult, 1)
	go func() {
		_, err := poller.WaitForChange(context.Background(), "17", prior, func() (string, error) {
			return "bbb", nil
		})
		results <- pollResult{err: err}
	}()

	result := drive(t, fake, 5*time.Second, results)
	var mismatch *ContentMismatchError
	if !errors.As(result.err, &mismatch) {
		t.Fatalf("error is %T (%v), want *ContentMismatchError", result.err, result.err)
	}
	if mismatch.LocalHash != "bbb" || mismatch.RemoteHash != "aaa" {
		t.Errorf("mismatch hashes local=%q remote=%q, want bbb/aaa", mismatch.LocalHash, mismatch.RemoteHash)
	}
	for _, needle := range []string{"bbb", "aaa", "17"} {
		if !strings.Contains(result.err.Error(), needle) {
			t.Errorf("error %q does not mention %q", result.err.Error(), needle)
		}
	}
}

func TestWaitForChangeTimeoutWithoutAnySnapshot(t *testing.T) {
	reader := &scriptedReader{
		snapshots: []digest.Snapshot{{}},
		present:   []bool{false},
	}
	fake := clock.Fake(time.Unix(0, 0))
	poller := &Poller{Reader: reader, Clock: fake, Attempts: 2, Interval: 5 * time.Second}

	results := make(chan pollResult, 1)
	go func() {
		_, err := poller.WaitForChange(context.Background(), "17", digest.Snapshot{}, nil)
		results <- pollResult{err: err}
	}()

	result := drive(t, fake, 5*time.Second, results)
	var timeout *TimeoutError
	if !errors.As(result.err, &timeout) {
		t.Fatalf("error is %T (%v), want *TimeoutError", result.err, result.err)
	}
	if timeout.SawSnapshot {
		t.Error("SawSnapshot = true, want false")
	}
	if timeout.Elapsed != 10*time.Second {
		t.Errorf("Elapsed = %v, want 10s for 2 attempts at 5s", timeout.Elapsed)
	}
}

func TestWaitForAvailabilitySucceedsOnVerifiableSnapshot(t *testing.T) {
	reader := &scriptedReader{
		snapshots: []digest.Snapshot{{}, {HashType: "SHA3_512"}, {MD5Hash: "fresh"}},
		present:   []bool{false, true, true},
	}
	fake := clock.Fake(time.Unix(0, 0))
	poller := &Poller{Reader: reader, Clock: fake, Interval: 5 * time.Second}

	results := make(chan pollResult, 1)
	go func() {
		snapshot, err := poller.WaitForAvailability(context.Background(), "42")
		results <- pollResult{snapshot, err}
	}()

	result := drive(t, fake, 5*time.Second, results)
	if result.err != nil {
		t.Fatalf("WaitForAvailability: %v", result.err)
	}
	if result.snapshot.MD5Hash != "fresh" {
		t.Errorf("snapshot = %v, want the verifiable one", result.snapshot)
	}
	if reader.calls != 3 {
		t.Errorf("reader polled %d times, want 3", reader.calls)
	}
}

func TestWaitForAvailabilityTimeoutNamesPartialSnapshot(t *testing.T) {
	partial := digest.Snapshot{HashType: "SHA3_512"}
	reader := &scriptedReader{
		snapshots: []digest.Snapshot{partial},
		present:   []bool{true},
	}
	fake := clock.Fake(time.Unix(0, 0))
	poller := &Poller{Reader: reader, Clock: fake, Attempts: 2, Interval: 5 * time.Second}

	results := make(chan pollResult, 1)
	go func() {
		_, err := poller.WaitForAvailability(context.Background(), "42")
		results <- pollResult{err: err}
	}()

	result := drive(t, fake, 5*time.Second, results)
	var timeout *TimeoutError
	if !errors.As(result.err, &timeout) {
		t.Fatalf("error is %T (%v), want *TimeoutError", result.err, result.err)
	}
	if !timeout.SawSnapshot {
		t.Error("SawSnapshot = false, want true for a partial snapshot")
	}
	if timeout.Latest.HashType != "SHA3_512" {
		t.Errorf("Latest = %v, want the partial snapshot", timeout.Latest)
	}
}

func TestWaitCancellation(t *testing.T) {
	reader := &scriptedReader{
		snapshots: []digest.Snapshot{{}},
		present:   []bool{false},
	}
	fake := clock.Fake(time.Unix(0, 0))
	poller := &Poller{Reader: reader, Clock: fake, Interval: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan pollResult, 1)
	go func() {
		_, err := poller.WaitForAvailability(ctx, "42")
		results <- pollResult{err: err}
	}()

	fake.WaitForTimers(1)
	cancel()

	select {
	case result := <-results:
		if !errors.Is(result.err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", result.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poll did not stop on cancellation")
	}
}
