// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability.
//
// Every production code path that waits — the upload retry backoff and
// the digest convergence poll — takes a [Clock] instead of calling the
// time package directly. Production injects [Real]; tests inject a
// [FakeClock] and drive it with [FakeClock.Advance], so no unit test
// ever sleeps for real.
package clock
