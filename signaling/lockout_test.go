// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"testing"
	"time"

	"github.com/screenlink-project/screenlink/lib/clock"
)

func TestLockoutAfterMaxAttempts(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	lockout := NewLockout(5, 10*time.Minute, fake)

	for attempt := 1; attempt <= 4; attempt++ {
		if lockout.RecordFailure("10.0.0.1") {
			t.Fatalf("locked out after %d attempts", attempt)
		}
		if lockout.IsLocked("10.0.0.1") {
			t.Fatalf("IsLocked true after %d attempts", attempt)
		}
	}

	if !lockout.RecordFailure("10.0.0.1") {
		t.Error("fifth failure did not lock")
	}
	if !lockout.IsLocked("10.0.0.1") {
		t.Error("IsLocked false after fifth failure")
	}
}

func TestLockoutIsPerIP(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	lockout := NewLockout(5, 10*time.Minute, fake)

	for range 5 {
		lockout.RecordFailure("10.0.0.1")
	}
	if lockout.IsLocked("10.0.0.2") {
		t.Error("unrelated IP locked out")
	}
}

func TestLockoutExpiresAfterWindow(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	lockout := NewLockout(5, 10*time.Minute, fake)

	for range 5 {
		lockout.RecordFailure("10.0.0.1")
	}
	if !lockout.IsLocked("10.0.0.1") {
		t.Fatal("not locked after five failures")
	}

	fake.Advance(10*time.Minute + time.Second)
	if lockout.IsLocked("10.0.0.1") {
		t.Error("still locked after the window elapsed")
	}
}

func TestStaleFailuresResetCount(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	lockout := NewLockout(5, 10*time.Minute, fake)

	for range 4 {
		lockout.RecordFailure("10.0.0.1")
	}
	fake.Advance(11 * time.Minute)

	// The old attempts fell out of the window; this is failure #1,
	// not #5.
	if lockout.RecordFailure("10.0.0.1") {
		t.Error("stale failures counted toward lockout")
	}
}

func TestAdminBlockHoldsPastWindow(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	lockout := NewLockout(5, 10*time.Minute, fake)

	lockout.Block("10.0.0.9")
	if !lockout.IsLocked("10.0.0.9") {
		t.Fatal("blocked IP not locked")
	}

	fake.Advance(24 * time.Hour)
	if !lockout.IsLocked("10.0.0.9") {
		t.Error("admin block expired with the window")
	}

	lockout.Unblock("10.0.0.9")
	if lockout.IsLocked("10.0.0.9") {
		t.Error("unblocked IP still locked")
	}
}

func TestUnblockClearsFailureLock(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	lockout := NewLockout(5, 10*time.Minute, fake)

	for range 5 {
		lockout.RecordFailure("10.0.0.1")
	}
	lockout.Unblock("10.0.0.1")
	if lockout.IsLocked("10.0.0.1") {
		t.Error("unblock did not clear the failure lock")
	}
}
