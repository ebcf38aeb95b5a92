// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"sync"
	"time"

	"github.com/screenlink-project/screenlink/lib/clock"
)

// FailedAttemptRecord tracks password failures from one source IP.
type FailedAttemptRecord struct {
	Count       int       `json:"count"`
	LastAttempt time.Time `json:"lastAttempt"`

	// Blocked marks an administrative block, which holds until an
	// explicit unblock regardless of the window.
	Blocked bool `json:"blocked"`
}

// Lockout rejects connections from IPs that have failed password
// authentication too many times inside a rolling window. Expired
// records are dropped lazily during checks; there is no background
// sweeper to leak.
type Lockout struct {
	mu          sync.Mutex
	clock       clock.Clock
	maxAttempts int
	window      time.Duration
	records     map[string]*FailedAttemptRecord
}

// NewLockout creates a lockout policy: maxAttempts failures inside
// window lock the IP until the window elapses after its last attempt.
func NewLockout(maxAttempts int, window time.Duration, clk clock.Clock) *Lockout {
	return &Lockout{
		clock:       clk,
		maxAttempts: maxAttempts,
		window:      window,
		records:     make(map[string]*FailedAttemptRecord),
	}
}

// RecordFailure counts one failed password attempt from ip. Returns
// true if the IP is now locked out. Attempts older than the window
// reset the count rather than accumulating forever.
func (l *Lockout) RecordFailure(ip string) (lockedOut bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	record, ok := l.records[ip]
	if !ok || (now.Sub(record.LastAttempt) > l.window && !record.Blocked) {
		record = &FailedAttemptRecord{}
		l.records[ip] = record
	}
	record.Count++
	record.LastAttempt = now
	return record.Blocked || record.Count >= l.maxAttempts
}

// IsLocked reports whether new connections from ip must be refused.
// Checked at accept time, before registration or any lookup.
func (l *Lockout) IsLocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[ip]
	if !ok {
		return false
	}
	if record.Blocked {
		return true
	}
	if l.clock.Now().Sub(record.LastAttempt) > l.window {
		delete(l.records, ip)
		return false
	}
	return record.Count >= l.maxAttempts
}

// Block administratively locks an IP until Unblock.
func (l *Lockout) Block(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[ip]
	if !ok {
		record = &FailedAttemptRecord{}
		l.records[ip] = record
	}
	record.Blocked = true
	record.LastAttempt = l.clock.Now()
}

// Unblock clears an IP's record entirely, whether the lock came from
// failed attempts or an administrative block.
func (l *Lockout) Unblock(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, ip)
}

// Records returns a snapshot of all current failure records keyed by
// IP, for the admin surface.
func (l *Lockout) Records() map[string]FailedAttemptRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot := make(map[string]FailedAttemptRecord, len(l.records))
	for ip, record := range l.records {
		snapshot[ip] = *record
	}
	return snapshot
}
