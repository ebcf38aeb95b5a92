// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"sync"
	"time"
)

// EventType classifies an access-log entry.
type EventType string

const (
	EventRegister       EventType = "register"
	EventEvicted        EventType = "evicted"
	EventConnectSuccess EventType = "connect-success"
	EventConnectFailed  EventType = "connect-failed"
	EventDisconnect     EventType = "disconnect"
	EventTimeout        EventType = "timeout"
	EventLockout        EventType = "lockout"
	EventAdminAction    EventType = "admin"
)

// AccessLogEntry is one audit event. Detail never contains passwords
// or password hashes.
type AccessLogEntry struct {
	Sequence     uint64    `json:"sequence"`
	Time         time.Time `json:"time"`
	Event        EventType `json:"event"`
	ConnectionID string    `json:"connectionId,omitempty"`
	RemoteIP     string    `json:"remoteIp,omitempty"`
	Detail       string    `json:"detail,omitempty"`

	// Actor attributes admin events to the caller named in the
	// X-Admin-Actor header. Empty for peer-originated events.
	Actor string `json:"actor,omitempty"`
}

// AccessLog is a fixed-capacity append-only ring of audit events. When
// full, the oldest entries are overwritten. Entries carry a
// monotonically increasing sequence so a reader can detect the gap
// when it has fallen more than a full ring behind.
//
// All methods are safe for concurrent use.
type AccessLog struct {
	mu       sync.Mutex
	entries  []AccessLogEntry
	capacity int

	// next is the ring index of the next write.
	next int

	// total is the number of entries ever appended. The ring holds
	// entries [total-stored, total), where stored = min(total, capacity).
	total uint64
}

// NewAccessLog creates a ring holding up to capacity entries.
func NewAccessLog(capacity int) *AccessLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &AccessLog{
		entries:  make([]AccessLogEntry, capacity),
		capacity: capacity,
	}
}

// Append records one event, overwriting the oldest if the ring is
// full.
func (log *AccessLog) Append(entry AccessLogEntry) {
	log.mu.Lock()
	defer log.mu.Unlock()

	entry.Sequence = log.total
	log.entries[log.next] = entry
	log.next = (log.next + 1) % log.capacity
	log.total++
}

// Recent returns up to n entries, oldest first. n <= 0 returns
// everything retained.
func (log *AccessLog) Recent(n int) []AccessLogEntry {
	log.mu.Lock()
	defer log.mu.Unlock()

	stored := int(log.total)
	if stored > log.capacity {
		stored = log.capacity
	}
	if n <= 0 || n > stored {
		n = stored
	}

	result := make([]AccessLogEntry, 0, n)
	start := log.next - n
	if start < 0 {
		start += log.capacity
	}
	for i := range n {
		result = append(result, log.entries[(start+i)%log.capacity])
	}
	return result
}

// Total returns the number of entries ever appended, including those
// already overwritten.
func (log *AccessLog) Total() uint64 {
	log.mu.Lock()
	defer log.mu.Unlock()
	return log.total
}
