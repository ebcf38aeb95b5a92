// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called; timers and tickers fire only when the
// clock advances past their deadline.
func Fake(initial time.Time) *FakeClock {
	f := &FakeClock{current: initial}
	f.waitersChanged = sync.NewCond(&f.mu)
	return f
}

// FakeClock is a deterministic Clock for tests. Safe for concurrent
// use. AfterFunc callbacks run synchronously inside Advance, in
// deadline order; do not call Advance from within a callback.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter

	// waitersChanged is signalled whenever a waiter is added, for
	// WaitForTimers.
	waitersChanged *sync.Cond
}

// fakeWaiter is a pending timer or ticker.
type fakeWaiter struct {
	deadline time.Time

	// channel receives the fire time for After and Ticker waiters.
	// Nil for AfterFunc waiters.
	channel chan time.Time

	// callback runs synchronously during Advance. Nil for channel
	// waiters.
	callback func()

	// interval is non-zero for tickers: after firing, the waiter is
	// rescheduled at deadline + interval.
	interval time.Duration

	stopped bool
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	waiter := &fakeWaiter{
		deadline: f.current.Add(d),
		channel:  make(chan time.Time, 1),
	}
	f.waiters = append(f.waiters, waiter)
	f.waitersChanged.Broadcast()
	return waiter.channel
}

func (f *FakeClock) AfterFunc(d time.Duration, fn func()) *Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	waiter := &fakeWaiter{
		deadline: f.current.Add(d),
		callback: fn,
	}
	f.waiters = append(f.waiters, waiter)
	f.waitersChanged.Broadcast()
	return &Timer{stopFunc: func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		wasActive := !waiter.stopped
		waiter.stopped = true
		return wasActive
	}}
}

func (f *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	waiter := &fakeWaiter{
		deadline: f.current.Add(d),
		channel:  make(chan time.Time, 1),
		interval: d,
	}
	f.waiters = append(f.waiters, waiter)
	f.waitersChanged.Broadcast()
	return &Ticker{C: waiter.channel, stopFunc: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		waiter.stopped = true
	}}
}

// Advance moves the clock forward by d, firing every waiter whose
// deadline falls inside the window, in deadline order. Tickers fire
// once per elapsed interval. Channel sends are non-blocking: a ticker
// whose consumer has fallen behind drops the tick, matching
// time.Ticker.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.current.Add(d)

	for {
		next := f.nextDueLocked(target)
		if next == nil {
			break
		}
		f.current = next.deadline
		if next.interval > 0 {
			next.deadline = next.deadline.Add(next.interval)
		} else {
			next.stopped = true
		}
		if next.channel != nil {
			select {
			case next.channel <- f.current:
			default:
			}
		}
		if next.callback != nil {
			// Run the callback without the lock so it can register
			// new timers.
			callback := next.callback
			f.mu.Unlock()
			callback()
			f.mu.Lock()
		}
	}

	f.current = target
	f.compactLocked()
	f.mu.Unlock()
}

// nextDueLocked returns the unstopped waiter with the earliest
// deadline at or before target, or nil.
func (f *FakeClock) nextDueLocked(target time.Time) *fakeWaiter {
	var due []*fakeWaiter
	for _, waiter := range f.waiters {
		if !waiter.stopped && !waiter.deadline.After(target) {
			due = append(due, waiter)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	return due[0]
}

// WaitForTimers blocks until at least n waiters are pending. It
// closes the race between a goroutine registering a timer and the
// test advancing the clock:
//
//	go machine.reconnect()         // will call After
//	fake.WaitForTimers(1)          // blocks until After registers
//	fake.Advance(delay)            // deterministically fires
func (f *FakeClock) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pendingCountLocked() < n {
		f.waitersChanged.Wait()
	}
}

// PendingCount returns the number of active pending waiters.
func (f *FakeClock) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingCountLocked()
}

func (f *FakeClock) pendingCountLocked() int {
	count := 0
	for _, waiter := range f.waiters {
		if !waiter.stopped {
			count++
		}
	}
	return count
}

func (f *FakeClock) compactLocked() {
	kept := f.waiters[:0]
	for _, waiter := range f.waiters {
		if !waiter.stopped {
			kept = append(kept, waiter)
		}
	}
	f.waiters = kept
}
