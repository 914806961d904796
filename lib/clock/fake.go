// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at the given time. Time moves only
// when Advance is called; pending waiters fire in deadline order as the
// clock passes them.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for tests. AfterFunc callbacks run
// synchronously inside Advance, so do not call Advance or Sleep from
// within a callback; that deadlocks.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
	changed *sync.Cond
}

// fakeWaiter is one pending After, AfterFunc, or Sleep operation.
type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time // nil for AfterFunc waiters
	callback func()         // nil for After and Sleep waiters
	stopped  bool
	fired    bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the clock advances past
// the deadline. If d <= 0 it receives immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.addWaiter(&fakeWaiter{deadline: c.current.Add(d), channel: channel})
	return channel
}

// AfterFunc schedules f to run when the clock advances past the
// deadline. If d <= 0, f runs synchronously before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	waiter := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.addWaiter(waiter)
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if waiter.fired || waiter.stopped {
			return false
		}
		waiter.stopped = true
		return true
	}}
}

// Sleep blocks until another goroutine advances the clock past the
// deadline.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}

	c.mu.Lock()
	channel := make(chan time.Time, 1)
	c.addWaiter(&fakeWaiter{deadline: c.current.Add(d), channel: channel})
	c.mu.Unlock()

	<-channel
}

// Advance moves the clock forward by d, firing every pending waiter
// whose deadline has been reached, in deadline order. AfterFunc
// callbacks run synchronously on the calling goroutine.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current

	due := make([]*fakeWaiter, 0, len(c.waiters))
	remaining := c.waiters[:0]
	for _, waiter := range c.waiters {
		switch {
		case waiter.stopped:
		case !waiter.deadline.After(now):
			due = append(due, waiter)
		default:
			remaining = append(remaining, waiter)
		}
	}
	c.waiters = remaining

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, waiter := range due {
		waiter.fired = true
	}
	c.mu.Unlock()

	for _, waiter := range due {
		if waiter.channel != nil {
			waiter.channel <- now
		}
		if waiter.callback != nil {
			waiter.callback()
		}
	}
}

// Waiters reports the number of pending (unstopped, unfired) waiters.
// Tests use this to wait until the code under test has armed its timer
// before advancing the clock.
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, waiter := range c.waiters {
		if !waiter.stopped && !waiter.fired {
			count++
		}
	}
	return count
}

// BlockUntilWaiters blocks until at least n waiters are pending.
func (c *FakeClock) BlockUntilWaiters(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		count := 0
		for _, waiter := range c.waiters {
			if !waiter.stopped && !waiter.fired {
				count++
			}
		}
		if count >= n {
			return
		}
		c.changed.Wait()
	}
}

// addWaiter registers a waiter. Caller holds c.mu.
func (c *FakeClock) addWaiter(waiter *fakeWaiter) {
	c.waiters = append(c.waiters, waiter)
	c.changed.Broadcast()
}
