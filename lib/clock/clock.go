// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the session layer. Production code
// injects Real(); tests inject Fake() and advance time deterministically
// to exercise session timeouts and the end-of-session delay without
// waiting for them.
package clock

import "time"

// Clock is the time surface the session and room layers are allowed to
// touch. Anything that would call time.Now, time.After, time.AfterFunc,
// or time.Sleep takes a Clock instead.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0, the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for d, then calls f in its own goroutine (real
	// clock) or synchronously during Advance (fake clock). The returned
	// Timer cancels the pending call with Stop.
	AfterFunc(d time.Duration, f func()) *Timer

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Timer is a scheduled AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. It reports true if the call
// stopped the timer, false if the timer already fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }
