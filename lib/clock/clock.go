// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations the signaling and tracker layers
// need: reading the current time and arming one-shot timers. Production
// code injects Real(); tests inject Fake() and advance it explicitly so
// connection deadlines fire deterministically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for duration d, then calls f in its own
	// goroutine (real clock) or synchronously from Advance (fake
	// clock). The returned Timer cancels the pending call with Stop.
	AfterFunc(d time.Duration, f func()) *Timer

	// After returns a channel that receives the current time once
	// duration d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Timer is a scheduled one-shot event created by AfterFunc.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. It returns true if the call
// stopped the timer, false if the timer already fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }
