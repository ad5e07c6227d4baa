// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that
// connection deadlines and retry timers can be tested without sleeping.
// Production code injects Real(); tests inject Fake(initial) and call
// Advance to fire pending timers deterministically.
package clock
