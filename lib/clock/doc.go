// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets time-dependent components take their notion of time
// as a dependency.
//
// The signaling client arms one connection timer per handshake and the
// relay sweeps expired frames on a ticker. Both take a [Clock] so tests
// can drive them with [Fake] instead of sleeping:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	client := signaling.New(bus, signaling.Config{Clock: fake, ...})
//	// ... start a handshake ...
//	fake.WaitForTimers(1)
//	fake.Advance(50 * time.Millisecond)
//
// [FakeClock] fires AfterFunc callbacks synchronously inside Advance, in
// deadline order. WaitForTimers blocks until a goroutine has registered
// the expected number of timers, which removes the race between arming
// a timer and advancing past it.
package clock
