// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for the scheduler, the material
// poller, and the timer-trigger loop.
//
// Components hold a Clock field and never call time.Now, time.After,
// time.NewTicker, or time.AfterFunc directly. The server wires Real();
// tests wire Fake() and move time forward with Advance:
//
//	fake := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
//	loop := newPollLoop(fake, ...)
//	go loop.run(ctx)
//	fake.WaitForTimers(1)          // the loop has created its ticker
//	fake.Advance(time.Minute)      // one poll cycle, deterministically
//
// WaitForTimers closes the race between a goroutine registering a timer
// and the test advancing past it.
package clock
