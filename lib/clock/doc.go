// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The session layer has three kinds of time-dependent behavior: the
// bounded wait on a manager worker's reply, lock lease expiry, and the
// retry interval while waiting for a held lock. All three take a Clock
// so tests can drive them deterministically:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	pool := manager.New(manager.Config{Clock: c, ...})
//	go pool.StartSession(ctx, request)
//	c.WaitForTimers(1)       // the call has registered its timeout
//	c.Advance(2 * time.Minute) // and now it fires
//
// Socket read and write deadlines are not routed through Clock; the
// kernel enforces those against wall time.
package clock
