// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package actor defines the narrow contract through which the session
// layer drives session actors, and a goroutine-backed implementation.
//
// The session layer never looks inside an actor. It starts one, hands
// it a new connection on resume, destroys it, asks whether it is
// alive, and watches [Process.Done] to learn when it terminates. What
// the actor does with delivered messages is the business of its
// [MessageHandler].
//
// [Local] runs each session as a goroutine with an unbounded mailbox.
// Delivery never blocks the sender; a slow handler only grows that
// session's mailbox.
package actor
