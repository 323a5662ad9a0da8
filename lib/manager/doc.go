// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manager implements the session manager worker pool: the
// component that decides, for each connecting client, whether to
// create a session actor, resume the existing one, or destroy the
// existing one and create a fresh one.
//
// # Workers
//
// A [Pool] is a fixed array of workers. Each worker is one goroutine
// draining one inbox, so requests routed to the same worker run one at
// a time in arrival order. [Pool.Index] routes by a BLAKE3 hash of the
// client id. Routing gives natural serialization for a client id on
// one node only; races between nodes are settled by the directory's
// conflict check and the cluster lock.
//
// # Decisions
//
// A persistent request resumes the owner named in the directory: in
// place if it lives on this node, through the peer's session/resume
// action otherwise. A dead local owner is reported as
// session.ErrSessionDied. An unreachable remote owner has its record
// removed and is reported as session.ErrSessionNodeDown, so the
// caller's retry creates a fresh session.
//
// A clean-start request destroys the existing owner first. An
// unreachable remote owner counts as already destroyed; any other
// destroy failure aborts the request without creating anything.
//
// Creation starts an actor and inserts its record. A lost insert race
// is reported as session.ErrDirectoryConflict and never retried here;
// the actor started for it is destroyed.
//
// # Crash cleanup
//
// Every actor a worker creates is monitored. When the actor exits, a
// notification carrying the monitor reference lands in the same
// worker's inbox. The worker removes the directory record only if the
// record still names the dead actor, unregisters the actor's local
// registry entry, and drops the monitor. Notifications for unknown
// references are logged and ignored.
package manager
