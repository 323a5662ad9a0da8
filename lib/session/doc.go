// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session defines the vocabulary shared by every part of the
// session ownership layer: node names, actor handles, the replicated
// session record, and the error taxonomy.
//
// # Ownership
//
// A client identifier is owned by at most one live session actor in the
// cluster. The [Record] in the global directory names that actor by its
// [Handle] (node plus cluster-unique actor id). Records can go stale
// between an actor crashing and the owning worker cleaning up, but two
// records for the same client id never coexist: the directory insert is
// first-writer-wins and the loser receives [ErrConflict].
//
// # Errors
//
// Every failure the layer reports to a caller is one of the sentinels
// below (possibly wrapped). They survive a trip across the node RPC
// boundary: [Code] names a sentinel on the way out and [FromCode]
// restores it on the way in, so a remote "session died" still matches
// errors.Is(err, ErrSessionDied) on the calling node.
package session
