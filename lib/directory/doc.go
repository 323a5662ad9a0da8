// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package directory implements the global session directory: one
// logical table mapping each client identifier to the actor that owns
// its session.
//
// The table lives on a single directory node, in a [Store] backed by
// SQLite. Every other node reaches it through a [Client] that speaks
// the cluster RPC protocol; [RegisterActions] exposes a Store on the
// directory node's RPC server. Both implement [Directory].
//
// # Operations
//
// Insert is the only write that can create ownership. It runs in an
// IMMEDIATE transaction: the write lock is taken, the key is read, and
// the record is written only if the key is absent. If a record already
// exists the transaction rolls back and the caller gets a
// *session.ConflictError naming the winner. There is no upsert.
//
// Lookup is a plain read outside any transaction. It is used on hot
// paths where a slightly stale answer is acceptable: a stale "absent"
// is caught by Insert's conflict check, and a stale "present" is
// resolved by crash cleanup or nodedown self-heal.
//
// Remove deletes by exact record match. A caller holding an old record
// can never delete the newer record that replaced it.
//
// # Volatility
//
// The table is emptied whenever a Store is opened. Records describe
// live actors, and a full cluster restart has no live actors.
package directory
