// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package locker implements the cluster-wide per-client lock that
// serializes the open-session critical section.
//
// Locks are leases. A [Service] grants a lease on a client id to an
// opaque owner token for a bounded time; a lease that outlives its
// holder (because the holding node died mid-section) expires and can
// be taken over. [Table] is the authoritative lease table on the
// directory node, in the same SQLite pool as the session directory.
// [Client] reaches it from other nodes and [RegisterActions] serves
// it.
//
// [Locker] is what callers use. It mints a fresh owner token per
// acquisition, retries a contended lock on the injected clock until
// its acquire timeout, and treats an empty client id as "no
// coordination required". [WithLock] runs a function under the lock
// and releases on every exit path, panics included.
package locker
