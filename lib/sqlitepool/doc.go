// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool behind the
// directory node's session table and lock table.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool with fixed pragmas
// and exposes the zombiezen types directly: callers write SQL, use
// sqlitex.Execute for cached statements, and wrap read-then-write
// sequences in sqlitex.ImmediateTransaction so the write lock is taken
// before the read.
//
// # In-memory databases
//
// The session directory is volatile by design, so the default path is
// [MemoryPath] (":memory:"), which the pool opens as the URI
// "file::memory:?mode=memory". Every in-memory connection is an
// independent database, so a memory pool is always a single connection
// and callers serialize on Take. Two memory pools never share data. File-backed pools use WAL and may have several
// connections.
//
// # Pragmas
//
//   - journal_mode=WAL (file-backed only)
//   - synchronous=NORMAL: no fsync per commit. Directory contents do
//     not need to survive an OS crash; they describe live actors.
//   - busy_timeout=5000: wait for a contended write lock instead of
//     failing with SQLITE_BUSY.
//   - temp_store=MEMORY
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   sqlitepool.MemoryPath,
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
package sqlitepool
