// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package locker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/courier/lib/clock"
	"github.com/bureau-foundation/courier/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_locks (
	client_id  TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
DELETE FROM session_locks;
`

// Table is the lease table on the directory node. Expiry is evaluated
// against the injected clock, so leases written by one Table are only
// meaningful to that Table.
type Table struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

var _ Service = (*Table)(nil)

// NewTable creates the lease table in pool, discarding leases left from
// a previous run.
func NewTable(ctx context.Context, pool *sqlitepool.Pool, clk clock.Clock, logger *slog.Logger) (*Table, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("locker: open: %w", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return nil, fmt.Errorf("locker: creating schema: %w", err)
	}
	return &Table{pool: pool, clock: clk, logger: logger}, nil
}

// Acquire implements Service inside an IMMEDIATE transaction.
func (t *Table) Acquire(ctx context.Context, clientID, owner string, ttl time.Duration) (acquired bool, err error) {
	if ttl <= 0 {
		return false, fmt.Errorf("locker: lease ttl must be positive, got %v", ttl)
	}

	conn, err := t.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("locker: acquire: %w", err)
	}
	defer t.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return false, fmt.Errorf("locker: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	now := t.clock.Now()

	var (
		holder    string
		expiresAt int64
		held      bool
	)
	err = sqlitex.Execute(conn,
		"SELECT owner, expires_at FROM session_locks WHERE client_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{clientID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				holder = stmt.ColumnText(0)
				expiresAt = stmt.ColumnInt64(1)
				held = true
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("locker: reading lease %q: %w", clientID, err)
	}

	if held && holder != owner && now.UnixNano() < expiresAt {
		return false, nil
	}
	if held && holder != owner {
		t.logger.Warn("taking over expired session lock",
			"client_id", clientID,
			"previous_owner", holder,
			"expired_at", time.Unix(0, expiresAt),
		)
	}

	err = sqlitex.Execute(conn,
		"INSERT OR REPLACE INTO session_locks (client_id, owner, expires_at) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{clientID, owner, now.Add(ttl).UnixNano()},
		})
	if err != nil {
		return false, fmt.Errorf("locker: writing lease %q: %w", clientID, err)
	}
	return true, nil
}

// Release implements Service.
func (t *Table) Release(ctx context.Context, clientID, owner string) error {
	conn, err := t.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("locker: release: %w", err)
	}
	defer t.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM session_locks WHERE client_id = ? AND owner = ?",
		&sqlitex.ExecOptions{Args: []any{clientID, owner}})
	if err != nil {
		return fmt.Errorf("locker: release %q: %w", clientID, err)
	}
	return nil
}
