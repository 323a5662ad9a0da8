// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/courier/lib/session"
	"github.com/bureau-foundation/courier/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	client_id  TEXT PRIMARY KEY,
	owner_node TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	persistent INTEGER NOT NULL
);
DELETE FROM sessions;
`

// Store is the authoritative session table on the directory node.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

var _ Directory = (*Store)(nil)

// NewStore creates the session table in pool, discarding any rows left
// from a previous run.
func NewStore(ctx context.Context, pool *sqlitepool.Pool, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("directory: open: %w", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return nil, fmt.Errorf("directory: creating schema: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Insert writes record inside an IMMEDIATE transaction, or returns a
// *session.ConflictError without writing.
func (s *Store) Insert(ctx context.Context, record session.Record) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("directory: insert: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("directory: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	existing, found, err := selectRecord(conn, record.ClientID)
	if err != nil {
		return err
	}
	if found {
		s.logger.Debug("directory insert conflict",
			"client_id", record.ClientID,
			"existing_owner", existing.Owner.String(),
			"rejected_owner", record.Owner.String(),
		)
		return &session.ConflictError{Existing: existing}
	}

	err = sqlitex.Execute(conn,
		"INSERT INTO sessions (client_id, owner_node, owner_id, persistent) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{record.ClientID, string(record.Owner.Node), record.Owner.ID, boolToInt(record.Persistent)},
		})
	if err != nil {
		return fmt.Errorf("directory: insert %q: %w", record.ClientID, err)
	}
	return nil
}

// Lookup reads the record for clientID outside any transaction.
func (s *Store) Lookup(ctx context.Context, clientID string) (session.Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return session.Record{}, fmt.Errorf("directory: lookup: %w", err)
	}
	defer s.pool.Put(conn)

	record, found, err := selectRecord(conn, clientID)
	if err != nil {
		return session.Record{}, err
	}
	if !found {
		return session.Record{}, session.ErrNotFound
	}
	return record, nil
}

// Remove deletes record only if every column matches.
func (s *Store) Remove(ctx context.Context, record session.Record) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("directory: remove: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM sessions WHERE client_id = ? AND owner_node = ? AND owner_id = ? AND persistent = ?",
		&sqlitex.ExecOptions{
			Args: []any{record.ClientID, string(record.Owner.Node), record.Owner.ID, boolToInt(record.Persistent)},
		})
	if err != nil {
		return fmt.Errorf("directory: remove %q: %w", record.ClientID, err)
	}
	if conn.Changes() > 0 {
		s.logger.Debug("directory record removed",
			"client_id", record.ClientID,
			"owner", record.Owner.String(),
		)
	}
	return nil
}

// List returns every record ordered by client id.
func (s *Store) List(ctx context.Context) ([]session.Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("directory: list: %w", err)
	}
	defer s.pool.Put(conn)

	var records []session.Record
	err = sqlitex.Execute(conn,
		"SELECT client_id, owner_node, owner_id, persistent FROM sessions ORDER BY client_id",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				records = append(records, scanRecord(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("directory: list: %w", err)
	}
	return records, nil
}

func selectRecord(conn *sqlite.Conn, clientID string) (session.Record, bool, error) {
	var (
		record session.Record
		found  bool
	)
	err := sqlitex.Execute(conn,
		"SELECT client_id, owner_node, owner_id, persistent FROM sessions WHERE client_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{clientID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record = scanRecord(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return session.Record{}, false, fmt.Errorf("directory: lookup %q: %w", clientID, err)
	}
	return record, found, nil
}

// scanRecord reads columns client_id(0), owner_node(1), owner_id(2),
// persistent(3).
func scanRecord(stmt *sqlite.Stmt) session.Record {
	return session.Record{
		ClientID: stmt.ColumnText(0),
		Owner: session.Handle{
			Node: session.Node(stmt.ColumnText(1)),
			ID:   stmt.ColumnText(2),
		},
		Persistent: stmt.ColumnInt64(3) != 0,
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
