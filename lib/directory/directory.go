// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"

	"github.com/bureau-foundation/courier/lib/session"
)

// Directory is the contract shared by the local Store and the remote
// Client.
type Directory interface {
	// Insert writes record if no record exists for its client id.
	// Otherwise it writes nothing and returns a *session.ConflictError.
	Insert(ctx context.Context, record session.Record) error

	// Lookup returns the record for clientID, or session.ErrNotFound.
	Lookup(ctx context.Context, clientID string) (session.Record, error)

	// Remove deletes record if the stored record is identical to it.
	// Removing an absent or different record is not an error.
	Remove(ctx context.Context, record session.Record) error

	// List returns every record, ordered by client id.
	List(ctx context.Context) ([]session.Record, error)
}
