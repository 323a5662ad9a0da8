// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/courier/lib/cluster"
	"github.com/bureau-foundation/courier/lib/session"
)

// Action names served by RegisterActions.
const (
	ActionInsert = "directory/insert"
	ActionLookup = "directory/lookup"
	ActionRemove = "directory/remove"
	ActionList   = "directory/list"
)

type recordRequest struct {
	Record session.Record `cbor:"record"`
}

type clientIDRequest struct {
	ClientID string `cbor:"client_id"`
}

// insertResult reports a conflict as data rather than as a failure
// response, so the winner's record reaches the caller intact.
type insertResult struct {
	Conflict *session.Record `cbor:"conflict,omitempty"`
}

type lookupResult struct {
	Found  bool           `cbor:"found"`
	Record session.Record `cbor:"record"`
}

// RegisterActions serves dir on server.
func RegisterActions(server *cluster.Server, dir Directory) {
	server.Handle(ActionInsert, func(ctx context.Context, raw []byte) (any, error) {
		var request recordRequest
		if err := cluster.Decode(raw, &request); err != nil {
			return nil, err
		}
		err := dir.Insert(ctx, request.Record)
		var conflict *session.ConflictError
		if errors.As(err, &conflict) {
			return insertResult{Conflict: &conflict.Existing}, nil
		}
		if err != nil {
			return nil, err
		}
		return insertResult{}, nil
	})

	server.Handle(ActionLookup, func(ctx context.Context, raw []byte) (any, error) {
		var request clientIDRequest
		if err := cluster.Decode(raw, &request); err != nil {
			return nil, err
		}
		record, err := dir.Lookup(ctx, request.ClientID)
		if errors.Is(err, session.ErrNotFound) {
			return lookupResult{Found: false}, nil
		}
		if err != nil {
			return nil, err
		}
		return lookupResult{Found: true, Record: record}, nil
	})

	server.Handle(ActionRemove, func(ctx context.Context, raw []byte) (any, error) {
		var request recordRequest
		if err := cluster.Decode(raw, &request); err != nil {
			return nil, err
		}
		return nil, dir.Remove(ctx, request.Record)
	})

	server.Handle(ActionList, func(ctx context.Context, _ []byte) (any, error) {
		records, err := dir.List(ctx)
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []session.Record{}
		}
		return records, nil
	})
}

// Client is a Directory on a remote directory node.
type Client struct {
	caller cluster.Caller
	node   session.Node
}

var _ Directory = (*Client)(nil)

// NewClient returns a Directory that forwards every operation to node.
func NewClient(caller cluster.Caller, node session.Node) *Client {
	return &Client{caller: caller, node: node}
}

// Insert forwards to the directory node.
func (c *Client) Insert(ctx context.Context, record session.Record) error {
	var result insertResult
	if err := c.caller.Call(ctx, c.node, ActionInsert, map[string]any{"record": record}, &result); err != nil {
		return fmt.Errorf("directory: insert %q: %w", record.ClientID, err)
	}
	if result.Conflict != nil {
		return &session.ConflictError{Existing: *result.Conflict}
	}
	return nil
}

// Lookup forwards to the directory node.
func (c *Client) Lookup(ctx context.Context, clientID string) (session.Record, error) {
	var result lookupResult
	if err := c.caller.Call(ctx, c.node, ActionLookup, map[string]any{"client_id": clientID}, &result); err != nil {
		return session.Record{}, fmt.Errorf("directory: lookup %q: %w", clientID, err)
	}
	if !result.Found {
		return session.Record{}, session.ErrNotFound
	}
	return result.Record, nil
}

// Remove forwards to the directory node.
func (c *Client) Remove(ctx context.Context, record session.Record) error {
	if err := c.caller.Call(ctx, c.node, ActionRemove, map[string]any{"record": record}, nil); err != nil {
		return fmt.Errorf("directory: remove %q: %w", record.ClientID, err)
	}
	return nil
}

// List forwards to the directory node.
func (c *Client) List(ctx context.Context) ([]session.Record, error) {
	var records []session.Record
	if err := c.caller.Call(ctx, c.node, ActionList, nil, &records); err != nil {
		return nil, fmt.Errorf("directory: list: %w", err)
	}
	return records, nil
}
