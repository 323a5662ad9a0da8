// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package locker

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/courier/lib/cluster"
	"github.com/bureau-foundation/courier/lib/session"
)

const (
	ActionAcquire = "lock/acquire"
	ActionRelease = "lock/release"
)

type leaseRequest struct {
	ClientID string `cbor:"client_id"`
	Owner    string `cbor:"owner"`
	// TTL in milliseconds.
	TTL int64 `cbor:"ttl_ms,omitempty"`
}

type acquireResult struct {
	Acquired bool `cbor:"acquired"`
}

// RegisterActions serves service on server.
func RegisterActions(server *cluster.Server, service Service) {
	server.Handle(ActionAcquire, func(ctx context.Context, raw []byte) (any, error) {
		var request leaseRequest
		if err := cluster.Decode(raw, &request); err != nil {
			return nil, err
		}
		acquired, err := service.Acquire(ctx, request.ClientID, request.Owner, time.Duration(request.TTL)*time.Millisecond)
		if err != nil {
			return nil, err
		}
		return acquireResult{Acquired: acquired}, nil
	})

	server.Handle(ActionRelease, func(ctx context.Context, raw []byte) (any, error) {
		var request leaseRequest
		if err := cluster.Decode(raw, &request); err != nil {
			return nil, err
		}
		return nil, service.Release(ctx, request.ClientID, request.Owner)
	})
}

// Client is a Service on a remote directory node.
type Client struct {
	caller cluster.Caller
	node   session.Node
}

var _ Service = (*Client)(nil)

// NewClient returns a Service that forwards to node.
func NewClient(caller cluster.Caller, node session.Node) *Client {
	return &Client{caller: caller, node: node}
}

// Acquire forwards to the directory node.
func (c *Client) Acquire(ctx context.Context, clientID, owner string, ttl time.Duration) (bool, error) {
	var result acquireResult
	err := c.caller.Call(ctx, c.node, ActionAcquire, map[string]any{
		"client_id": clientID,
		"owner":     owner,
		"ttl_ms":    ttl.Milliseconds(),
	}, &result)
	if err != nil {
		return false, fmt.Errorf("locker: acquire %q: %w", clientID, err)
	}
	return result.Acquired, nil
}

// Release forwards to the directory node.
func (c *Client) Release(ctx context.Context, clientID, owner string) error {
	err := c.caller.Call(ctx, c.node, ActionRelease, map[string]any{
		"client_id": clientID,
		"owner":     owner,
	}, nil)
	if err != nil {
		return fmt.Errorf("locker: release %q: %w", clientID, err)
	}
	return nil
}
