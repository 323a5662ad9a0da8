// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/courier/lib/session"
)

// Reply is one node's answer to a Multicall.
type Reply[T any] struct {
	Node  session.Node
	Value T
	Err   error
}

// Multicall sends the same action to every node concurrently and waits
// for all of them. Nodes that could not be reached are returned in
// badNodes and have no Reply; every other node has exactly one Reply,
// carrying either its decoded value or its error. Replies are in the
// order of nodes.
func Multicall[T any](ctx context.Context, caller Caller, nodes []session.Node, action string, fields map[string]any) (replies []Reply[T], badNodes []session.Node) {
	collected := make([]Reply[T], len(nodes))

	var group errgroup.Group
	for i, node := range nodes {
		group.Go(func() error {
			var value T
			err := caller.Call(ctx, node, action, fields, &value)
			collected[i] = Reply[T]{Node: node, Value: value, Err: err}
			return nil
		})
	}
	group.Wait()

	for _, reply := range collected {
		if IsNodeDown(reply.Err, reply.Node) {
			badNodes = append(badNodes, reply.Node)
			continue
		}
		replies = append(replies, reply)
	}
	return replies, badNodes
}
