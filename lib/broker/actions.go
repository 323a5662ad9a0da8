// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"

	"github.com/bureau-foundation/courier/lib/cluster"
	"github.com/bureau-foundation/courier/lib/manager"
	"github.com/bureau-foundation/courier/lib/session"
)

// Peer actions, called by other brokers.
const (
	ActionDiscard     = "session/discard"
	ActionLookupLocal = "session/lookup-local"
)

// Operator actions, called by the courier CLI.
const (
	ActionStart    = "session/start"
	ActionOpen     = "session/open"
	ActionLookup   = "session/lookup"
	ActionLocal    = "session/local"
	ActionKick     = "session/kick"
	ActionList     = "session/list"
	ActionDispatch = "message/dispatch"
)

type clientIDRequest struct {
	ClientID string `cbor:"client_id"`
}

type openRequest struct {
	ClientID   string         `cbor:"client_id"`
	Username   string         `cbor:"username,omitempty"`
	CleanStart bool           `cbor:"clean_start"`
	Conn       session.Handle `cbor:"conn"`
}

type dispatchRequest struct {
	ClientID string `cbor:"client_id"`
	Topic    string `cbor:"topic"`
	Payload  []byte `cbor:"payload"`
}

type discardResult struct {
	Discarded int `cbor:"discarded"`
}

// DispatchResult is the response to message/dispatch.
type DispatchResult struct {
	Delivered bool `cbor:"delivered" json:"delivered"`
}

// LocalSession is the wire form of a registry entry.
type LocalSession struct {
	ClientID   string         `cbor:"client_id" json:"client_id"`
	Handle     session.Handle `cbor:"handle" json:"handle"`
	CleanStart bool           `cbor:"clean_start" json:"clean_start"`
	Properties map[string]any `cbor:"properties,omitempty" json:"properties,omitempty"`
}

// RegisterActions serves the broker's peer and operator actions on
// server, including the session/resume and session/destroy actions the
// worker pool calls on peers.
func (b *Broker) RegisterActions(server *cluster.Server) {
	manager.RegisterPeerActions(server, b.supervisor)

	server.Handle(ActionDiscard, func(ctx context.Context, raw []byte) (any, error) {
		var request clientIDRequest
		if err := cluster.Decode(raw, &request); err != nil {
			return nil, err
		}
		discarded, err := b.pool.Discard(ctx, request.ClientID)
		if err != nil {
			return nil, err
		}
		return discardResult{Discarded: discarded}, nil
	})

	server.Handle(ActionLookupLocal, func(_ context.Context, raw []byte) (any, error) {
		var request clientIDRequest
		if err := cluster.Decode(raw, &request); err != nil {
			return nil, err
		}
		handles := b.localHandles(request.ClientID)
		if handles == nil {
			handles = []session.Handle{}
		}
		return handles, nil
	})

	server.Handle(ActionStart, func(ctx context.Context, raw []byte) (any, error) {
		var request openRequest
		if err := cluster.Decode(raw, &request); err != nil {
			return nil, err
		}
		return b.StartSession(ctx, request.CleanStart, request.ClientID, request.Username, request.Conn)
	})

	server.Handle(ActionOpen, func(ctx context.Context, raw []byte) (any, error) {
		var request openRequest
		if err := cluster.Decode(raw, &request); err != nil {
			return nil, err
		}
		return b.OpenSession(ctx, OpenRequest{
			ClientID:   request.ClientID,
			Username:   request.Username,
			CleanStart: request.CleanStart,
			Conn:       request.Conn,
		})
	})

	server.Handle(ActionLookup, func(ctx context.Context, raw []byte) (any, error) {
		var request clientIDRequest
		if err := cluster.Decode(raw, &request); err != nil {
			return nil, err
		}
		return b.LookupSession(ctx, request.ClientID)
	})

	server.Handle(ActionLocal, func(context.Context, []byte) (any, error) {
		entries := b.LocalSessions()
		sessions := make([]LocalSession, len(entries))
		for i, entry := range entries {
			sessions[i] = LocalSession{
				ClientID:   entry.ClientID,
				Handle:     entry.Handle,
				CleanStart: entry.CleanStart,
				Properties: entry.Properties,
			}
		}
		return sessions, nil
	})

	server.Handle(ActionKick, func(ctx context.Context, raw []byte) (any, error) {
		var request clientIDRequest
		if err := cluster.Decode(raw, &request); err != nil {
			return nil, err
		}
		return nil, b.KickSession(ctx, request.ClientID)
	})

	server.Handle(ActionList, func(ctx context.Context, _ []byte) (any, error) {
		records, err := b.Sessions(ctx)
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []session.Record{}
		}
		return records, nil
	})

	server.Handle(ActionDispatch, func(_ context.Context, raw []byte) (any, error) {
		var request dispatchRequest
		if err := cluster.Decode(raw, &request); err != nil {
			return nil, err
		}
		return DispatchResult{Delivered: b.Dispatch(request.ClientID, request.Topic, request.Payload)}, nil
	})
}
