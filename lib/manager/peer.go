// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"

	"github.com/bureau-foundation/courier/lib/actor"
	"github.com/bureau-foundation/courier/lib/cluster"
	"github.com/bureau-foundation/courier/lib/session"
)

// Peer actions a worker calls on the node that hosts a session's
// owner.
const (
	ActionResume  = "session/resume"
	ActionDestroy = "session/destroy"
)

type peerRequest struct {
	Handle   session.Handle `cbor:"handle"`
	ClientID string         `cbor:"client_id"`
	Conn     session.Handle `cbor:"conn"`
}

func peerFields(handle session.Handle, clientID string, conn session.Handle) map[string]any {
	return map[string]any{
		"handle":    handle,
		"client_id": clientID,
		"conn":      conn,
	}
}

// RegisterPeerActions serves session/resume and session/destroy for
// actors run by supervisor. Both act on the actor directly; the
// calling worker owns the directory update.
func RegisterPeerActions(server *cluster.Server, supervisor actor.Supervisor) {
	server.Handle(ActionResume, func(ctx context.Context, raw []byte) (any, error) {
		var request peerRequest
		if err := cluster.Decode(raw, &request); err != nil {
			return nil, err
		}
		return nil, supervisor.Resume(ctx, request.Handle, request.ClientID, request.Conn)
	})

	server.Handle(ActionDestroy, func(ctx context.Context, raw []byte) (any, error) {
		var request peerRequest
		if err := cluster.Decode(raw, &request); err != nil {
			return nil, err
		}
		return nil, supervisor.Destroy(ctx, request.Handle, request.ClientID)
	})
}
