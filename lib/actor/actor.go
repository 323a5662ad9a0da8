// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package actor

import (
	"context"

	"github.com/bureau-foundation/courier/lib/session"
)

// StartSpec describes a session actor to start.
type StartSpec struct {
	ClientID   string
	Username   string
	Persistent bool

	// Conn is the connection actor the session starts attached to.
	Conn session.Handle
}

// Message is one publish delivered to a session.
type Message struct {
	Topic   string `cbor:"topic" json:"topic"`
	Payload []byte `cbor:"payload" json:"payload"`
}

// Process is a running session actor on this node.
type Process interface {
	Handle() session.Handle
	ClientID() string

	// Deliver enqueues message without blocking. It reports false if
	// the actor has already stopped.
	Deliver(message Message) bool

	// Done is closed when the actor terminates, for any reason.
	Done() <-chan struct{}
}

// Supervisor starts and controls session actors hosted on one node.
type Supervisor interface {
	Start(ctx context.Context, spec StartSpec) (Process, error)

	// Resume attaches the actor to a new connection. It fails with
	// session.ErrSessionDied if the actor is not alive.
	Resume(ctx context.Context, handle session.Handle, clientID string, conn session.Handle) error

	// Destroy stops the actor and waits for it to exit. Destroying an
	// actor that is already gone succeeds.
	Destroy(ctx context.Context, handle session.Handle, clientID string) error

	IsAlive(handle session.Handle) bool
}
