// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker is the session-ownership surface of one broker node.
// It owns no state of its own: it composes the worker pool, the
// directory, the cluster lock, the local registry and the node RPC
// client into the operations the connection layer and operators call.
//
// [Broker.StartSession] goes straight to the worker pool.
// [Broker.OpenSession] is the lock-guarded variant: under the cluster
// lock for the client id it first makes every node relinquish traces
// of the client id that the directory does not account for, then
// calls the pool.
//
//   - Clean start: every node discards its local sessions for the
//     client id, then a fresh session is created.
//   - Persistent: every node reports its local sessions for the client
//     id. The directory's owner is authoritative; every other reported
//     session is destroyed. The pool then resumes the owner, or creates
//     a session if the directory has none.
//
// Nodes that cannot be reached during the fan-out are logged and
// skipped. The pool's own nodedown handling settles a record that
// names one of them.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/courier/lib/actor"
	"github.com/bureau-foundation/courier/lib/cluster"
	"github.com/bureau-foundation/courier/lib/directory"
	"github.com/bureau-foundation/courier/lib/locker"
	"github.com/bureau-foundation/courier/lib/manager"
	"github.com/bureau-foundation/courier/lib/registry"
	"github.com/bureau-foundation/courier/lib/session"
)

// Config wires a Broker. Every field except Logger is required.
type Config struct {
	Members    *cluster.Membership
	Caller     cluster.Caller
	Directory  directory.Directory
	Locker     *locker.Locker
	Pool       *manager.Pool
	Registry   *registry.Registry
	Supervisor actor.Supervisor
	Logger     *slog.Logger
}

// Broker is safe for concurrent use.
type Broker struct {
	members    *cluster.Membership
	caller     cluster.Caller
	directory  directory.Directory
	locker     *locker.Locker
	pool       *manager.Pool
	registry   *registry.Registry
	supervisor actor.Supervisor
	logger     *slog.Logger
}

// New creates a Broker.
func New(config Config) (*Broker, error) {
	if config.Members == nil || config.Caller == nil || config.Directory == nil ||
		config.Locker == nil || config.Pool == nil || config.Registry == nil || config.Supervisor == nil {
		return nil, fmt.Errorf("broker: Members, Caller, Directory, Locker, Pool, Registry and Supervisor are required")
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Broker{
		members:    config.Members,
		caller:     config.Caller,
		directory:  config.Directory,
		locker:     config.Locker,
		pool:       config.Pool,
		registry:   config.Registry,
		supervisor: config.Supervisor,
		logger:     config.Logger,
	}, nil
}

// Node returns this node's name.
func (b *Broker) Node() session.Node { return b.members.Local() }

// StartSession runs the create/resume/destroy decision for a new
// connection without taking the cluster lock.
func (b *Broker) StartSession(ctx context.Context, cleanStart bool, clientID, username string, conn session.Handle) (manager.Result, error) {
	return b.pool.StartSession(ctx, manager.Request{
		CleanStart: cleanStart,
		ClientID:   clientID,
		Username:   username,
		Conn:       conn,
	})
}

// OpenRequest is a connection's request to open a session.
type OpenRequest struct {
	ClientID   string
	Username   string
	CleanStart bool
	Conn       session.Handle
}

// OpenSession opens a session under the cluster lock for the client
// id. It fails with session.ErrClientIDUnavailable if another open for
// the same client id holds the lock.
func (b *Broker) OpenSession(ctx context.Context, request OpenRequest) (manager.Result, error) {
	return locker.WithLock(ctx, b.locker, request.ClientID, func(ctx context.Context) (manager.Result, error) {
		if request.CleanStart {
			if err := b.discardEverywhere(ctx, request.ClientID); err != nil {
				return manager.Result{}, err
			}
		} else {
			if err := b.destroyStrays(ctx, request.ClientID); err != nil {
				return manager.Result{}, err
			}
		}
		return b.StartSession(ctx, request.CleanStart, request.ClientID, request.Username, request.Conn)
	})
}

// discardEverywhere asks every node, this one included, to discard its
// local sessions for clientID.
func (b *Broker) discardEverywhere(ctx context.Context, clientID string) error {
	local, err := b.pool.Discard(ctx, clientID)
	if err != nil {
		return err
	}
	discarded := local

	replies, badNodes := cluster.Multicall[discardResult](ctx, b.caller, b.members.Peers(), ActionDiscard,
		map[string]any{"client_id": clientID})
	b.logBadNodes(ActionDiscard, clientID, badNodes)

	var errs []error
	for _, reply := range replies {
		if reply.Err != nil {
			errs = append(errs, reply.Err)
			continue
		}
		discarded += reply.Value.Discarded
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if discarded > 0 {
		b.logger.Info("discarded sessions before clean start",
			"client_id", clientID,
			"discarded", discarded,
		)
	}
	return nil
}

// destroyStrays destroys every live session for clientID that the
// directory does not name as the owner.
func (b *Broker) destroyStrays(ctx context.Context, clientID string) error {
	reported := b.localHandles(clientID)

	replies, badNodes := cluster.Multicall[[]session.Handle](ctx, b.caller, b.members.Peers(), ActionLookupLocal,
		map[string]any{"client_id": clientID})
	b.logBadNodes(ActionLookupLocal, clientID, badNodes)
	for _, reply := range replies {
		if reply.Err != nil {
			return reply.Err
		}
		reported = append(reported, reply.Value...)
	}
	if len(reported) == 0 {
		return nil
	}

	var owner session.Handle
	record, err := b.directory.Lookup(ctx, clientID)
	switch {
	case err == nil:
		owner = record.Owner
	case !errors.Is(err, session.ErrNotFound):
		return err
	}

	for _, handle := range reported {
		if handle == owner {
			continue
		}
		b.logger.Warn("destroying session not named by the directory",
			"client_id", clientID,
			"actor", handle.String(),
			"owner", owner.String(),
		)
		if err := b.destroy(ctx, clientID, handle); err != nil {
			return err
		}
	}
	return nil
}

// destroy stops one actor wherever it lives. An unreachable node is
// treated as having already lost the actor.
func (b *Broker) destroy(ctx context.Context, clientID string, handle session.Handle) error {
	if handle.Node == b.Node() {
		if err := b.supervisor.Destroy(ctx, handle, clientID); err != nil {
			return err
		}
		b.registry.Unregister(clientID, handle)
		return nil
	}
	err := b.caller.Call(ctx, handle.Node, manager.ActionDestroy, map[string]any{
		"handle":    handle,
		"client_id": clientID,
	}, nil)
	if cluster.IsNodeDown(err, handle.Node) {
		return nil
	}
	return err
}

func (b *Broker) localHandles(clientID string) []session.Handle {
	var handles []session.Handle
	for _, entry := range b.registry.Lookup(clientID) {
		if b.supervisor.IsAlive(entry.Handle) {
			handles = append(handles, entry.Handle)
		}
	}
	return handles
}

func (b *Broker) logBadNodes(action, clientID string, badNodes []session.Node) {
	for _, node := range badNodes {
		b.logger.Warn("node unreachable during session fan-out",
			"action", action,
			"client_id", clientID,
			"node", string(node),
		)
	}
}

// LookupSession returns the directory record for clientID, or
// session.ErrNotFound.
func (b *Broker) LookupSession(ctx context.Context, clientID string) (session.Record, error) {
	return b.directory.Lookup(ctx, clientID)
}

// Sessions lists every directory record.
func (b *Broker) Sessions(ctx context.Context) ([]session.Record, error) {
	return b.directory.List(ctx)
}

// RegisterSession adds proc to the local registry.
func (b *Broker) RegisterSession(clientID string, proc actor.Process, cleanStart bool, properties map[string]any) {
	b.registry.Register(clientID, proc, cleanStart, properties)
}

// UnregisterSession removes the local registry entry for clientID
// whose handle matches, or every entry if handle is zero.
func (b *Broker) UnregisterSession(clientID string, handle session.Handle) bool {
	if handle.IsZero() {
		return b.registry.UnregisterAll(clientID)
	}
	return b.registry.Unregister(clientID, handle)
}

// Dispatch delivers a message to the local session for clientID, or
// reports it to the drop hook. It never blocks on the session and
// reports whether a local session accepted the message.
func (b *Broker) Dispatch(clientID, topic string, payload []byte) bool {
	return b.registry.Dispatch(clientID, actor.Message{Topic: topic, Payload: payload})
}

// LocalSessions returns this node's registry entries.
func (b *Broker) LocalSessions() []registry.Entry {
	return b.registry.Entries()
}

// KickSession destroys the directory owner of clientID wherever it
// lives and removes its record, under the cluster lock.
func (b *Broker) KickSession(ctx context.Context, clientID string) error {
	_, err := locker.WithLock(ctx, b.locker, clientID, func(ctx context.Context) (struct{}, error) {
		record, err := b.directory.Lookup(ctx, clientID)
		if err != nil {
			return struct{}{}, err
		}

		owner := record.Owner
		if owner.Node == b.Node() {
			if _, err := b.pool.Discard(ctx, clientID); err != nil {
				return struct{}{}, err
			}
		} else {
			err := b.caller.Call(ctx, owner.Node, ActionDiscard, map[string]any{"client_id": clientID}, nil)
			if cluster.IsNodeDown(err, owner.Node) {
				b.logger.Warn("kicked session's node is down, removing record",
					"client_id", clientID,
					"actor", owner.String(),
				)
			} else if err != nil {
				return struct{}{}, err
			}
		}

		b.logger.Info("session kicked", "client_id", clientID, "actor", owner.String())
		return struct{}{}, b.directory.Remove(ctx, record)
	})
	return err
}
