// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/courier/lib/actor"
	"github.com/bureau-foundation/courier/lib/cluster"
	"github.com/bureau-foundation/courier/lib/session"
)

type startMessage struct {
	request Request
	reply   chan<- startReply
}

type startReply struct {
	result Result
	err    error
}

type discardMessage struct {
	clientID string
	reply    chan<- discardReply
}

type discardReply struct {
	discarded int
	err       error
}

type monitorsMessage struct {
	reply chan<- []Monitor
}

// replier is implemented by messages whose sender waits for an answer.
type replier interface {
	fail(err error)
}

func (m startMessage) fail(err error)    { m.reply <- startReply{err: err} }
func (m discardMessage) fail(err error)  { m.reply <- discardReply{err: err} }
func (m monitorsMessage) fail(err error) { m.reply <- nil }

// worker owns its inbox and monitor table. Nothing else reads or
// writes either.
type worker struct {
	pool     *Pool
	index    int
	inbox    chan any
	monitors map[uint64]*monitor
	logger   *slog.Logger
}

func (w *worker) run() {
	defer w.releaseMonitors()
	for {
		select {
		case <-w.pool.closing:
			return
		case message := <-w.inbox:
			w.handle(w.pool.ctx, message)
		}
	}
}

func (w *worker) handle(ctx context.Context, message any) {
	switch m := message.(type) {
	case startMessage:
		result, err := w.startSession(ctx, m.request)
		m.reply <- startReply{result: result, err: err}
	case discardMessage:
		discarded, err := w.discard(ctx, m.clientID)
		m.reply <- discardReply{discarded: discarded, err: err}
	case monitorsMessage:
		m.reply <- w.snapshot()
	case downMessage:
		w.handleDown(ctx, m)
	default:
		w.logger.Warn("unexpected message", "type", fmt.Sprintf("%T", message))
		if r, ok := message.(replier); ok {
			r.fail(fmt.Errorf("manager: %T: %w", message, session.ErrUnexpectedRequest))
		}
	}
}

func (w *worker) startSession(ctx context.Context, request Request) (Result, error) {
	record, err := w.pool.directory.Lookup(ctx, request.ClientID)
	if errors.Is(err, session.ErrNotFound) {
		return w.create(ctx, request)
	}
	if err != nil {
		return Result{}, err
	}

	if !request.CleanStart {
		return w.resume(ctx, request, record)
	}
	if err := w.destroy(ctx, record); err != nil {
		return Result{}, err
	}
	return w.create(ctx, request)
}

func (w *worker) create(ctx context.Context, request Request) (Result, error) {
	proc, err := w.pool.supervisor.Start(ctx, actor.StartSpec{
		ClientID:   request.ClientID,
		Username:   request.Username,
		Persistent: !request.CleanStart,
		Conn:       request.Conn,
	})
	if err != nil {
		return Result{}, fmt.Errorf("manager: starting session for %q: %w", request.ClientID, err)
	}

	record := session.Record{
		ClientID:   request.ClientID,
		Owner:      proc.Handle(),
		Persistent: !request.CleanStart,
	}
	if err := w.pool.directory.Insert(ctx, record); err != nil {
		w.abandon(ctx, proc)
		if errors.Is(err, session.ErrConflict) {
			w.logger.Info("lost directory race",
				"client_id", request.ClientID,
				"error", err,
			)
			return Result{}, fmt.Errorf("%w: %w", session.ErrDirectoryConflict, err)
		}
		return Result{}, err
	}

	w.watch(proc)
	w.pool.registry.Register(request.ClientID, proc, request.CleanStart, map[string]any{
		"username": request.Username,
		"conn":     request.Conn.String(),
	})

	w.logger.Info("session created",
		"client_id", request.ClientID,
		"actor", proc.Handle().String(),
		"persistent", record.Persistent,
	)
	return Result{Handle: proc.Handle()}, nil
}

// abandon destroys an actor whose record could not be written, so a
// failed create leaves nothing running.
func (w *worker) abandon(ctx context.Context, proc actor.Process) {
	if err := w.pool.supervisor.Destroy(ctx, proc.Handle(), proc.ClientID()); err != nil {
		w.logger.Error("destroying unrecorded session actor failed",
			"client_id", proc.ClientID(),
			"actor", proc.Handle().String(),
			"error", err,
		)
	}
}

func (w *worker) resume(ctx context.Context, request Request, record session.Record) (Result, error) {
	owner := record.Owner

	if owner.Node == w.pool.node {
		if !w.pool.supervisor.IsAlive(owner) {
			w.logger.Warn("directory names a dead local session",
				"client_id", request.ClientID,
				"actor", owner.String(),
			)
			return Result{}, fmt.Errorf("manager: %q owned by %s: %w", request.ClientID, owner, session.ErrSessionDied)
		}
		if err := w.pool.supervisor.Resume(ctx, owner, request.ClientID, request.Conn); err != nil {
			return Result{}, err
		}
		return Result{Handle: owner, Resumed: true}, nil
	}

	err := w.pool.caller.Call(ctx, owner.Node, ActionResume, peerFields(owner, request.ClientID, request.Conn), nil)
	if cluster.IsNodeDown(err, owner.Node) {
		w.logger.Warn("session owner node down, removing record",
			"client_id", request.ClientID,
			"actor", owner.String(),
			"error", err,
		)
		if removeErr := w.pool.directory.Remove(ctx, record); removeErr != nil {
			return Result{}, removeErr
		}
		return Result{}, fmt.Errorf("manager: %q owned by %s: %w", request.ClientID, owner, session.ErrSessionNodeDown)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Handle: owner, Resumed: true}, nil
}

// destroy removes the existing owner before a clean start. The dead
// actor's monitor is left in place; its termination notice finds the
// record already gone or superseded and only unregisters.
func (w *worker) destroy(ctx context.Context, record session.Record) error {
	owner := record.Owner

	if owner.Node == w.pool.node {
		if err := w.pool.supervisor.Destroy(ctx, owner, record.ClientID); err != nil {
			return err
		}
		w.pool.registry.Unregister(record.ClientID, owner)
		return w.pool.directory.Remove(ctx, record)
	}

	err := w.pool.caller.Call(ctx, owner.Node, ActionDestroy, peerFields(owner, record.ClientID, session.Handle{}), nil)
	if cluster.IsNodeDown(err, owner.Node) {
		w.logger.Warn("session owner node down, treating session as destroyed",
			"client_id", record.ClientID,
			"actor", owner.String(),
			"error", err,
		)
	} else if err != nil {
		return err
	}
	return w.pool.directory.Remove(ctx, record)
}

// discard destroys every live actor this worker created for clientID.
// On error the count is the actors destroyed before it.
func (w *worker) discard(ctx context.Context, clientID string) (int, error) {
	var handles []session.Handle
	for _, m := range w.monitors {
		if m.clientID == clientID && w.pool.supervisor.IsAlive(m.handle) {
			handles = append(handles, m.handle)
		}
	}
	if len(handles) == 0 {
		return 0, nil
	}

	for i, handle := range handles {
		if err := w.pool.supervisor.Destroy(ctx, handle, clientID); err != nil {
			return i, err
		}
		w.pool.registry.Unregister(clientID, handle)
	}

	record, err := w.pool.directory.Lookup(ctx, clientID)
	if errors.Is(err, session.ErrNotFound) {
		return len(handles), nil
	}
	if err != nil {
		return len(handles), err
	}
	for _, handle := range handles {
		if record.Owner == handle {
			if err := w.pool.directory.Remove(ctx, record); err != nil {
				return len(handles), err
			}
			break
		}
	}

	w.logger.Info("session discarded", "client_id", clientID, "actors", len(handles))
	return len(handles), nil
}
