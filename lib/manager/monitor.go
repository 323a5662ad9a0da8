// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"sort"

	"github.com/bureau-foundation/courier/lib/actor"
	"github.com/bureau-foundation/courier/lib/session"
)

type monitor struct {
	ref      uint64
	clientID string
	handle   session.Handle

	// released stops the watcher goroutine.
	released chan struct{}
}

// downMessage is posted to the owning worker when a monitored actor
// exits.
type downMessage struct {
	ref    uint64
	handle session.Handle
}

// watch installs a monitor on proc.
func (w *worker) watch(proc actor.Process) {
	m := &monitor{
		ref:      w.pool.nextRef.Add(1),
		clientID: proc.ClientID(),
		handle:   proc.Handle(),
		released: make(chan struct{}),
	}
	w.monitors[m.ref] = m

	closing := w.pool.closing
	go func() {
		select {
		case <-proc.Done():
		case <-m.released:
			return
		case <-closing:
			return
		}
		select {
		case w.inbox <- downMessage{ref: m.ref, handle: m.handle}:
		case <-m.released:
		case <-closing:
		}
	}()
}

func (w *worker) handleDown(ctx context.Context, down downMessage) {
	m, ok := w.monitors[down.ref]
	if !ok {
		w.logger.Warn("termination notice for unknown monitor",
			"ref", down.ref,
			"actor", down.handle.String(),
		)
		return
	}
	delete(w.monitors, down.ref)
	close(m.released)

	w.pool.registry.Unregister(m.clientID, m.handle)

	record, err := w.pool.directory.Lookup(ctx, m.clientID)
	switch {
	case errors.Is(err, session.ErrNotFound):
	case err != nil:
		w.logger.Error("crash cleanup lookup failed",
			"client_id", m.clientID,
			"actor", m.handle.String(),
			"error", err,
		)
	case record.Owner == m.handle:
		if err := w.pool.directory.Remove(ctx, record); err != nil {
			w.logger.Error("crash cleanup remove failed",
				"client_id", m.clientID,
				"actor", m.handle.String(),
				"error", err,
			)
			return
		}
		w.logger.Info("removed record of terminated session",
			"client_id", m.clientID,
			"actor", m.handle.String(),
		)
	default:
		w.logger.Debug("terminated session already superseded",
			"client_id", m.clientID,
			"actor", m.handle.String(),
			"owner", record.Owner.String(),
		)
	}
}

func (w *worker) snapshot() []Monitor {
	monitors := make([]Monitor, 0, len(w.monitors))
	for _, m := range w.monitors {
		monitors = append(monitors, Monitor{Ref: m.ref, ClientID: m.clientID, Handle: m.handle})
	}
	sort.Slice(monitors, func(i, j int) bool { return monitors[i].Ref < monitors[j].Ref })
	return monitors
}

func (w *worker) releaseMonitors() {
	for ref, m := range w.monitors {
		close(m.released)
		delete(w.monitors, ref)
	}
}
