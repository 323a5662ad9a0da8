// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry is the per-node map from client id to the session
// actor hosted on this node, used to route published messages without
// consulting the cluster-wide directory.
//
// The registry is not an authority on ownership. A miss is the normal
// case for a client connected to another node; Dispatch reports it to
// the drop hook and carries on.
package registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/bureau-foundation/courier/lib/actor"
	"github.com/bureau-foundation/courier/lib/session"
)

// HookMessageDropped is the hook run when Dispatch finds no live local
// session. Its arguments are the client id and the actor.Message.
const HookMessageDropped = "message.dropped"

// Stats holds per-client statistics kept outside the registry.
type Stats interface {
	DeleteStats(clientID string)
}

// Hooks runs named extension hooks.
type Hooks interface {
	Run(hook string, args ...any)
}

// Entry is one registered local session.
type Entry struct {
	ClientID   string
	Handle     session.Handle
	CleanStart bool
	Properties map[string]any

	process actor.Process
}

// Registry is safe for concurrent use.
type Registry struct {
	stats  Stats
	hooks  Hooks
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string][]Entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithStats sets the statistics collaborator.
func WithStats(stats Stats) Option {
	return func(r *Registry) { r.stats = stats }
}

// WithHooks sets the hook collaborator.
func WithHooks(hooks Hooks) Option {
	return func(r *Registry) { r.hooks = hooks }
}

// WithLogger sets the registry's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// New creates an empty registry. Collaborators default to no-ops.
func New(options ...Option) *Registry {
	r := &Registry{
		stats:   noopStats{},
		hooks:   noopHooks{},
		logger:  slog.New(slog.DiscardHandler),
		entries: make(map[string][]Entry),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Register adds an entry for proc. The caller unregisters any previous
// entry for the client id first; the registry does not enforce one
// entry per id.
func (r *Registry) Register(clientID string, proc actor.Process, cleanStart bool, properties map[string]any) {
	entry := Entry{
		ClientID:   clientID,
		Handle:     proc.Handle(),
		CleanStart: cleanStart,
		Properties: properties,
		process:    proc,
	}

	r.mu.Lock()
	r.entries[clientID] = append(r.entries[clientID], entry)
	count := len(r.entries[clientID])
	r.mu.Unlock()

	if count > 1 {
		r.logger.Warn("multiple local sessions registered",
			"client_id", clientID,
			"count", count,
		)
	}
}

// Unregister removes the entry for clientID whose handle equals
// handle, and reports whether one was removed. An entry registered by
// a newer actor is left alone.
func (r *Registry) Unregister(clientID string, handle session.Handle) bool {
	r.mu.Lock()
	removed := false
	entries := r.entries[clientID]
	for i, entry := range entries {
		if entry.Handle == handle {
			entries = append(entries[:i:i], entries[i+1:]...)
			removed = true
			break
		}
	}
	r.store(clientID, entries)
	r.mu.Unlock()

	if removed {
		r.stats.DeleteStats(clientID)
	}
	return removed
}

// UnregisterAll removes every entry for clientID.
func (r *Registry) UnregisterAll(clientID string) bool {
	r.mu.Lock()
	_, removed := r.entries[clientID]
	delete(r.entries, clientID)
	r.mu.Unlock()

	if removed {
		r.stats.DeleteStats(clientID)
	}
	return removed
}

// Dispatch hands message to the newest live local session for
// clientID without waiting for it to be processed. If there is none,
// it runs the message.dropped hook once. It reports whether a session
// accepted the message and never blocks on the session.
func (r *Registry) Dispatch(clientID string, message actor.Message) bool {
	r.mu.RLock()
	entries := r.entries[clientID]
	var target actor.Process
	if len(entries) > 0 {
		target = entries[len(entries)-1].process
	}
	r.mu.RUnlock()

	if target != nil && target.Deliver(message) {
		return true
	}
	r.hooks.Run(HookMessageDropped, clientID, message)
	return false
}

// Lookup returns the entries for clientID, oldest first.
func (r *Registry) Lookup(clientID string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry(nil), r.entries[clientID]...)
}

// Entries returns every entry, ordered by client id.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	clientIDs := make([]string, 0, len(r.entries))
	for clientID := range r.entries {
		clientIDs = append(clientIDs, clientID)
	}
	sort.Strings(clientIDs)

	var all []Entry
	for _, clientID := range clientIDs {
		all = append(all, r.entries[clientID]...)
	}
	r.mu.RUnlock()
	return all
}

// store writes entries back under r.mu, dropping empty slices so the
// map does not grow with every client ever seen.
func (r *Registry) store(clientID string, entries []Entry) {
	if len(entries) == 0 {
		delete(r.entries, clientID)
		return
	}
	r.entries[clientID] = entries
}

type noopStats struct{}

func (noopStats) DeleteStats(string) {}

type noopHooks struct{}

func (noopHooks) Run(string, ...any) {}
