// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"sync"
	"testing"

	"github.com/bureau-foundation/courier/lib/actor"
	"github.com/bureau-foundation/courier/lib/session"
)

// fakeProcess records deliveries instead of running a goroutine.
type fakeProcess struct {
	handle   session.Handle
	clientID string
	stopped  bool

	mu        sync.Mutex
	delivered []actor.Message
	done      chan struct{}
}

func newFakeProcess(clientID, id string) *fakeProcess {
	return &fakeProcess{
		handle:   session.Handle{Node: "node-a", ID: id},
		clientID: clientID,
		done:     make(chan struct{}),
	}
}

func (p *fakeProcess) Handle() session.Handle { return p.handle }
func (p *fakeProcess) ClientID() string       { return p.clientID }
func (p *fakeProcess) Done() <-chan struct{}  { return p.done }

func (p *fakeProcess) Deliver(message actor.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.delivered = append(p.delivered, message)
	return true
}

type recordingHooks struct {
	mu    sync.Mutex
	calls []hookCall
}

type hookCall struct {
	hook string
	args []any
}

func (h *recordingHooks) Run(hook string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, hookCall{hook: hook, args: args})
}

type recordingStats struct {
	deleted []string
}

func (s *recordingStats) DeleteStats(clientID string) {
	s.deleted = append(s.deleted, clientID)
}

func TestDispatchDeliversToLocalSession(t *testing.T) {
	hooks := &recordingHooks{}
	registry := New(WithHooks(hooks))
	proc := newFakeProcess("c1", "actor-1")
	registry.Register("c1", proc, false, nil)

	if !registry.Dispatch("c1", actor.Message{Topic: "t", Payload: []byte("hi")}) {
		t.Fatal("Dispatch to a registered session reported a drop")
	}
	if len(proc.delivered) != 1 || proc.delivered[0].Topic != "t" {
		t.Fatalf("delivered = %+v", proc.delivered)
	}
	if len(hooks.calls) != 0 {
		t.Errorf("drop hook ran for a delivered message: %+v", hooks.calls)
	}
}

func TestDispatchMissRunsDropHookOnce(t *testing.T) {
	hooks := &recordingHooks{}
	registry := New(WithHooks(hooks))

	message := actor.Message{Topic: "t", Payload: []byte("hi")}
	if registry.Dispatch("absent", message) {
		t.Fatal("Dispatch to an absent session reported delivery")
	}
	if len(hooks.calls) != 1 {
		t.Fatalf("drop hook ran %d times, want 1", len(hooks.calls))
	}
	call := hooks.calls[0]
	if call.hook != HookMessageDropped || call.args[0] != "absent" || call.args[1].(actor.Message).Topic != "t" {
		t.Errorf("hook call = %+v", call)
	}
}

func TestDispatchToStoppedSessionDrops(t *testing.T) {
	hooks := &recordingHooks{}
	registry := New(WithHooks(hooks))
	proc := newFakeProcess("c1", "actor-1")
	proc.stopped = true
	registry.Register("c1", proc, false, nil)

	if registry.Dispatch("c1", actor.Message{Topic: "t"}) {
		t.Fatal("stopped session accepted a message")
	}
	if len(hooks.calls) != 1 {
		t.Errorf("drop hook ran %d times, want 1", len(hooks.calls))
	}
}

func TestUnregisterMatchesHandle(t *testing.T) {
	stats := &recordingStats{}
	registry := New(WithStats(stats))
	old := newFakeProcess("c1", "actor-1")
	current := newFakeProcess("c1", "actor-2")
	registry.Register("c1", old, false, nil)
	registry.Unregister("c1", old.Handle())
	registry.Register("c1", current, false, nil)

	if registry.Unregister("c1", old.Handle()) {
		t.Fatal("stale Unregister removed an entry")
	}
	entries := registry.Lookup("c1")
	if len(entries) != 1 || entries[0].Handle != current.Handle() {
		t.Fatalf("entries after stale Unregister = %+v", entries)
	}

	if !registry.Unregister("c1", current.Handle()) {
		t.Fatal("Unregister of the current handle removed nothing")
	}
	if len(registry.Lookup("c1")) != 0 {
		t.Error("entry survived Unregister")
	}
	if len(stats.deleted) != 2 {
		t.Errorf("DeleteStats called %d times, want once per removal", len(stats.deleted))
	}
}

func TestUnregisterAll(t *testing.T) {
	registry := New()
	registry.Register("c1", newFakeProcess("c1", "actor-1"), true, nil)
	registry.Register("c1", newFakeProcess("c1", "actor-2"), true, nil)

	if !registry.UnregisterAll("c1") {
		t.Fatal("UnregisterAll removed nothing")
	}
	if registry.UnregisterAll("c1") {
		t.Error("second UnregisterAll reported a removal")
	}
}

func TestEntriesSortedWithProperties(t *testing.T) {
	registry := New()
	registry.Register("c2", newFakeProcess("c2", "actor-2"), true, nil)
	registry.Register("c1", newFakeProcess("c1", "actor-1"), false, map[string]any{"username": "u"})

	entries := registry.Entries()
	if len(entries) != 2 || entries[0].ClientID != "c1" || entries[1].ClientID != "c2" {
		t.Fatalf("Entries = %+v", entries)
	}
	if entries[0].CleanStart || entries[0].Properties["username"] != "u" {
		t.Errorf("c1 entry = %+v", entries[0])
	}
	if !entries[1].CleanStart {
		t.Errorf("c2 entry lost its clean start flag")
	}
}
