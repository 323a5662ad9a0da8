// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/courier/lib/actor"
	"github.com/bureau-foundation/courier/lib/clock"
	"github.com/bureau-foundation/courier/lib/registry"
	"github.com/bureau-foundation/courier/lib/session"
	"github.com/bureau-foundation/courier/lib/testutil"
)

func TestIndexIsStableAndInRange(t *testing.T) {
	tc := newTestCluster(t, "node-a")
	pool := tc.nodes["node-a"].pool

	seen := make(map[int]bool)
	for range 64 {
		clientID := testutil.UniqueID("client")
		index := pool.Index(clientID)
		if index < 0 || index >= pool.Size() {
			t.Fatalf("Index(%q) = %d, outside [0, %d)", clientID, index, pool.Size())
		}
		if again := pool.Index(clientID); again != index {
			t.Fatalf("Index(%q) changed from %d to %d", clientID, index, again)
		}
		seen[index] = true
	}
	if len(seen) < 2 {
		t.Errorf("64 client ids all hashed to %d worker(s)", len(seen))
	}
	if shardIndex("c1", 8) != shardIndex("c1", 8) {
		t.Error("shardIndex is not a pure function")
	}
}

// A persistent client connects, reconnects while its session lives,
// loses the session to a crash, and connects again.
func TestPersistentSessionLifecycle(t *testing.T) {
	tc := newTestCluster(t, "node-a")
	a := tc.nodes["node-a"]

	first := start(t, a, false, "c1")
	if first.Resumed {
		t.Fatalf("first connect resumed: %+v", first)
	}
	tc.requireOwner(t, "c1", first.Handle)

	again := start(t, a, false, "c1")
	if !again.Resumed || again.Handle != first.Handle {
		t.Fatalf("reconnect = %+v, want resumed %s", again, first.Handle)
	}
	if handles := a.supervisor.Handles(); len(handles) != 1 {
		t.Fatalf("resume started a second actor: %v", handles)
	}

	if !a.supervisor.Crash(first.Handle) {
		t.Fatal("Crash found no actor")
	}
	testutil.Eventually(t, 5*time.Second, func() bool {
		_, err := tc.directory.Lookup(context.Background(), "c1")
		return errors.Is(err, session.ErrNotFound)
	}, "record of the crashed session removed")
	testutil.Eventually(t, 5*time.Second, func() bool {
		return len(a.registry.Lookup("c1")) == 0
	}, "registry entry of the crashed session removed")

	fresh := start(t, a, false, "c1")
	if fresh.Resumed || fresh.Handle == first.Handle {
		t.Fatalf("connect after crash = %+v, want a new session", fresh)
	}
}

// A clean-start client reconnects while its session lives.
func TestCleanStartReplacesSession(t *testing.T) {
	tc := newTestCluster(t, "node-a")
	a := tc.nodes["node-a"]

	old := start(t, a, true, "c2")
	fresh := start(t, a, true, "c2")

	if fresh.Resumed || fresh.Handle == old.Handle {
		t.Fatalf("clean reconnect = %+v, want a new session", fresh)
	}
	if a.supervisor.IsAlive(old.Handle) {
		t.Error("old session still alive")
	}
	if handles := a.supervisor.Handles(); len(handles) != 1 || handles[0] != fresh.Handle {
		t.Errorf("live actors = %v, want only %s", handles, fresh.Handle)
	}
	tc.requireOwner(t, "c2", fresh.Handle)

	entries := a.registry.Lookup("c2")
	if len(entries) != 1 || entries[0].Handle != fresh.Handle || !entries[0].CleanStart {
		t.Errorf("registry = %+v, want only the new clean-start session", entries)
	}
}

func TestDeadLocalOwnerReportsSessionDied(t *testing.T) {
	tc := newTestCluster(t, "node-a")
	a := tc.nodes["node-a"]
	ctx := context.Background()

	dead := session.Record{ClientID: "c8", Owner: session.NewHandle("node-a"), Persistent: true}
	if err := tc.directory.Insert(ctx, dead); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	_, err := a.pool.StartSession(ctx, Request{ClientID: "c8"})
	if !errors.Is(err, session.ErrSessionDied) {
		t.Fatalf("StartSession = %v, want ErrSessionDied", err)
	}
	if handles := a.supervisor.Handles(); len(handles) != 0 {
		t.Errorf("a session was created over a dead owner: %v", handles)
	}
	tc.requireOwner(t, "c8", dead.Owner)
}

func TestFailedRemoteDestroyCreatesNothing(t *testing.T) {
	store := newTestStore(t)
	supervisor := actor.NewLocal("node-a")
	t.Cleanup(func() { supervisor.Close(context.Background()) })
	remoteFailure := errors.New("destroy refused")
	pool := newTestPool(t, Config{
		Node:       "node-a",
		Size:       1,
		Directory:  store,
		Supervisor: supervisor,
		Registry:   registry.New(),
		Caller:     scriptedCaller{err: remoteFailure},
	})
	ctx := context.Background()

	existing := session.Record{ClientID: "c9", Owner: session.Handle{Node: "node-b", ID: "actor-1"}}
	if err := store.Insert(ctx, existing); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	_, err := pool.StartSession(ctx, Request{CleanStart: true, ClientID: "c9"})
	if !errors.Is(err, remoteFailure) {
		t.Fatalf("StartSession = %v, want the destroy failure", err)
	}
	if handles := supervisor.Handles(); len(handles) != 0 {
		t.Errorf("session created despite failed destroy: %v", handles)
	}
	record, err := store.Lookup(ctx, "c9")
	if err != nil || !record.Equal(existing) {
		t.Errorf("record after failed destroy = %+v, %v", record, err)
	}
}

func TestCrashCleanupSparesNewerOwner(t *testing.T) {
	tc := newTestCluster(t, "node-a")
	a := tc.nodes["node-a"]
	ctx := context.Background()

	crashed := start(t, a, false, "c10")
	monitors := requireMonitors(t, a.pool, 1)

	// A newer owner elsewhere replaced the record before the crash
	// notice was handled.
	if err := tc.directory.Remove(ctx, session.Record{ClientID: "c10", Owner: crashed.Handle, Persistent: true}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	newer := session.Record{ClientID: "c10", Owner: session.Handle{Node: "node-b", ID: "newer"}, Persistent: true}
	if err := tc.directory.Insert(ctx, newer); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	a.supervisor.Crash(crashed.Handle)
	testutil.Eventually(t, 5*time.Second, func() bool {
		current, err := a.pool.Monitors(ctx)
		return err == nil && len(current) == 0
	}, "monitor dropped after crash")
	tc.requireOwner(t, "c10", newer.Owner)

	// A duplicate notice for the same monitor changes nothing.
	injectDown(t, a.pool, monitors[0])
	tc.requireOwner(t, "c10", newer.Owner)
}

func TestDuplicateCrashNoticeRemovesOnce(t *testing.T) {
	tc := newTestCluster(t, "node-a")
	a := tc.nodes["node-a"]
	ctx := context.Background()

	crashed := start(t, a, false, "c11")
	monitors := requireMonitors(t, a.pool, 1)

	a.supervisor.Crash(crashed.Handle)
	testutil.Eventually(t, 5*time.Second, func() bool {
		_, err := tc.directory.Lookup(ctx, "c11")
		return errors.Is(err, session.ErrNotFound)
	}, "record removed after crash")

	replacement := start(t, a, false, "c11")
	injectDown(t, a.pool, monitors[0])
	tc.requireOwner(t, "c11", replacement.Handle)
	if entries := a.registry.Lookup("c11"); len(entries) != 1 || entries[0].Handle != replacement.Handle {
		t.Errorf("registry after duplicate notice = %+v", entries)
	}
}

func TestDiscardDestroysLocalSessions(t *testing.T) {
	tc := newTestCluster(t, "node-a")
	a := tc.nodes["node-a"]
	ctx := context.Background()

	created := start(t, a, false, "c12")
	discarded, err := a.pool.Discard(ctx, "c12")
	if err != nil || discarded != 1 {
		t.Fatalf("Discard = %d, %v; want 1", discarded, err)
	}
	if a.supervisor.IsAlive(created.Handle) {
		t.Error("discarded session still alive")
	}
	tc.requireAbsent(t, "c12")
	if len(a.registry.Lookup("c12")) != 0 {
		t.Error("discarded session still registered")
	}

	if discarded, err := a.pool.Discard(ctx, "c12"); err != nil || discarded != 0 {
		t.Errorf("second Discard = %d, %v; want 0", discarded, err)
	}
}

// flakyDestroySupervisor fails every Destroy after the first allowed.
type flakyDestroySupervisor struct {
	*actor.Local
	allowed   int
	destroyed int
	err       error
}

func (s *flakyDestroySupervisor) Destroy(ctx context.Context, handle session.Handle, clientID string) error {
	if s.destroyed == s.allowed {
		return s.err
	}
	s.destroyed++
	return s.Local.Destroy(ctx, handle, clientID)
}

func TestDiscardReportsPartialProgress(t *testing.T) {
	store := newTestStore(t)
	supervisor := &flakyDestroySupervisor{
		Local:   actor.NewLocal("node-a"),
		allowed: 1,
		err:     errors.New("destroy refused"),
	}
	t.Cleanup(func() { supervisor.Local.Close(context.Background()) })
	pool := newTestPool(t, Config{
		Node:       "node-a",
		Size:       1,
		Directory:  store,
		Supervisor: supervisor,
		Registry:   registry.New(),
		Caller:     unreachableCaller{},
	})
	ctx := context.Background()

	// Two live actors for one client: the first record vanished before
	// the client came back.
	var handles []session.Handle
	for range 2 {
		result, err := pool.StartSession(ctx, Request{ClientID: "c14", Conn: session.NewHandle("node-a")})
		if err != nil {
			t.Fatalf("StartSession: %v", err)
		}
		handles = append(handles, result.Handle)
		if err := store.Remove(ctx, session.Record{ClientID: "c14", Owner: result.Handle, Persistent: true}); err != nil {
			t.Fatalf("Remove: %v", err)
		}
	}

	discarded, err := pool.Discard(ctx, "c14")
	if !errors.Is(err, supervisor.err) {
		t.Fatalf("Discard error = %v, want the destroy failure", err)
	}
	if discarded != 1 {
		t.Errorf("Discard = %d, want 1 actor destroyed before the failure", discarded)
	}
	alive := 0
	for _, handle := range handles {
		if supervisor.IsAlive(handle) {
			alive++
		}
	}
	if alive != 1 {
		t.Errorf("%d actors alive after partial discard, want 1", alive)
	}
}

// blockingSupervisor holds Start until gate is closed.
type blockingSupervisor struct {
	*actor.Local
	gate chan struct{}
}

func (s *blockingSupervisor) Start(ctx context.Context, spec actor.StartSpec) (actor.Process, error) {
	<-s.gate
	return s.Local.Start(ctx, spec)
}

func TestStartSessionTimesOut(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	supervisor := &blockingSupervisor{Local: actor.NewLocal("node-a"), gate: make(chan struct{})}
	t.Cleanup(func() { supervisor.Close(context.Background()) })
	pool := newTestPool(t, Config{
		Node:        "node-a",
		Size:        1,
		Directory:   newTestStore(t),
		Supervisor:  supervisor,
		Registry:    registry.New(),
		Caller:      unreachableCaller{},
		Clock:       fake,
		CallTimeout: time.Minute,
	})
	// Registered after the pool, so it runs before pool.Close.
	t.Cleanup(func() { close(supervisor.gate) })

	errs := make(chan error, 1)
	go func() {
		_, err := pool.StartSession(context.Background(), Request{ClientID: "slow"})
		errs <- err
	}()

	fake.WaitForTimers(1)
	fake.Advance(time.Minute)

	err := testutil.RequireReceive(t, errs, 5*time.Second, "waiting for StartSession")
	if !errors.Is(err, session.ErrTimeout) {
		t.Fatalf("StartSession = %v, want ErrTimeout", err)
	}
}

// strangeRequest is a message no worker understands, sent by a caller
// that waits for an answer.
type strangeRequest struct {
	reply chan error
}

func (r strangeRequest) fail(err error) { r.reply <- err }

func TestUnexpectedMessages(t *testing.T) {
	tc := newTestCluster(t, "node-a")
	a := tc.nodes["node-a"]
	w := a.pool.workers[a.pool.Index("c13")]

	w.inbox <- "not a message"

	reply := make(chan error, 1)
	w.inbox <- strangeRequest{reply: reply}
	err := testutil.RequireReceive(t, reply, 5*time.Second, "reply to unexpected request")
	if !errors.Is(err, session.ErrUnexpectedRequest) {
		t.Fatalf("reply = %v, want ErrUnexpectedRequest", err)
	}

	if result := start(t, a, false, "c13"); result.Resumed {
		t.Errorf("worker misbehaves after unexpected messages: %+v", result)
	}
}

func TestClosedPoolRejectsCalls(t *testing.T) {
	tc := newTestCluster(t, "node-a")
	a := tc.nodes["node-a"]

	a.pool.Close()
	_, err := a.pool.StartSession(context.Background(), Request{ClientID: "c14"})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("StartSession after Close = %v, want ErrClosed", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New accepted an empty config")
	}
	if _, err := New(Config{Node: "node-a"}); err == nil {
		t.Error("New accepted a config without collaborators")
	}
}

func requireMonitors(t *testing.T, pool *Pool, want int) []Monitor {
	t.Helper()
	monitors, err := pool.Monitors(context.Background())
	if err != nil {
		t.Fatalf("Monitors: %v", err)
	}
	if len(monitors) != want {
		t.Fatalf("%d monitors, want %d: %+v", len(monitors), want, monitors)
	}
	return monitors
}

// injectDown posts a termination notice for m to its worker and waits
// until the worker has handled it.
func injectDown(t *testing.T, pool *Pool, m Monitor) {
	t.Helper()
	pool.workers[pool.Index(m.ClientID)].inbox <- downMessage{ref: m.Ref, handle: m.Handle}
	if _, err := pool.Monitors(context.Background()); err != nil {
		t.Fatalf("Monitors: %v", err)
	}
}
