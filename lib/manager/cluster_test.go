// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/courier/lib/actor"
	"github.com/bureau-foundation/courier/lib/cluster"
	"github.com/bureau-foundation/courier/lib/directory"
	"github.com/bureau-foundation/courier/lib/registry"
	"github.com/bureau-foundation/courier/lib/session"
	"github.com/bureau-foundation/courier/lib/sqlitepool"
	"github.com/bureau-foundation/courier/lib/testutil"
)

// downNode is a cluster member whose socket never exists.
const downNode session.Node = "node-down"

type testNode struct {
	name       session.Node
	supervisor *actor.Local
	registry   *registry.Registry
	pool       *Pool
}

type testCluster struct {
	directory *directory.Store
	nodes     map[session.Node]*testNode
}

func newTestStore(t *testing.T) *directory.Store {
	t.Helper()
	sqlite, err := sqlitepool.Open(sqlitepool.Config{Path: sqlitepool.MemoryPath})
	if err != nil {
		t.Fatalf("sqlitepool.Open: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	store, err := directory.NewStore(context.Background(), sqlite, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

// newTestCluster starts one pool per name, all sharing one directory
// and reaching each other over unix sockets. downNode is also a member.
func newTestCluster(t *testing.T, names ...session.Node) *testCluster {
	t.Helper()
	socketDir := testutil.SocketDir(t)
	store := newTestStore(t)

	addresses := map[session.Node]cluster.Address{
		downNode: {Network: "unix", Address: filepath.Join(socketDir, "down.sock")},
	}
	for _, name := range names {
		addresses[name] = cluster.Address{Network: "unix", Address: filepath.Join(socketDir, string(name)+".sock")}
	}

	tc := &testCluster{directory: store, nodes: make(map[session.Node]*testNode)}
	for _, name := range names {
		members, err := cluster.NewMembership(name, addresses)
		if err != nil {
			t.Fatalf("NewMembership: %v", err)
		}

		node := &testNode{
			name:       name,
			supervisor: actor.NewLocal(name),
			registry:   registry.New(),
		}
		node.pool = newTestPool(t, Config{
			Node:       name,
			Size:       4,
			Directory:  store,
			Supervisor: node.supervisor,
			Registry:   node.registry,
			Caller:     cluster.NewClient(members, cluster.WithCallTimeout(10*time.Second)),
		})
		t.Cleanup(func() { node.supervisor.Close(context.Background()) })

		server := cluster.NewServer(addresses[name], nil)
		RegisterPeerActions(server, node.supervisor)
		serve(t, server)

		tc.nodes[name] = node
	}
	return tc
}

func newTestPool(t *testing.T, config Config) *Pool {
	t.Helper()
	pool, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func serve(t *testing.T, server *cluster.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "server shutdown")
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")
}

func start(t *testing.T, node *testNode, cleanStart bool, clientID string) Result {
	t.Helper()
	result, err := node.pool.StartSession(context.Background(), Request{
		CleanStart: cleanStart,
		ClientID:   clientID,
		Username:   "u",
		Conn:       session.Handle{Node: node.name, ID: testutil.UniqueID("conn")},
	})
	if err != nil {
		t.Fatalf("StartSession(%v, %q) on %s: %v", cleanStart, clientID, node.name, err)
	}
	return result
}

func (tc *testCluster) requireOwner(t *testing.T, clientID string, want session.Handle) {
	t.Helper()
	record, err := tc.directory.Lookup(context.Background(), clientID)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", clientID, err)
	}
	if record.Owner != want {
		t.Fatalf("directory owner of %q = %s, want %s", clientID, record.Owner, want)
	}
}

func (tc *testCluster) requireAbsent(t *testing.T, clientID string) {
	t.Helper()
	if record, err := tc.directory.Lookup(context.Background(), clientID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Lookup(%q) = %+v, %v; want ErrNotFound", clientID, record, err)
	}
}

func TestResumeRemoteOwner(t *testing.T) {
	tc := newTestCluster(t, "node-a", "node-b")
	a, b := tc.nodes["node-a"], tc.nodes["node-b"]

	created := start(t, a, false, "c3")
	resumed := start(t, b, false, "c3")

	if !resumed.Resumed || resumed.Handle != created.Handle {
		t.Fatalf("remote resume = %+v, want resumed %s", resumed, created.Handle)
	}
	if handles := b.supervisor.Handles(); len(handles) != 0 {
		t.Errorf("resume started actors on node-b: %v", handles)
	}
	tc.requireOwner(t, "c3", created.Handle)
}

func TestCleanStartDestroysRemoteOwner(t *testing.T) {
	tc := newTestCluster(t, "node-a", "node-b")
	a, b := tc.nodes["node-a"], tc.nodes["node-b"]

	old := start(t, a, true, "c2")
	fresh := start(t, b, true, "c2")

	if fresh.Resumed || fresh.Handle.Node != "node-b" {
		t.Fatalf("clean start on node-b = %+v", fresh)
	}
	if a.supervisor.IsAlive(old.Handle) {
		t.Error("old owner on node-a still alive")
	}
	tc.requireOwner(t, "c2", fresh.Handle)

	testutil.Eventually(t, 5*time.Second, func() bool {
		return len(a.registry.Lookup("c2")) == 0
	}, "node-a registry entry for the destroyed owner")
	if entries := b.registry.Lookup("c2"); len(entries) != 1 || entries[0].Handle != fresh.Handle {
		t.Errorf("node-b registry = %+v", entries)
	}
}

func TestPersistentNodedownSelfHeal(t *testing.T) {
	tc := newTestCluster(t, "node-a")
	a := tc.nodes["node-a"]
	ctx := context.Background()

	stale := session.Record{ClientID: "c5", Owner: session.Handle{Node: downNode, ID: "gone"}, Persistent: true}
	if err := tc.directory.Insert(ctx, stale); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	_, err := a.pool.StartSession(ctx, Request{ClientID: "c5", Username: "u"})
	if !errors.Is(err, session.ErrSessionNodeDown) {
		t.Fatalf("StartSession = %v, want ErrSessionNodeDown", err)
	}
	tc.requireAbsent(t, "c5")

	result := start(t, a, false, "c5")
	if result.Resumed || result.Handle.Node != "node-a" {
		t.Fatalf("retry after nodedown = %+v, want a fresh local session", result)
	}
}

func TestCleanStartTreatsDownOwnerAsDestroyed(t *testing.T) {
	tc := newTestCluster(t, "node-a")
	a := tc.nodes["node-a"]

	stale := session.Record{ClientID: "c6", Owner: session.Handle{Node: downNode, ID: "gone"}}
	if err := tc.directory.Insert(context.Background(), stale); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	result := start(t, a, true, "c6")
	if result.Resumed || result.Handle.Node != "node-a" {
		t.Fatalf("clean start over a down owner = %+v", result)
	}
	tc.requireOwner(t, "c6", result.Handle)
}

func TestRemoteResumeErrorPropagates(t *testing.T) {
	tc := newTestCluster(t, "node-a", "node-b")
	a := tc.nodes["node-a"]
	ctx := context.Background()

	// node-b is up but has no such actor.
	ghost := session.Record{ClientID: "c7", Owner: session.Handle{Node: "node-b", ID: "ghost"}, Persistent: true}
	if err := tc.directory.Insert(ctx, ghost); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	_, err := a.pool.StartSession(ctx, Request{ClientID: "c7"})
	if !errors.Is(err, session.ErrSessionDied) {
		t.Fatalf("StartSession = %v, want the remote session_died", err)
	}
	var remote *cluster.RemoteError
	if !errors.As(err, &remote) || remote.Node != "node-b" {
		t.Errorf("error %v is not node-b's remote error", err)
	}
	tc.requireOwner(t, "c7", ghost.Owner)
}

func TestConcurrentCreatesOneWinner(t *testing.T) {
	const contenders = 4
	store := newTestStore(t)
	barrier := &barrierDirectory{Directory: store, contenders: contenders, release: make(chan struct{})}

	type outcome struct {
		node   *testNode
		result Result
		err    error
	}
	outcomes := make(chan outcome, contenders)
	for range contenders {
		name := session.Node(testutil.UniqueID("node"))
		node := &testNode{name: name, supervisor: actor.NewLocal(name), registry: registry.New()}
		node.pool = newTestPool(t, Config{
			Node:       name,
			Size:       2,
			Directory:  barrier,
			Supervisor: node.supervisor,
			Registry:   node.registry,
			Caller:     unreachableCaller{},
		})
		t.Cleanup(func() { node.supervisor.Close(context.Background()) })

		go func() {
			result, err := node.pool.StartSession(context.Background(), Request{ClientID: "contested", Username: "u"})
			outcomes <- outcome{node: node, result: result, err: err}
		}()
	}

	var winners int
	for range contenders {
		o := testutil.RequireReceive(t, outcomes, 10*time.Second, "waiting for contenders")
		switch {
		case o.err == nil:
			winners++
			record, err := store.Lookup(context.Background(), "contested")
			if err != nil || record.Owner != o.result.Handle {
				t.Errorf("winner %s not recorded: %+v, %v", o.result.Handle, record, err)
			}
		case errors.Is(o.err, session.ErrDirectoryConflict):
			var conflict *session.ConflictError
			if !errors.As(o.err, &conflict) {
				t.Errorf("directory conflict without the winner's record: %v", o.err)
			}
			if handles := o.node.supervisor.Handles(); len(handles) != 0 {
				t.Errorf("loser %s left actors running: %v", o.node.name, handles)
			}
			if len(o.node.registry.Entries()) != 0 {
				t.Errorf("loser %s registered a session", o.node.name)
			}
		default:
			t.Errorf("unexpected error: %v", o.err)
		}
	}
	if winners != 1 {
		t.Fatalf("%d creates succeeded, want exactly 1", winners)
	}
}

// barrierDirectory makes the first contenders lookups miss, and holds
// each one until all of them have arrived, so every insert races.
// Later lookups pass through.
type barrierDirectory struct {
	directory.Directory
	contenders int32
	arrived    atomic.Int32
	release    chan struct{}
}

func (b *barrierDirectory) Lookup(ctx context.Context, clientID string) (session.Record, error) {
	n := b.arrived.Add(1)
	if n > b.contenders {
		return b.Directory.Lookup(ctx, clientID)
	}
	if n == b.contenders {
		close(b.release)
	}
	<-b.release
	return session.Record{}, session.ErrNotFound
}

// unreachableCaller fails every call as if the node were down.
type unreachableCaller struct{}

func (unreachableCaller) Call(_ context.Context, node session.Node, _ string, _ map[string]any, _ any) error {
	return &cluster.NodeError{Node: node, Err: errors.New("unreachable")}
}

// scriptedCaller fails every call with err.
type scriptedCaller struct{ err error }

func (c scriptedCaller) Call(context.Context, session.Node, string, map[string]any, any) error {
	return c.err
}
