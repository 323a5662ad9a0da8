// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/courier/lib/actor"
	"github.com/bureau-foundation/courier/lib/clock"
	"github.com/bureau-foundation/courier/lib/cluster"
	"github.com/bureau-foundation/courier/lib/directory"
	"github.com/bureau-foundation/courier/lib/registry"
	"github.com/bureau-foundation/courier/lib/session"
)

// DefaultCallTimeout bounds a call into a worker.
const DefaultCallTimeout = 2 * time.Minute

// DefaultSize is the worker count when Config.Size is zero.
const DefaultSize = 8

// inboxSize is the buffer of each worker's inbox. Senders block when it
// is full; crash notifications give up only when the pool closes.
const inboxSize = 64

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("manager: pool closed")

// Config configures a Pool.
type Config struct {
	// Node is this node's name. Required.
	Node session.Node

	// Size is the number of workers.
	Size int

	Directory  directory.Directory
	Supervisor actor.Supervisor
	Registry   *registry.Registry

	// Caller reaches peer nodes for remote resume and destroy.
	Caller cluster.Caller

	Clock       clock.Clock
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Request is one connection's claim on a client id.
type Request struct {
	CleanStart bool
	ClientID   string
	Username   string

	// Conn is the connection actor taking over the session.
	Conn session.Handle
}

// Result is the outcome of a successful StartSession.
type Result struct {
	Handle  session.Handle `cbor:"handle" json:"handle"`
	Resumed bool           `cbor:"resumed" json:"resumed"`
}

// Monitor describes one monitored actor.
type Monitor struct {
	Ref      uint64
	ClientID string
	Handle   session.Handle
}

// Pool is the worker pool for one node.
type Pool struct {
	node        session.Node
	directory   directory.Directory
	supervisor  actor.Supervisor
	registry    *registry.Registry
	caller      cluster.Caller
	clock       clock.Clock
	callTimeout time.Duration
	logger      *slog.Logger

	workers []*worker
	nextRef atomic.Uint64

	// ctx bounds the work a worker does on behalf of a caller. It is
	// independent of the caller's context: a caller that gives up does
	// not abort a half-finished decision.
	ctx     context.Context
	cancel  context.CancelFunc
	closing chan struct{}
	group   sync.WaitGroup

	closeOnce sync.Once
}

// New starts a pool of workers.
func New(config Config) (*Pool, error) {
	if config.Node == "" {
		return nil, fmt.Errorf("manager: Node is required")
	}
	if config.Directory == nil || config.Supervisor == nil || config.Registry == nil || config.Caller == nil {
		return nil, fmt.Errorf("manager: Directory, Supervisor, Registry and Caller are required")
	}
	if config.Size < 0 {
		return nil, fmt.Errorf("manager: negative pool size %d", config.Size)
	}
	if config.Size == 0 {
		config.Size = DefaultSize
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := &Pool{
		node:        config.Node,
		directory:   config.Directory,
		supervisor:  config.Supervisor,
		registry:    config.Registry,
		caller:      config.Caller,
		clock:       config.Clock,
		callTimeout: config.CallTimeout,
		logger:      config.Logger,
		ctx:         ctx,
		cancel:      cancel,
		closing:     make(chan struct{}),
	}

	pool.workers = make([]*worker, config.Size)
	for index := range pool.workers {
		w := &worker{
			pool:     pool,
			index:    index,
			inbox:    make(chan any, inboxSize),
			monitors: make(map[uint64]*monitor),
			logger:   config.Logger.With("worker", index),
		}
		pool.workers[index] = w
		pool.group.Add(1)
		go func() {
			defer pool.group.Done()
			w.run()
		}()
	}
	return pool, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Index returns the worker responsible for clientID.
func (p *Pool) Index(clientID string) int {
	return shardIndex(clientID, len(p.workers))
}

func shardIndex(clientID string, size int) int {
	sum := blake3.Sum256([]byte(clientID))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(size))
}

// StartSession runs the create/resume/destroy decision for request on
// its worker. If the worker does not answer within the call timeout it
// returns session.ErrTimeout; the decision may still complete, and a
// directory lookup is the only way to learn the outcome.
func (p *Pool) StartSession(ctx context.Context, request Request) (Result, error) {
	if request.ClientID == "" {
		return Result{}, fmt.Errorf("manager: client id is required")
	}
	reply := make(chan startReply, 1)
	message := startMessage{request: request, reply: reply}

	var answer startReply
	if err := call[startReply](ctx, p, request.ClientID, message, reply, &answer); err != nil {
		return Result{}, err
	}
	return answer.result, answer.err
}

// Discard destroys every actor this node's worker created for
// clientID and removes the directory records naming them. It returns
// the number of actors discarded.
func (p *Pool) Discard(ctx context.Context, clientID string) (int, error) {
	reply := make(chan discardReply, 1)
	message := discardMessage{clientID: clientID, reply: reply}

	var answer discardReply
	if err := call[discardReply](ctx, p, clientID, message, reply, &answer); err != nil {
		return 0, err
	}
	return answer.discarded, answer.err
}

// Monitors returns every monitored actor across all workers, in worker
// order.
func (p *Pool) Monitors(ctx context.Context) ([]Monitor, error) {
	var all []Monitor
	for _, w := range p.workers {
		reply := make(chan []Monitor, 1)
		var monitors []Monitor
		if err := send[[]Monitor](ctx, p, w, monitorsMessage{reply: reply}, reply, &monitors); err != nil {
			return nil, err
		}
		all = append(all, monitors...)
	}
	return all, nil
}

// Close stops every worker and releases every monitor. Actors keep
// running; the supervisor owns their lifetime.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closing)
		p.cancel()
		p.group.Wait()
	})
}

func call[T any](ctx context.Context, p *Pool, clientID string, message any, reply <-chan T, answer *T) error {
	return send[T](ctx, p, p.workers[p.Index(clientID)], message, reply, answer)
}

// send posts message to w and waits for its reply, both bounded by the
// pool's call timeout.
func send[T any](ctx context.Context, p *Pool, w *worker, message any, reply <-chan T, answer *T) error {
	timeout := p.clock.After(p.callTimeout)

	select {
	case w.inbox <- message:
	case <-timeout:
		return fmt.Errorf("manager: worker %d inbox full: %w", w.index, session.ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closing:
		return ErrClosed
	}

	select {
	case *answer = <-reply:
		return nil
	case <-timeout:
		return fmt.Errorf("manager: worker %d did not answer within %v: %w", w.index, p.callTimeout, session.ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closing:
		return ErrClosed
	}
}
