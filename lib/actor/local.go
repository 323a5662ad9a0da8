// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package actor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/eapache/queue"

	"github.com/bureau-foundation/courier/lib/session"
)

// Delivery is what a MessageHandler receives: the message plus the
// session's state at the moment it was dequeued.
type Delivery struct {
	ClientID string
	Username string
	Handle   session.Handle
	Conn     session.Handle
	Message  Message
}

// MessageHandler processes one delivery on the session's goroutine.
// Calls for one session are sequential.
type MessageHandler func(Delivery)

// Local is a Supervisor whose actors are goroutines in this process.
type Local struct {
	node    session.Node
	handler MessageHandler
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*process
}

var _ Supervisor = (*Local)(nil)

// LocalOption configures a Local.
type LocalOption func(*Local)

// WithMessageHandler sets the handler for delivered messages. The
// default logs each delivery at debug level.
func WithMessageHandler(handler MessageHandler) LocalOption {
	return func(l *Local) { l.handler = handler }
}

// WithLogger sets the supervisor's logger.
func WithLogger(logger *slog.Logger) LocalOption {
	return func(l *Local) { l.logger = logger }
}

// NewLocal creates a supervisor for actors on node.
func NewLocal(node session.Node, options ...LocalOption) *Local {
	l := &Local{
		node:     node,
		logger:   slog.New(slog.DiscardHandler),
		sessions: make(map[string]*process),
	}
	for _, option := range options {
		option(l)
	}
	if l.handler == nil {
		logger := l.logger
		l.handler = func(delivery Delivery) {
			logger.Debug("message delivered",
				"client_id", delivery.ClientID,
				"actor", delivery.Handle.String(),
				"topic", delivery.Message.Topic,
				"bytes", len(delivery.Message.Payload),
			)
		}
	}
	return l
}

// Start spawns a session goroutine.
func (l *Local) Start(_ context.Context, spec StartSpec) (Process, error) {
	if spec.ClientID == "" {
		return nil, fmt.Errorf("actor: start: client id is required")
	}

	p := &process{
		handle:     session.NewHandle(l.node),
		clientID:   spec.ClientID,
		username:   spec.Username,
		persistent: spec.Persistent,
		conn:       spec.Conn,
		mailbox:    queue.New(),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	l.mu.Lock()
	l.sessions[p.handle.ID] = p
	l.mu.Unlock()

	go l.run(p)

	l.logger.Info("session actor started",
		"client_id", spec.ClientID,
		"actor", p.handle.String(),
		"persistent", spec.Persistent,
	)
	return p, nil
}

// Resume swaps the actor's connection. An actor that has been told to
// stop cannot be resumed, even before its goroutine exits.
func (l *Local) Resume(_ context.Context, handle session.Handle, clientID string, conn session.Handle) error {
	p, ok := l.lookup(handle)
	if !ok {
		return fmt.Errorf("actor: resume %s for %q: %w", handle, clientID, session.ErrSessionDied)
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("actor: resume %s for %q: stopped: %w", handle, clientID, session.ErrSessionDied)
	}
	previous := p.conn
	p.conn = conn
	p.mu.Unlock()

	l.logger.Info("session actor resumed",
		"client_id", clientID,
		"actor", handle.String(),
		"previous_conn", previous.String(),
		"conn", conn.String(),
	)
	return nil
}

// Destroy stops the actor and waits for its goroutine to exit or ctx
// to end.
func (l *Local) Destroy(ctx context.Context, handle session.Handle, clientID string) error {
	p, ok := l.lookup(handle)
	if !ok {
		return nil
	}
	p.terminate(false)

	select {
	case <-p.done:
	case <-ctx.Done():
		return fmt.Errorf("actor: destroy %s for %q: %w", handle, clientID, ctx.Err())
	}
	l.logger.Info("session actor destroyed", "client_id", clientID, "actor", handle.String())
	return nil
}

// Crash terminates the actor abnormally, as if its goroutine had
// failed. It does not wait for the exit. It reports whether the actor
// was running.
func (l *Local) Crash(handle session.Handle) bool {
	p, ok := l.lookup(handle)
	if !ok {
		return false
	}
	p.terminate(true)
	return true
}

// IsAlive reports whether handle names a running actor on this node.
func (l *Local) IsAlive(handle session.Handle) bool {
	p, ok := l.lookup(handle)
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stopped
}

// Process returns the running actor for handle.
func (l *Local) Process(handle session.Handle) (Process, bool) {
	p, ok := l.lookup(handle)
	if !ok {
		return nil, false
	}
	return p, true
}

// Handles returns the handles of every running actor, sorted by
// client id.
func (l *Local) Handles() []session.Handle {
	l.mu.Lock()
	processes := make([]*process, 0, len(l.sessions))
	for _, p := range l.sessions {
		processes = append(processes, p)
	}
	l.mu.Unlock()

	sort.Slice(processes, func(i, j int) bool {
		if processes[i].clientID != processes[j].clientID {
			return processes[i].clientID < processes[j].clientID
		}
		return processes[i].handle.ID < processes[j].handle.ID
	})
	handles := make([]session.Handle, len(processes))
	for i, p := range processes {
		handles[i] = p.handle
	}
	return handles
}

// Close destroys every actor.
func (l *Local) Close(ctx context.Context) error {
	l.mu.Lock()
	processes := make([]*process, 0, len(l.sessions))
	for _, p := range l.sessions {
		processes = append(processes, p)
	}
	l.mu.Unlock()

	for _, p := range processes {
		if err := l.Destroy(ctx, p.handle, p.clientID); err != nil {
			return err
		}
	}
	return nil
}

func (l *Local) lookup(handle session.Handle) (*process, bool) {
	if handle.Node != l.node {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.sessions[handle.ID]
	return p, ok
}

func (l *Local) run(p *process) {
	defer func() {
		l.mu.Lock()
		delete(l.sessions, p.handle.ID)
		l.mu.Unlock()

		p.mu.Lock()
		crashed := p.crashed
		dropped := p.mailbox.Length()
		p.mu.Unlock()
		if crashed {
			l.logger.Warn("session actor crashed",
				"client_id", p.clientID,
				"actor", p.handle.String(),
				"dropped_messages", dropped,
			)
		}
		close(p.done)
	}()

	for {
		select {
		case <-p.stop:
			return
		case <-p.wake:
		}

		for {
			p.mu.Lock()
			if p.stopped || p.mailbox.Length() == 0 {
				p.mu.Unlock()
				break
			}
			message := p.mailbox.Remove().(Message)
			delivery := Delivery{
				ClientID: p.clientID,
				Username: p.username,
				Handle:   p.handle,
				Conn:     p.conn,
				Message:  message,
			}
			p.mu.Unlock()

			l.handler(delivery)
		}
	}
}

type process struct {
	handle     session.Handle
	clientID   string
	username   string
	persistent bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	mu      sync.Mutex
	conn    session.Handle
	mailbox *queue.Queue
	stopped bool
	crashed bool
}

func (p *process) Handle() session.Handle { return p.handle }

func (p *process) ClientID() string { return p.clientID }

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Deliver(message Message) bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}
	p.mailbox.Add(message)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

func (p *process) terminate(crashed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	p.crashed = crashed
	close(p.stop)
}
