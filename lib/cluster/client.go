// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/courier/lib/codec"
	"github.com/bureau-foundation/courier/lib/netutil"
	"github.com/bureau-foundation/courier/lib/session"
)

// DefaultCallTimeout bounds a remote call from dial to response. It
// matches the manager's worker call timeout: a remote resume runs a
// full worker call on the peer.
const DefaultCallTimeout = 2 * time.Minute

// dialTimeout covers only the connect phase. A node that cannot accept
// a connection within it is treated as down.
const dialTimeout = 5 * time.Second

// maxResponseSize matches the server's maxRequestSize.
const maxResponseSize = 1024 * 1024

// NodeError reports that a node could not be reached. It matches
// session.ErrNodeDown.
type NodeError struct {
	Node session.Node
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s down: %v", e.Node, e.Err)
}

// Unwrap exposes both the nodedown sentinel and the underlying cause.
func (e *NodeError) Unwrap() []error { return []error{session.ErrNodeDown, e.Err} }

// RemoteError is a failure reported by the remote handler. If the
// remote error carried a session code, RemoteError unwraps to that
// sentinel.
type RemoteError struct {
	Node    session.Node
	Action  string
	Message string
	Code    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s on %s: %s", e.Action, e.Node, e.Message)
}

// Unwrap returns the sentinel named by Code, or nil.
func (e *RemoteError) Unwrap() error { return session.FromCode(e.Code) }

// Caller is the call surface the session layer depends on. *Client
// implements it; tests substitute in-memory fakes.
type Caller interface {
	Call(ctx context.Context, node session.Node, action string, fields map[string]any, result any) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client sends requests to nodes by name. Each Call opens a new
// connection, matching the server's one-request-per-connection model.
// Client is safe for concurrent use.
type Client struct {
	members *Membership
	timeout time.Duration
}

// NewClient creates a client resolving node names through members.
func NewClient(members *Membership, options ...ClientOption) *Client {
	client := &Client{members: members, timeout: DefaultCallTimeout}
	for _, option := range options {
		option(client)
	}
	return client
}

// Membership returns the client's node table.
func (c *Client) Membership() *Membership { return c.members }

// Call sends action with fields to node and decodes the response data
// into result (if both are non-nil). The caller must not put an
// "action" key in fields.
func (c *Client) Call(ctx context.Context, node session.Node, action string, fields map[string]any, result any) error {
	address, ok := c.members.Address(node)
	if !ok {
		return &NodeError{Node: node, Err: errors.New("not a cluster member")}
	}

	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	response, err := c.send(ctx, node, address, request)
	if err != nil {
		return err
	}

	if !response.OK {
		return &RemoteError{
			Node:    node,
			Action:  action,
			Message: response.Error,
			Code:    response.Code,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q from %s: %w", action, node, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, node session.Node, address Address, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, address.Network, address.Address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextError(ctx, node)
		}
		return nil, &NodeError{Node: node, Err: err}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	// Unblock reads if the caller gives up early.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		if ctx.Err() != nil {
			return nil, contextError(ctx, node)
		}
		if netutil.IsExpectedCloseError(err) {
			return nil, &NodeError{Node: node, Err: err}
		}
		return nil, fmt.Errorf("writing request to %s: %w", node, err)
	}

	switch typed := conn.(type) {
	case *net.UnixConn:
		typed.CloseWrite()
	case *net.TCPConn:
		typed.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		if ctx.Err() != nil {
			return nil, contextError(ctx, node)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("waiting for %s: %w", node, session.ErrTimeout)
		}
		// The peer hung up without answering: it died mid-call.
		if netutil.IsExpectedCloseError(err) {
			return nil, &NodeError{Node: node, Err: err}
		}
		return nil, fmt.Errorf("reading response from %s: %w", node, err)
	}
	return &response, nil
}

func contextError(ctx context.Context, node session.Node) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("waiting for %s: %w", node, session.ErrTimeout)
	}
	return fmt.Errorf("call to %s: %w", node, ctx.Err())
}

// IsNodeDown reports whether err says node itself could not be
// reached. A remote failure that merely carries the nodedown code (a
// peer that could not reach a third node) does not count.
func IsNodeDown(err error, node session.Node) bool {
	var nodeErr *NodeError
	return errors.As(err, &nodeErr) && nodeErr.Node == node
}
