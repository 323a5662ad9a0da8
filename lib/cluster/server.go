// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/courier/lib/codec"
	"github.com/bureau-foundation/courier/lib/netutil"
	"github.com/bureau-foundation/courier/lib/session"
)

// ActionFunc processes one request. raw is the full CBOR request
// (including "action"); the handler decodes its own fields from it.
//
// A nil result produces {ok: true}. A non-nil result is CBOR-encoded
// into the response's data field. A returned error produces
// {ok: false} with the error text and its session code.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the wire envelope for every response.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Code  string           `cbor:"code,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// Server serves the request/response protocol on one listener.
// Register actions with Handle before calling Serve.
type Server struct {
	address  Address
	handlers map[string]ActionFunc
	logger   *slog.Logger

	ready     chan struct{}
	boundAddr net.Addr

	activeConnections sync.WaitGroup
}

// NewServer creates a server that will listen on address.
func NewServer(address Address, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if address.Network == "" {
		address.Network = "tcp"
	}
	return &Server{
		address:  address,
		handlers: make(map[string]ActionFunc),
		logger:   logger,
		ready:    make(chan struct{}),
	}
}

// Handle registers a handler for action. Panics on a duplicate.
func (s *Server) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("cluster.Server: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address. Valid after Ready is closed; useful
// when listening on "127.0.0.1:0".
func (s *Server) Addr() net.Addr { return s.boundAddr }

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight handlers to finish. For unix sockets a stale socket file is
// removed before listening and the file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if s.address.Network == "unix" {
		if err := os.Remove(s.address.Address); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale socket %s: %w", s.address.Address, err)
		}
	}

	listener, err := net.Listen(s.address.Network, s.address.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	defer func() {
		listener.Close()
		if s.address.Network == "unix" {
			os.Remove(s.address.Address)
		}
	}()

	s.boundAddr = listener.Addr()
	close(s.ready)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("rpc server listening", "address", s.boundAddr.String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// readTimeout bounds how long the client may take to send its request.
const readTimeout = 30 * time.Second

// writeTimeout bounds writing the response.
const writeTimeout = 10 * time.Second

// maxRequestSize is the maximum size of a single request. Session
// actions are a few hundred bytes; dispatch payloads are the largest.
const maxRequestSize = 1024 * 1024

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if netutil.IsExpectedCloseError(err) {
			return
		}
		s.writeError(conn, fmt.Errorf("invalid request: %w", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Errorf("invalid request: %w", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, errors.New("missing required field: action"))
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.logger.Warn("unexpected request", "action", header.Action)
		s.writeError(conn, fmt.Errorf("%w: unknown action %q", session.ErrUnexpectedRequest, header.Action))
		return
	}

	// The handler may block for as long as a manager worker call.
	conn.SetReadDeadline(time.Time{})

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed", "action", header.Action, "error", err)
		s.writeError(conn, err)
		return
	}
	s.writeSuccess(conn, result)
}

func (s *Server) writeError(conn net.Conn, err error) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if encodeErr := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Error: err.Error(),
		Code:  session.Code(err),
	}); encodeErr != nil && !netutil.IsExpectedCloseError(encodeErr) {
		s.logger.Warn("failed to write error response", "error", encodeErr)
	}
}

func (s *Server) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Errorf("internal: marshaling response: %w", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil && !netutil.IsExpectedCloseError(err) {
		s.logger.Warn("failed to write success response", "error", err)
	}
}

// Decode unmarshals an action's raw request into its typed request
// struct, mapping decode failures to a handler error.
func Decode(raw []byte, request any) error {
	if err := codec.Unmarshal(raw, request); err != nil {
		return fmt.Errorf("invalid request fields: %w", err)
	}
	return nil
}
