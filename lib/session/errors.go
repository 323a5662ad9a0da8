// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by directory lookups for an unknown
	// client id.
	ErrNotFound = errors.New("session not found")

	// ErrConflict is returned by a directory insert when a record for
	// the client id already exists. The concrete error is a
	// *ConflictError naming the existing owner.
	ErrConflict = errors.New("conflict")

	// ErrDirectoryConflict is returned by a manager worker whose
	// create lost the insert race to another node. It is never
	// retried inside the worker.
	ErrDirectoryConflict = errors.New("directory_conflict")

	// ErrClientIDUnavailable is returned when the per-client lock could
	// not be acquired. Callers may retry.
	ErrClientIDUnavailable = errors.New("client_id_unavailable")

	// ErrSessionDied is returned when the directory names a local owner
	// that is no longer alive and crash cleanup has not run yet.
	ErrSessionDied = errors.New("session_died")

	// ErrSessionNodeDown is returned when the directory owner's node is
	// unreachable. The stale record has already been removed when the
	// caller sees this; resubmitting creates a fresh session.
	ErrSessionNodeDown = errors.New("session_nodedown")

	// ErrNodeDown is the transport-level failure to reach a node.
	ErrNodeDown = errors.New("nodedown")

	// ErrTimeout is returned when a blocking call exceeds its deadline.
	// The operation may still complete; look the session up to learn
	// the final state.
	ErrTimeout = errors.New("timeout")

	// ErrUnexpectedRequest is returned for requests a component does
	// not understand.
	ErrUnexpectedRequest = errors.New("unexpected_request")
)

// ConflictError reports a lost directory insert.
type ConflictError struct {
	Existing Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: client %q already owned by %s", e.Existing.ClientID, e.Existing.Owner)
}

// Unwrap lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Unwrap() error { return ErrConflict }

// codes maps wire codes to sentinels. The code is the sentinel's text.
var codes = map[string]error{}

func init() {
	for _, sentinel := range []error{
		ErrNotFound,
		ErrConflict,
		ErrDirectoryConflict,
		ErrClientIDUnavailable,
		ErrSessionDied,
		ErrSessionNodeDown,
		ErrNodeDown,
		ErrTimeout,
		ErrUnexpectedRequest,
	} {
		codes[sentinel.Error()] = sentinel
	}
}

// Code returns the wire code of the first sentinel in err's chain, or
// "" if err carries none.
func Code(err error) string {
	if err == nil {
		return ""
	}
	// Most specific first: a directory conflict wraps a plain conflict.
	for _, sentinel := range []error{
		ErrDirectoryConflict,
		ErrSessionNodeDown,
		ErrSessionDied,
		ErrClientIDUnavailable,
		ErrConflict,
		ErrNotFound,
		ErrNodeDown,
		ErrTimeout,
		ErrUnexpectedRequest,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}

// FromCode returns the sentinel for code, or nil for an unknown or
// empty code.
func FromCode(code string) error {
	return codes[code]
}
