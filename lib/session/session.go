// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"

	"github.com/google/uuid"
)

// Node is the name of a cluster node, as configured in its
// membership table.
type Node string

// Handle locates a session actor (or a connection actor) in the
// cluster. IDs are UUIDs, unique across nodes and restarts, so a
// handle never refers to two different actors.
type Handle struct {
	Node Node   `json:"node"`
	ID   string `json:"id"`
}

// NewHandle returns a fresh handle for an actor hosted on node.
func NewHandle(node Node) Handle {
	return Handle{Node: node, ID: uuid.NewString()}
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool { return h.Node == "" && h.ID == "" }

// String formats the handle as "id@node".
func (h Handle) String() string {
	if h.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s@%s", h.ID, h.Node)
}

// Record is the directory entry for one client identifier.
type Record struct {
	ClientID   string `json:"client_id"`
	Owner      Handle `json:"owner"`
	Persistent bool   `json:"persistent"`
}

// Equal reports whether two records are identical in every field.
// Directory removal matches on this, so a newer record for the same
// client id is never deleted by a caller holding an older one.
func (r Record) Equal(other Record) bool {
	return r.ClientID == other.ClientID &&
		r.Owner == other.Owner &&
		r.Persistent == other.Persistent
}
