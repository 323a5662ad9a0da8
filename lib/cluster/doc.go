// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cluster provides the node-to-node RPC used by the session
// layer: a CBOR request/response [Server], a [Client] that addresses
// nodes by name through a static [Membership] table, and [Multicall]
// for fanning one action out to many nodes.
//
// # Protocol
//
// Each connection carries exactly one request and one response. The
// request is a CBOR map with an "action" field plus action-specific
// fields. The response is a [Response] envelope:
//
//	{ok: true, data: <cbor>}                 success
//	{ok: false, error: "...", code: "..."}   failure
//
// The optional code names a session sentinel error (see
// session.Code), so typed failures such as session_died keep their
// identity on the calling node.
//
// # Failure classes
//
// A call fails in one of three ways, and callers in the session
// manager treat them differently:
//
//   - The node could not be reached (unknown name, dial refused, dial
//     timeout): a *NodeError matching session.ErrNodeDown. Nothing ran
//     on the remote side.
//   - The node was reached but did not answer within the call timeout:
//     an error matching session.ErrTimeout. The action may or may not
//     have run.
//   - The node answered with ok=false: a *RemoteError, propagated to
//     the caller verbatim.
package cluster
