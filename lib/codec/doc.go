// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Courier's standard CBOR encoding configuration.
//
// Every node-to-node protocol in Courier is CBOR: peer session actions
// (resume, destroy, discard), directory and lock requests sent to the
// directory node, and operator requests from the courier CLI. This
// package holds the one encoder and decoder configuration those paths
// share, so that a record encoded on one node decodes identically on
// every other node.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
//
// For buffer-oriented operations (request fields, response data):
//
//	data, err := codec.Marshal(record)
//	err = codec.Unmarshal(data, &record)
//
// For stream-oriented operations (RPC connections):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tags
//
// Types that only cross the node RPC boundary use `cbor` tags. Types
// that the CLI also prints as JSON (session records, local registry
// entries) use `json` tags, which fxamacker/cbor reads as a fallback.
// Never put both tags on the same field.
package codec
