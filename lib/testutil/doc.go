// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Courier packages.
//
// [SocketDir] creates a short temporary directory for Unix domain
// sockets. RPC tests bind loopback servers there; t.TempDir() paths
// can exceed the 108-byte sun_path limit.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve so that a broken session actor or worker fails the test
// instead of hanging it.
//
// [UniqueID] generates distinct client identifiers for tests that share
// a directory.
//
// All helpers call t.Fatalf on failure.
package testutil
