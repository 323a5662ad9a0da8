// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for Courier binaries:
// reporting a fatal error before the structured logger exists, and
// mapping run() errors to exit codes.
package process
