// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for the courier operator tool:
// a tree of [Command] values with pflag-based flags, typo suggestions
// for unknown commands and flags, --json output, and styled tables.
package cli
