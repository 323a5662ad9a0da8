// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for courier
// nodes.
//
// Configuration is loaded from a single file specified by either the
// COURIER_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search.
//
// The file describes one node: its name and listen address, the other
// cluster members, which member hosts the session directory and lock
// table, and the session manager's pool and timeout settings.
//
// Environment-specific sections (development, staging, production)
// override base values when [Config].Environment matches. Production
// without an explicit section logs JSON regardless of the terminal.
//
// ${VAR} and ${VAR:-default} patterns are expanded in the directory
// path and in unix socket addresses.
package config
