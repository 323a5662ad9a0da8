// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/courier/lib/cluster"
	"github.com/bureau-foundation/courier/lib/session"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "courier.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// validConfig returns the defaults with the one required field set.
func validConfig() *Config {
	cfg := Default()
	cfg.Node.Name = "node-a"
	cfg.Cluster.DirectoryNode = "node-a"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Node.Listen.Network != "tcp" || cfg.Node.Listen.Address != "127.0.0.1:7450" {
		t.Errorf("unexpected default listen address %+v", cfg.Node.Listen)
	}
	if cfg.Sessions.PoolSize != 8 {
		t.Errorf("expected pool_size=8, got %d", cfg.Sessions.PoolSize)
	}
	if cfg.Sessions.LockLease != 30*time.Second {
		t.Errorf("expected lock_lease=30s, got %s", cfg.Sessions.LockLease)
	}
	if cfg.Directory.Path != ":memory:" {
		t.Errorf("expected directory path :memory:, got %s", cfg.Directory.Path)
	}
}

func TestLoad_RequiresCourierConfig(t *testing.T) {
	t.Setenv(EnvVar, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when COURIER_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "COURIER_CONFIG environment variable not set") {
		t.Errorf("unexpected error message %q", err.Error())
	}
}

func TestLoad_WithCourierConfig(t *testing.T) {
	path := writeConfig(t, `
environment: staging
node:
  name: node-a
`)
	t.Setenv(EnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Node.Name != "node-a" {
		t.Errorf("expected node name node-a, got %s", cfg.Node.Name)
	}
	// Unset values keep their defaults.
	if cfg.Sessions.PoolSize != 8 {
		t.Errorf("expected default pool_size=8, got %d", cfg.Sessions.PoolSize)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
node:
  name: node-b
  listen:
    network: tcp
    address: 10.0.0.2:7450
cluster:
  directory_node: node-a
  call_timeout: 10s
  peers:
    - name: node-a
      address:
        network: tcp
        address: 10.0.0.1:7450
    - name: node-c
      address:
        network: unix
        address: /run/courier/node-c.sock
sessions:
  pool_size: 16
  lock_lease: 1m
  lock_acquire_timeout: 2s
  lock_retry_interval: 50ms
log:
  level: debug
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}

	if cfg.Cluster.CallTimeout != 10*time.Second {
		t.Errorf("expected call_timeout=10s, got %s", cfg.Cluster.CallTimeout)
	}
	if len(cfg.Cluster.Peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(cfg.Cluster.Peers))
	}
	if cfg.Cluster.Peers[1].Address.Network != "unix" {
		t.Errorf("expected node-c on unix, got %+v", cfg.Cluster.Peers[1].Address)
	}
	if cfg.Sessions.PoolSize != 16 || cfg.Sessions.LockLease != time.Minute {
		t.Errorf("sessions not loaded: %+v", cfg.Sessions)
	}
	if cfg.Sessions.LockRetryInterval != 50*time.Millisecond {
		t.Errorf("expected lock_retry_interval=50ms, got %s", cfg.Sessions.LockRetryInterval)
	}
	if cfg.IsDirectoryNode() {
		t.Error("node-b should not be the directory node")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
}

func TestLoadFile_DirectoryNodeDefaultsToSelf(t *testing.T) {
	path := writeConfig(t, "node:\n  name: solo\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Cluster.DirectoryNode != "solo" || !cfg.IsDirectoryNode() {
		t.Errorf("expected solo to host the directory, got %q", cfg.Cluster.DirectoryNode)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestLoadFile_Malformed(t *testing.T) {
	path := writeConfig(t, "node: [unclosed\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: staging
node:
  name: node-a
sessions:
  pool_size: 4
staging:
  sessions:
    pool_size: 32
    lock_lease: 5s
  directory:
    path: /var/lib/courier/sessions.db
production:
  sessions:
    pool_size: 64
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Sessions.PoolSize != 32 {
		t.Errorf("expected staging pool_size=32, got %d", cfg.Sessions.PoolSize)
	}
	if cfg.Sessions.LockLease != 5*time.Second {
		t.Errorf("expected staging lock_lease=5s, got %s", cfg.Sessions.LockLease)
	}
	// Fields the override leaves out keep the base value.
	if cfg.Sessions.LockRetryInterval != 100*time.Millisecond {
		t.Errorf("expected lock_retry_interval unchanged, got %s", cfg.Sessions.LockRetryInterval)
	}
	if cfg.Directory.Path != "/var/lib/courier/sessions.db" {
		t.Errorf("expected staging directory path, got %s", cfg.Directory.Path)
	}
}

func TestProductionDefaultsToJSONLogs(t *testing.T) {
	path := writeConfig(t, "environment: production\nnode:\n  name: node-a\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected json log format in production, got %s", cfg.Log.Format)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/courier",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/courier",
		},
		{
			input:    "${COURIER_TEST_MISSING:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "/run/courier/${COURIER_NODE}.sock",
			vars:     map[string]string{"COURIER_NODE": "node-a"},
			expected: "/run/courier/node-a.sock",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestExpandVariables_UnixListen(t *testing.T) {
	path := writeConfig(t, `
node:
  name: node-a
  listen:
    network: unix
    address: /run/courier/${COURIER_NODE}.sock
directory:
  path: ${COURIER_TEST_DATA:-/tmp}/sessions.db
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Node.Listen.Address != "/run/courier/node-a.sock" {
		t.Errorf("unexpected listen address %s", cfg.Node.Listen.Address)
	}
	if cfg.Directory.Path != "/tmp/sessions.db" {
		t.Errorf("unexpected directory path %s", cfg.Directory.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid environment",
			modify: func(c *Config) {
				c.Environment = "invalid"
			},
			wantErr: true,
		},
		{
			name: "missing node name",
			modify: func(c *Config) {
				c.Node.Name = ""
				c.Cluster.DirectoryNode = ""
			},
			wantErr: true,
		},
		{
			name: "bad listen network",
			modify: func(c *Config) {
				c.Node.Listen.Network = "udp"
			},
			wantErr: true,
		},
		{
			name: "duplicate peer",
			modify: func(c *Config) {
				c.Cluster.Peers = []PeerConfig{{
					Name:    "node-a",
					Address: cluster.Address{Network: "tcp", Address: "10.0.0.1:7450"},
				}}
			},
			wantErr: true,
		},
		{
			name: "directory node not a member",
			modify: func(c *Config) {
				c.Cluster.DirectoryNode = "elsewhere"
			},
			wantErr: true,
		},
		{
			name: "zero lock lease",
			modify: func(c *Config) {
				c.Sessions.LockLease = 0
			},
			wantErr: true,
		},
		{
			name: "zero pool size",
			modify: func(c *Config) {
				c.Sessions.PoolSize = 0
			},
			wantErr: true,
		},
		{
			name: "single-attempt lock",
			modify: func(c *Config) {
				c.Sessions.LockAcquireTimeout = 0
			},
			wantErr: false,
		},
		{
			name: "unknown log format",
			modify: func(c *Config) {
				c.Log.Format = "xml"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMembership(t *testing.T) {
	cfg := validConfig()
	cfg.Cluster.Peers = []PeerConfig{
		{Name: "node-b", Address: cluster.Address{Network: "tcp", Address: "10.0.0.2:7450"}},
	}

	members, err := cfg.Membership()
	if err != nil {
		t.Fatalf("Membership() failed: %v", err)
	}
	if members.Local() != "node-a" {
		t.Errorf("expected local node-a, got %s", members.Local())
	}
	peers := members.Peers()
	if len(peers) != 1 || peers[0] != session.Node("node-b") {
		t.Errorf("expected peers [node-b], got %v", peers)
	}
	address, ok := members.Address("node-b")
	if !ok || address.Address != "10.0.0.2:7450" {
		t.Errorf("unexpected node-b address %+v", address)
	}
}
