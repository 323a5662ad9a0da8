// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/courier/lib/cluster"
	"github.com/bureau-foundation/courier/lib/session"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// EnvVar names the environment variable Load reads.
const EnvVar = "COURIER_CONFIG"

// Config is the configuration of one courier node.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	Node      NodeConfig      `yaml:"node"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Directory DirectoryConfig `yaml:"directory"`
	Log       LogConfig       `yaml:"log"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Sessions  *SessionsConfig  `yaml:"sessions,omitempty"`
	Directory *DirectoryConfig `yaml:"directory,omitempty"`
	Log       *LogConfig       `yaml:"log,omitempty"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	// Name is this node's cluster name. Required.
	Name string `yaml:"name"`

	// Listen is where this node serves peer and operator RPC.
	// Default: tcp 127.0.0.1:7450
	Listen cluster.Address `yaml:"listen"`
}

// ClusterConfig lists the other members.
type ClusterConfig struct {
	// Peers are the other nodes. Every node must list the same set.
	Peers []PeerConfig `yaml:"peers"`

	// DirectoryNode hosts the session directory and lock table.
	// Default: this node.
	DirectoryNode string `yaml:"directory_node"`

	// CallTimeout bounds one RPC to a peer.
	// Default: 2m
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// PeerConfig is one other node. An empty network means tcp.
type PeerConfig struct {
	Name    string          `yaml:"name"`
	Address cluster.Address `yaml:"address"`
}

// SessionsConfig configures the session manager and cluster lock.
type SessionsConfig struct {
	// PoolSize is the number of manager workers.
	// Default: 8
	PoolSize int `yaml:"pool_size"`

	// CallTimeout bounds a call into a worker.
	// Default: 2m
	CallTimeout time.Duration `yaml:"call_timeout"`

	// LockLease is the TTL of a cluster lock lease. Held leases are
	// renewed every third of it.
	// Default: 30s
	LockLease time.Duration `yaml:"lock_lease"`

	// LockAcquireTimeout bounds retries on a contended lock. Zero
	// means a single attempt.
	// Default: 5s
	LockAcquireTimeout time.Duration `yaml:"lock_acquire_timeout"`

	// LockRetryInterval is the sleep between lock attempts.
	// Default: 100ms
	LockRetryInterval time.Duration `yaml:"lock_retry_interval"`
}

// DirectoryConfig configures the session directory store. It only
// applies on the directory node.
type DirectoryConfig struct {
	// Path is the SQLite database path. The table is emptied on start
	// whatever the path.
	// Default: :memory:
	Path string `yaml:"path"`

	// PoolSize is the number of SQLite connections. Ignored for
	// :memory:.
	// Default: 4
	PoolSize int `yaml:"pool_size"`
}

// LogConfig configures the daemon's logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	// Default: info
	Level string `yaml:"level"`

	// Format is auto (text on a terminal, JSON otherwise), text or json.
	// Default: auto
	Format string `yaml:"format"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	return &Config{
		Environment: Development,
		Node: NodeConfig{
			Listen: cluster.Address{Network: "tcp", Address: "127.0.0.1:7450"},
		},
		Cluster: ClusterConfig{
			CallTimeout: 2 * time.Minute,
		},
		Sessions: SessionsConfig{
			PoolSize:           8,
			CallTimeout:        2 * time.Minute,
			LockLease:          30 * time.Second,
			LockAcquireTimeout: 5 * time.Second,
			LockRetryInterval:  100 * time.Millisecond,
		},
		Directory: DirectoryConfig{
			Path:     ":memory:",
			PoolSize: 4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the COURIER_CONFIG environment variable.
// There are no fallbacks: if COURIER_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your courier.yaml config file, or use --config flag", EnvVar)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	if cfg.Cluster.DirectoryNode == "" {
		cfg.Cluster.DirectoryNode = cfg.Node.Name
	}

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: logs go to a collector.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Log: &LogConfig{Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Sessions != nil {
		if overrides.Sessions.PoolSize != 0 {
			c.Sessions.PoolSize = overrides.Sessions.PoolSize
		}
		if overrides.Sessions.CallTimeout != 0 {
			c.Sessions.CallTimeout = overrides.Sessions.CallTimeout
		}
		if overrides.Sessions.LockLease != 0 {
			c.Sessions.LockLease = overrides.Sessions.LockLease
		}
		if overrides.Sessions.LockAcquireTimeout != 0 {
			c.Sessions.LockAcquireTimeout = overrides.Sessions.LockAcquireTimeout
		}
		if overrides.Sessions.LockRetryInterval != 0 {
			c.Sessions.LockRetryInterval = overrides.Sessions.LockRetryInterval
		}
	}

	if overrides.Directory != nil {
		if overrides.Directory.Path != "" {
			c.Directory.Path = overrides.Directory.Path
		}
		if overrides.Directory.PoolSize != 0 {
			c.Directory.PoolSize = overrides.Directory.PoolSize
		}
	}

	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":         os.Getenv("HOME"),
		"COURIER_NODE": c.Node.Name,
	}

	c.Directory.Path = expandVars(c.Directory.Path, vars)
	if c.Node.Listen.Network == "unix" {
		c.Node.Listen.Address = expandVars(c.Node.Listen.Address, vars)
	}
	for i := range c.Cluster.Peers {
		if c.Cluster.Peers[i].Address.Network == "unix" {
			c.Cluster.Peers[i].Address.Address = expandVars(c.Cluster.Peers[i].Address.Address, vars)
		}
	}
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Node.Name == "" {
		errs = append(errs, fmt.Errorf("node.name is required"))
	}
	errs = append(errs, validateAddress("node.listen", c.Node.Listen)...)

	names := map[string]bool{c.Node.Name: true}
	for i, peer := range c.Cluster.Peers {
		field := fmt.Sprintf("cluster.peers[%d]", i)
		if peer.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", field))
		} else if names[peer.Name] {
			errs = append(errs, fmt.Errorf("%s.name %q is not unique", field, peer.Name))
		}
		names[peer.Name] = true
		errs = append(errs, validateAddress(field+".address", peer.Address)...)
	}

	if c.Cluster.DirectoryNode != "" && !names[c.Cluster.DirectoryNode] {
		errs = append(errs, fmt.Errorf("cluster.directory_node %q is not a cluster member", c.Cluster.DirectoryNode))
	}
	if c.Cluster.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("cluster.call_timeout must be positive"))
	}

	if c.Sessions.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("sessions.pool_size must be positive"))
	}
	if c.Sessions.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sessions.call_timeout must be positive"))
	}
	if c.Sessions.LockLease <= 0 {
		errs = append(errs, fmt.Errorf("sessions.lock_lease must be positive"))
	}
	if c.Sessions.LockAcquireTimeout < 0 {
		errs = append(errs, fmt.Errorf("sessions.lock_acquire_timeout must not be negative"))
	}
	if c.Sessions.LockRetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("sessions.lock_retry_interval must be positive"))
	}

	if c.Directory.Path == "" {
		errs = append(errs, fmt.Errorf("directory.path is required"))
	}
	if c.Directory.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("directory.pool_size must not be negative"))
	}

	if !contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error"))
	}
	if !contains([]string{"auto", "text", "json"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: auto, text, json"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateAddress(field string, address cluster.Address) []error {
	var errs []error
	if address.Network != "" && address.Network != "tcp" && address.Network != "unix" {
		errs = append(errs, fmt.Errorf("%s.network must be tcp or unix, got %q", field, address.Network))
	}
	if address.Address == "" {
		errs = append(errs, fmt.Errorf("%s.address is required", field))
	}
	return errs
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

// IsDirectoryNode reports whether this node hosts the directory.
func (c *Config) IsDirectoryNode() bool {
	return c.Cluster.DirectoryNode == c.Node.Name
}

// Membership builds the cluster table: this node plus every peer.
func (c *Config) Membership() (*cluster.Membership, error) {
	addresses := map[session.Node]cluster.Address{
		session.Node(c.Node.Name): c.Node.Listen,
	}
	for _, peer := range c.Cluster.Peers {
		addresses[session.Node(peer.Name)] = peer.Address
	}
	return cluster.NewMembership(session.Node(c.Node.Name), addresses)
}
