// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/courier/lib/cluster"
	"github.com/bureau-foundation/courier/lib/session"
)

// AddressEnvVar overrides the default node address.
const AddressEnvVar = "COURIER_ADDRESS"

const defaultAddress = "127.0.0.1:7450"

// targetNode is the name the CLI gives the node it talks to. The
// membership table exists only to route the one call.
const targetNode session.Node = "target"

// connection holds the flags every remote command shares.
type connection struct {
	Address string
	Timeout time.Duration
}

func (c *connection) addFlags(flagSet *pflag.FlagSet) {
	address := os.Getenv(AddressEnvVar)
	if address == "" {
		address = defaultAddress
	}
	flagSet.StringVar(&c.Address, "address", address, "courierd address, host:port or unix:///path (env "+AddressEnvVar+")")
	flagSet.DurationVar(&c.Timeout, "timeout", 30*time.Second, "RPC timeout")
}

// parseAddress accepts host:port, tcp://host:port, or unix:///path.
func parseAddress(raw string) (cluster.Address, error) {
	switch {
	case raw == "":
		return cluster.Address{}, fmt.Errorf("--address is required")
	case strings.HasPrefix(raw, "unix://"):
		path := strings.TrimPrefix(raw, "unix://")
		if path == "" {
			return cluster.Address{}, fmt.Errorf("empty unix socket path in %q", raw)
		}
		return cluster.Address{Network: "unix", Address: path}, nil
	case strings.HasPrefix(raw, "tcp://"):
		return cluster.Address{Network: "tcp", Address: strings.TrimPrefix(raw, "tcp://")}, nil
	case strings.Contains(raw, "://"):
		return cluster.Address{}, fmt.Errorf("unsupported address scheme in %q", raw)
	default:
		return cluster.Address{Network: "tcp", Address: raw}, nil
	}
}

// call sends one action to the configured node.
func (c *connection) call(action string, fields map[string]any, result any) error {
	address, err := parseAddress(c.Address)
	if err != nil {
		return err
	}
	members, err := cluster.NewMembership(targetNode, map[session.Node]cluster.Address{targetNode: address})
	if err != nil {
		return err
	}
	client := cluster.NewClient(members, cluster.WithCallTimeout(c.Timeout))

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	if err := client.Call(ctx, targetNode, action, fields, result); err != nil {
		return fmt.Errorf("%s at %s: %w", action, address, err)
	}
	return nil
}
