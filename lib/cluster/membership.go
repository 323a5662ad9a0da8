// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"fmt"
	"sort"

	"github.com/bureau-foundation/courier/lib/session"
)

// Address is a dialable endpoint: a network ("tcp" or "unix") and an
// address in that network.
type Address struct {
	Network string `yaml:"network" json:"network"`
	Address string `yaml:"address" json:"address"`
}

func (a Address) String() string { return a.Network + "://" + a.Address }

// Membership is the static table of cluster nodes. It is built once at
// startup and never mutated, so it is safe for concurrent use.
type Membership struct {
	local     session.Node
	addresses map[session.Node]Address
	nodes     []session.Node
}

// NewMembership builds a table from the local node and every node's
// address (the local node included).
func NewMembership(local session.Node, addresses map[session.Node]Address) (*Membership, error) {
	if local == "" {
		return nil, fmt.Errorf("cluster: local node name is required")
	}
	if _, ok := addresses[local]; !ok {
		return nil, fmt.Errorf("cluster: local node %q has no address", local)
	}

	copied := make(map[session.Node]Address, len(addresses))
	nodes := make([]session.Node, 0, len(addresses))
	for node, address := range addresses {
		if address.Network == "" {
			address.Network = "tcp"
		}
		if address.Address == "" {
			return nil, fmt.Errorf("cluster: node %q has an empty address", node)
		}
		copied[node] = address
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	return &Membership{local: local, addresses: copied, nodes: nodes}, nil
}

// Local returns the name of this node.
func (m *Membership) Local() session.Node { return m.local }

// Nodes returns every node name, sorted.
func (m *Membership) Nodes() []session.Node {
	return append([]session.Node(nil), m.nodes...)
}

// Peers returns every node except the local one, sorted.
func (m *Membership) Peers() []session.Node {
	peers := make([]session.Node, 0, len(m.nodes))
	for _, node := range m.nodes {
		if node != m.local {
			peers = append(peers, node)
		}
	}
	return peers
}

// Address returns the endpoint for node.
func (m *Membership) Address(node session.Node) (Address, bool) {
	address, ok := m.addresses[node]
	return address, ok
}
