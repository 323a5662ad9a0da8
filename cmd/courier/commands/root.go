// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the courier operator command tree. Every
// command except version is one RPC to a courierd node.
package commands

import (
	"fmt"
	"io"

	"github.com/bureau-foundation/courier/cmd/courier/cli"
	"github.com/bureau-foundation/courier/lib/version"
)

// Env carries the streams commands write to.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Root returns the top-level "courier" command.
func Root(env Env) *cli.Command {
	return &cli.Command{
		Name:        "courier",
		Summary:     "Operate courier session nodes",
		Description: "Courier inspects and manages client sessions on a courierd cluster.",
		HelpOutput:  env.Stderr,
		Subcommands: []*cli.Command{
			sessionCommand(env),
			messageCommand(env),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func([]string) error {
					_, err := fmt.Fprintf(env.Stdout, "courier %s\n", version.Info())
					return err
				},
			},
		},
	}
}
