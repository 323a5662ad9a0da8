// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Courier is the operator CLI for a courierd cluster.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/bureau-foundation/courier/cmd/courier/commands"
)

func main() {
	if err := run(); err != nil {
		var exitCoder interface{ ExitCode() int }
		if errors.As(err, &exitCoder) {
			os.Exit(exitCoder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root := commands.Root(commands.Env{Stdout: os.Stdout, Stderr: os.Stderr})
	return root.Execute(os.Args[1:])
}
