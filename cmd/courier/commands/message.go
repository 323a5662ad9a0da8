// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/courier/cmd/courier/cli"
	"github.com/bureau-foundation/courier/lib/broker"
)

func messageCommand(env Env) *cli.Command {
	return &cli.Command{
		Name:    "message",
		Summary: "Deliver messages to local sessions",
		Subcommands: []*cli.Command{
			messageSendCommand(env),
		},
	}
}

type sendParams struct {
	cli.JSONOutput
	connection
}

func messageSendCommand(env Env) *cli.Command {
	var params sendParams
	return &cli.Command{
		Name:    "send",
		Summary: "Dispatch a message to a session on the target node",
		Description: "Route one message through the target node's local registry. A client\n" +
			"connected to another node is not reached; the message is dropped and\n" +
			"the command exits 1.",
		Usage: "courier message send <client-id> <topic> [payload] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("send", pflag.ContinueOnError)
			params.addFlags(flagSet)
			params.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) < 2 || len(args) > 3 {
				return fmt.Errorf("expected <client-id> <topic> [payload], got %d arguments", len(args))
			}
			var payload []byte
			if len(args) == 3 {
				payload = []byte(args[2])
			}

			var result broker.DispatchResult
			err := params.call(broker.ActionDispatch, map[string]any{
				"client_id": args[0],
				"topic":     args[1],
				"payload":   payload,
			}, &result)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(env.Stdout, result); done {
				return err
			}
			if !result.Delivered {
				fmt.Fprintf(env.Stderr, "dropped: no live session for %s on this node\n", args[0])
				return &cli.ExitError{Code: 1}
			}
			_, err = fmt.Fprintf(env.Stdout, "delivered to %s\n", args[0])
			return err
		},
	}
}
