// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/courier/cmd/courier/cli"
	"github.com/bureau-foundation/courier/lib/broker"
	"github.com/bureau-foundation/courier/lib/manager"
	"github.com/bureau-foundation/courier/lib/session"
)

// operatorNode names the node in connection handles the CLI makes up.
const operatorNode session.Node = "courier-cli"

func sessionCommand(env Env) *cli.Command {
	return &cli.Command{
		Name:        "session",
		Summary:     "Inspect and manage client sessions",
		Description: "Open, look up, list and kick client sessions through a courierd node.",
		Subcommands: []*cli.Command{
			sessionOpenCommand(env, "open", broker.ActionOpen,
				"Open a session under the cluster lock",
				"Take the client id's cluster lock, clear stale sessions, then create or resume."),
			sessionOpenCommand(env, "start", broker.ActionStart,
				"Run the start decision without the cluster lock",
				"Ask the node's worker pool to create, resume or replace the session directly."),
			sessionLookupCommand(env),
			sessionListCommand(env),
			sessionLocalCommand(env),
			sessionKickCommand(env),
		},
	}
}

type openParams struct {
	cli.JSONOutput
	connection
	CleanStart bool
	Username   string
}

func sessionOpenCommand(env Env, name, action, summary, description string) *cli.Command {
	var params openParams
	return &cli.Command{
		Name:        name,
		Summary:     summary,
		Description: description,
		Usage:       fmt.Sprintf("courier session %s <client-id> [flags]", name),
		Examples: []cli.Example{
			{Description: "Resume or create a persistent session", Command: fmt.Sprintf("courier session %s sensor-17", name)},
			{Description: "Replace whatever session exists", Command: fmt.Sprintf("courier session %s --clean-start sensor-17", name)},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
			params.addFlags(flagSet)
			params.AddFlag(flagSet)
			flagSet.BoolVar(&params.CleanStart, "clean-start", false, "discard any existing session state")
			flagSet.StringVar(&params.Username, "username", "", "username recorded with the session")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one client id, got %d arguments", len(args))
			}
			var result manager.Result
			err := params.call(action, map[string]any{
				"client_id":   args[0],
				"username":    params.Username,
				"clean_start": params.CleanStart,
				"conn":        session.NewHandle(operatorNode),
			}, &result)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(env.Stdout, result); done {
				return err
			}
			verb := "created"
			if result.Resumed {
				verb = "resumed"
			}
			_, err = fmt.Fprintf(env.Stdout, "%s %s on %s\n", verb, result.Handle.ID, result.Handle.Node)
			return err
		},
	}
}

type lookupParams struct {
	cli.JSONOutput
	connection
}

func sessionLookupCommand(env Env) *cli.Command {
	var params lookupParams
	return &cli.Command{
		Name:    "lookup",
		Summary: "Show the directory record for a client id",
		Usage:   "courier session lookup <client-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("lookup", pflag.ContinueOnError)
			params.addFlags(flagSet)
			params.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one client id, got %d arguments", len(args))
			}
			var record session.Record
			err := params.call(broker.ActionLookup, map[string]any{"client_id": args[0]}, &record)
			if errors.Is(err, session.ErrNotFound) {
				fmt.Fprintf(env.Stderr, "no session for %s\n", args[0])
				return &cli.ExitError{Code: 1}
			}
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(env.Stdout, record); done {
				return err
			}
			table := cli.NewTable("CLIENT", "OWNER", "PERSISTENT")
			table.Row(record.ClientID, record.Owner.String(), yesNo(record.Persistent))
			return table.Render(env.Stdout, "")
		},
	}
}

type listParams struct {
	cli.JSONOutput
	connection
}

func sessionListCommand(env Env) *cli.Command {
	var params listParams
	return &cli.Command{
		Name:    "list",
		Summary: "List every session in the cluster directory",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			params.addFlags(flagSet)
			params.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected arguments %v", args)
			}
			var records []session.Record
			if err := params.call(broker.ActionList, nil, &records); err != nil {
				return err
			}
			sort.Slice(records, func(i, j int) bool { return records[i].ClientID < records[j].ClientID })
			if done, err := params.EmitJSON(env.Stdout, records); done {
				return err
			}
			table := cli.NewTable("CLIENT", "OWNER", "PERSISTENT")
			for _, record := range records {
				table.Row(record.ClientID, record.Owner.String(), yesNo(record.Persistent))
			}
			return table.Render(env.Stdout, "no sessions")
		},
	}
}

type localParams struct {
	cli.JSONOutput
	connection
}

func sessionLocalCommand(env Env) *cli.Command {
	var params localParams
	return &cli.Command{
		Name:    "local",
		Summary: "List sessions registered on the target node",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("local", pflag.ContinueOnError)
			params.addFlags(flagSet)
			params.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected arguments %v", args)
			}
			var sessions []broker.LocalSession
			if err := params.call(broker.ActionLocal, nil, &sessions); err != nil {
				return err
			}
			if done, err := params.EmitJSON(env.Stdout, sessions); done {
				return err
			}
			table := cli.NewTable("CLIENT", "ACTOR", "CLEAN START", "USERNAME")
			for _, local := range sessions {
				username, _ := local.Properties["username"].(string)
				if username == "" {
					username = cli.Muted("-")
				}
				table.Row(local.ClientID, local.Handle.String(), yesNo(local.CleanStart), username)
			}
			return table.Render(env.Stdout, "no local sessions")
		},
	}
}

type kickParams struct {
	connection
}

func sessionKickCommand(env Env) *cli.Command {
	var params kickParams
	return &cli.Command{
		Name:        "kick",
		Summary:     "Discard a client's session wherever it lives",
		Description: "Terminate the client's session on its owning node and remove its directory record.",
		Usage:       "courier session kick <client-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("kick", pflag.ContinueOnError)
			params.addFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one client id, got %d arguments", len(args))
			}
			if err := params.call(broker.ActionKick, map[string]any{"client_id": args[0]}, nil); err != nil {
				return err
			}
			cli.NewCommandLogger().Info("session kicked", "client_id", args[0], "address", params.Address)
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
