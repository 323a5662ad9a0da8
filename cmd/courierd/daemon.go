// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/courier/lib/actor"
	"github.com/bureau-foundation/courier/lib/broker"
	"github.com/bureau-foundation/courier/lib/cluster"
	"github.com/bureau-foundation/courier/lib/config"
	"github.com/bureau-foundation/courier/lib/directory"
	"github.com/bureau-foundation/courier/lib/locker"
	"github.com/bureau-foundation/courier/lib/manager"
	"github.com/bureau-foundation/courier/lib/registry"
	"github.com/bureau-foundation/courier/lib/session"
	"github.com/bureau-foundation/courier/lib/sqlitepool"
)

// daemon is one assembled node. Serve the server, then Close.
type daemon struct {
	server     *cluster.Server
	broker     *broker.Broker
	pool       *manager.Pool
	supervisor *actor.Local
	sqlite     *sqlitepool.Pool
	logger     *slog.Logger
}

// newDaemon wires every component for cfg. The directory node opens
// the SQLite store and serves the directory and lock actions; other
// nodes reach them over RPC.
func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	members, err := cfg.Membership()
	if err != nil {
		return nil, err
	}
	caller := cluster.NewClient(members, cluster.WithCallTimeout(cfg.Cluster.CallTimeout))
	server := cluster.NewServer(cfg.Node.Listen, logger.With("component", "rpc"))

	d := &daemon{server: server, logger: logger}

	var (
		dir  directory.Directory
		lock locker.Service
	)
	if cfg.IsDirectoryNode() {
		d.sqlite, err = sqlitepool.Open(sqlitepool.Config{
			Path:     cfg.Directory.Path,
			PoolSize: cfg.Directory.PoolSize,
			Logger:   logger.With("component", "sqlite"),
		})
		if err != nil {
			return nil, err
		}
		store, err := directory.NewStore(ctx, d.sqlite, logger.With("component", "directory"))
		if err != nil {
			d.sqlite.Close()
			return nil, err
		}
		table, err := locker.NewTable(ctx, d.sqlite, nil, logger.With("component", "locker"))
		if err != nil {
			d.sqlite.Close()
			return nil, err
		}
		directory.RegisterActions(server, store)
		locker.RegisterActions(server, table)
		dir, lock = store, table
	} else {
		directoryNode := session.Node(cfg.Cluster.DirectoryNode)
		dir = directory.NewClient(caller, directoryNode)
		lock = locker.NewClient(caller, directoryNode)
	}

	acquireTimeout := cfg.Sessions.LockAcquireTimeout
	if acquireTimeout == 0 {
		acquireTimeout = -1
	}
	sessionLocker, err := locker.New(locker.Config{
		Service:        lock,
		Lease:          cfg.Sessions.LockLease,
		AcquireTimeout: acquireTimeout,
		RetryInterval:  cfg.Sessions.LockRetryInterval,
		Logger:         logger.With("component", "locker"),
	})
	if err != nil {
		d.closeStore()
		return nil, err
	}

	d.supervisor = actor.NewLocal(members.Local(), actor.WithLogger(logger.With("component", "actor")))
	reg := registry.New(
		registry.WithHooks(logHooks{logger: logger.With("component", "registry")}),
		registry.WithLogger(logger.With("component", "registry")),
	)

	d.pool, err = manager.New(manager.Config{
		Node:        members.Local(),
		Size:        cfg.Sessions.PoolSize,
		Directory:   dir,
		Supervisor:  d.supervisor,
		Registry:    reg,
		Caller:      caller,
		CallTimeout: cfg.Sessions.CallTimeout,
		Logger:      logger.With("component", "manager"),
	})
	if err != nil {
		d.closeStore()
		return nil, err
	}

	d.broker, err = broker.New(broker.Config{
		Members:    members,
		Caller:     caller,
		Directory:  dir,
		Locker:     sessionLocker,
		Pool:       d.pool,
		Registry:   reg,
		Supervisor: d.supervisor,
		Logger:     logger.With("component", "broker"),
	})
	if err != nil {
		d.pool.Close()
		d.closeStore()
		return nil, err
	}
	d.broker.RegisterActions(server)

	return d, nil
}

// Close stops the workers, terminates local sessions, and closes the
// store. Call it after Serve returns.
func (d *daemon) Close(ctx context.Context) error {
	d.pool.Close()
	var errs []error
	if err := d.supervisor.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping sessions: %w", err))
	}
	if err := d.closeStore(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *daemon) closeStore() error {
	if d.sqlite == nil {
		return nil
	}
	return d.sqlite.Close()
}

// logHooks reports registry hooks in the daemon log.
type logHooks struct {
	logger *slog.Logger
}

func (h logHooks) Run(hook string, args ...any) {
	if hook == registry.HookMessageDropped && len(args) == 2 {
		clientID, _ := args[0].(string)
		message, _ := args[1].(actor.Message)
		h.logger.Debug("message dropped", "client_id", clientID, "topic", message.Topic)
		return
	}
	h.logger.Debug("hook", "hook", hook, "args", len(args))
}
