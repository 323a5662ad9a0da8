// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Courierd runs one node of the courier session layer: the worker pool
// that decides where each client's session lives, the local actor
// supervisor and dispatch registry, and (on the directory node) the
// session directory and lock table.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/courier/lib/config"
	"github.com/bureau-foundation/courier/lib/process"
	"github.com/bureau-foundation/courier/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)

	flags := pflag.NewFlagSet("courierd", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to config file (default: $COURIER_CONFIG)")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &process.ExitError{Code: 2, Err: err}
	}

	if showVersion {
		fmt.Printf("courierd %s\n", version.Info())
		return nil
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg.Log).With("node", cfg.Node.Name)
	slog.SetDefault(logger)

	logger.Info("starting courierd",
		"version", version.Info(),
		"environment", cfg.Environment,
		"listen", cfg.Node.Listen.String(),
		"directory_node", cfg.Cluster.DirectoryNode,
		"peers", len(cfg.Cluster.Peers),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}

	serveErr := d.server.Serve(ctx)
	logger.Info("received shutdown signal")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.Close(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	if serveErr != nil {
		return serveErr
	}

	logger.Info("shutdown complete")
	return nil
}

// newLogger picks a text handler for a terminal and JSON otherwise,
// unless the config forces one.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}

	useText := term.IsTerminal(int(os.Stderr.Fd()))
	switch cfg.Format {
	case "text":
		useText = true
	case "json":
		useText = false
	}

	if useText {
		return slog.New(slog.NewTextHandler(os.Stderr, options))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options))
}
