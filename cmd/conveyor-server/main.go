// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/lib/clock"
	"github.com/bureau-foundation/conveyor/lib/config"
	"github.com/bureau-foundation/conveyor/lib/diskspace"
	"github.com/bureau-foundation/conveyor/lib/history"
	"github.com/bureau-foundation/conveyor/lib/material"
	"github.com/bureau-foundation/conveyor/lib/pipelineconfig"
	"github.com/bureau-foundation/conveyor/lib/pipelinestate"
	"github.com/bureau-foundation/conveyor/lib/process"
	"github.com/bureau-foundation/conveyor/lib/sealed"
	"github.com/bureau-foundation/conveyor/lib/service"
	"github.com/bureau-foundation/conveyor/lib/version"
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
	flags := pflag.NewFlagSet("conveyor-server", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "server configuration file (default $"+config.EnvironmentVariable+")")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("conveyor-server %s\n", version.Info())
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
		return err
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	logger := service.NewLogger(level).With("environment", cfg.Environment)

	pollInterval, err := cfg.PollInterval()
	if err != nil {
		return err
	}
	sweepInterval, err := cfg.SweepInterval()
	if err != nil {
		return err
	}
	mduTimeout, err := cfg.MDUTimeout()
	if err != nil {
		return err
	}
	location, err := cfg.TimerLocation()
	if err != nil {
		return err
	}
	minimumFree, err := cfg.ArtifactsMinimumFree()
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	historyStore, err := history.OpenSQLiteStore(filepath.Join(cfg.Paths.State, "history.db"), logger)
	if err != nil {
		return err
	}
	defer historyStore.Close()

	stateStore, err := pipelinestate.OpenSQLiteStore(filepath.Join(cfg.Paths.State, "pipelines.db"), logger)
	if err != nil {
		return err
	}
	defer stateStore.Close()

	// A nil *sealed.Identity must not reach the poller as a non-nil
	// interface value.
	var secrets history.PasswordDecrypter
	if cfg.Secrets.Identity != "" {
		identity, err := sealed.LoadIdentity(cfg.Secrets.Identity)
		if err != nil {
			return err
		}
		defer identity.Close()
		secrets = identity
		logger.Info("secrets identity loaded", "recipient", identity.Recipient())
	}

	pollers := history.NewRegistry()
	pollers.Register(material.Git, history.NewGitPoller(cfg.Paths.Materials, secrets, logger))
	pollers.Register(material.Dependency, history.NewDependencyPoller(historyStore))

	server := newServer(serverOptions{
		Configs:       pipelineconfig.NewStore(cfg.Paths.Pipelines, clk, logger),
		History:       historyStore,
		State:         stateStore,
		Pollers:       pollers,
		Disk:          diskspace.NewMonitor(cfg.Paths.Artifacts, minimumFree),
		Clock:         clk,
		Logger:        logger,
		MDUWorkers:    cfg.Scheduler.MDUWorkers,
		MDUTimeout:    mduTimeout,
		TimerLocation: location,
	})
	server.Reload()

	hangups := make(chan os.Signal, 1)
	signal.Notify(hangups, syscall.SIGHUP)
	defer signal.Stop(hangups)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hangups:
				server.Reload()
			}
		}
	}()

	socket := service.NewSocketServer(cfg.Socket.Path, logger)
	server.registerActions(socket)

	logger.Info("conveyor server running",
		"version", version.Short(),
		"socket", cfg.Socket.Path,
		"pipelines", cfg.Paths.Pipelines,
		"poll_interval", pollInterval,
		"sweep_interval", sweepInterval,
	)
	err = server.Run(ctx, socket, pollInterval, sweepInterval)
	logger.Info("conveyor server stopped")
	return err
}
