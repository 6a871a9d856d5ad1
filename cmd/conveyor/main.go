// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/process"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		process.Fatal(err)
	}
}

func run(args []string) error {
	root := rootCommand(&app{stdin: os.Stdin, stdout: os.Stdout, logger: cli.NewCommandLogger()})
	return root.Execute(args)
}

// app holds the streams commands read from and write to. Results go
// to stdout; progress is logged to stderr.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	logger *slog.Logger
}

func rootCommand(a *app) *cli.Command {
	return &cli.Command{
		Name: "conveyor",
		Description: `Conveyor drives a conveyor-server over its control socket.

Trigger, pause, and inspect pipelines, report passed stages so
downstream pipelines schedule, and manage the age identity used for
encrypted material passwords.`,
		Subcommands: []*cli.Command{
			a.triggerCommand(),
			a.pauseCommand(),
			a.unpauseCommand(),
			a.statusCommand(),
			a.queueCommand(),
			a.stagePassedCommand(),
			a.reloadCommand(),
			a.historyCommand(),
			a.instancesCommand(),
			a.keygenCommand(),
			a.encryptCommand(),
			a.versionCommand(),
		},
	}
}
