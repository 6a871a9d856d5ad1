// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/control"
)

// outputParams are the flags of read-only commands.
type outputParams struct {
	connection
	cli.JSONOutput
}

func (p *outputParams) flagSet(name string) *pflag.FlagSet {
	*p = outputParams{}
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	p.addFlags(flagSet)
	p.AddFlag(flagSet)
	return flagSet
}

func (a *app) statusCommand() *cli.Command {
	var params outputParams
	return &cli.Command{
		Name:    "status",
		Summary: "Show server health and pipeline state",
		Description: `Show the server's configuration version and issues, health warnings
and errors, and the state of every configured pipeline: pause, pending
evaluation, queued run, last instance, and next timer firing.`,
		Flags: func() *pflag.FlagSet { return params.flagSet("status") },
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("status takes no arguments")
			}
			var response control.StatusResponse
			if err := params.call(control.ActionStatus, nil, &response); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, response); done {
				return err
			}
			fmt.Fprint(a.stdout, renderStatus(response, time.Now()))
			return nil
		},
	}
}

func (a *app) queueCommand() *cli.Command {
	var params outputParams
	return &cli.Command{
		Name:        "queue",
		Summary:     "List scheduled runs waiting to be instantiated",
		Description: "List the build causes waiting in the schedule queue, oldest first.",
		Flags:       func() *pflag.FlagSet { return params.flagSet("queue") },
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("queue takes no arguments")
			}
			var response control.QueueResponse
			if err := params.call(control.ActionQueue, nil, &response); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, response.Entries); done {
				return err
			}
			fmt.Fprint(a.stdout, renderQueue(response.Entries, time.Now()))
			return nil
		},
	}
}

func (a *app) reloadCommand() *cli.Command {
	var params outputParams
	return &cli.Command{
		Name:    "reload",
		Summary: "Reload pipeline definitions",
		Description: `Ask the server to re-read its pipelines directory. When any definition
fails to load or validate the server keeps the previous pipelines,
blocks scheduling, and this command exits non-zero listing the issues.`,
		Flags: func() *pflag.FlagSet { return params.flagSet("reload") },
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("reload takes no arguments")
			}
			var response control.ReloadResponse
			if err := params.call(control.ActionReload, nil, &response); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, response); done {
				if err == nil && len(response.Issues) > 0 {
					err = &cli.ExitError{Code: 1}
				}
				return err
			}
			if len(response.Issues) == 0 {
				fmt.Fprintf(a.stdout, "Loaded configuration v%d: %d pipelines\n", response.Version, response.Pipelines)
				return nil
			}
			fmt.Fprintf(a.stdout, "Configuration v%d has %d issues; keeping %d pipelines:\n", response.Version, len(response.Issues), response.Pipelines)
			for _, issue := range response.Issues {
				fmt.Fprintf(a.stdout, "  %s\n", errorStyle.Render(issue))
			}
			return &cli.ExitError{Code: 1}
		},
	}
}
