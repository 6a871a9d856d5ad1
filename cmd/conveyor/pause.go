// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/control"
)

type pauseParams struct {
	connection
	cli.JSONOutput
	reason string
	by     string
}

func (a *app) pauseCommand() *cli.Command {
	var params pauseParams
	return &cli.Command{
		Name:    "pause",
		Summary: "Stop a pipeline from being scheduled",
		Description: `Pause a pipeline. A paused pipeline is skipped by automatic scheduling
and rejects manual triggers until it is unpaused. Pausing an already
paused pipeline replaces the recorded reason.`,
		Usage: "conveyor pause <pipeline> [flags]",
		Examples: []cli.Example{
			{Command: `conveyor pause web --reason "database migration"`},
		},
		Flags: func() *pflag.FlagSet {
			params = pauseParams{}
			flagSet := pflag.NewFlagSet("pause", pflag.ContinueOnError)
			params.addFlags(flagSet)
			params.AddFlag(flagSet)
			flagSet.StringVar(&params.reason, "reason", "", "why the pipeline is paused")
			flagSet.StringVar(&params.by, "by", os.Getenv("USER"), "user recorded as pausing the pipeline")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("pause requires exactly one pipeline name")
			}
			var response control.PauseResponse
			request := control.PauseRequest{Pipeline: args[0], By: params.by, Reason: params.reason}
			if err := params.call(control.ActionPause, request, &response); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, response); done {
				return err
			}
			pause := response.Pause
			if pause.Reason != "" {
				fmt.Fprintf(a.stdout, "Paused %s (by %s: %s)\n", pause.Pipeline, pause.By, pause.Reason)
			} else {
				fmt.Fprintf(a.stdout, "Paused %s (by %s)\n", pause.Pipeline, pause.By)
			}
			return nil
		},
	}
}

func (a *app) unpauseCommand() *cli.Command {
	var params outputParams
	return &cli.Command{
		Name:    "unpause",
		Summary: "Resume scheduling of a paused pipeline",
		Description: `Unpause a pipeline. Changes that arrived while it was paused are
picked up by the next sweep.`,
		Usage: "conveyor unpause <pipeline> [flags]",
		Flags: func() *pflag.FlagSet { return params.flagSet("unpause") },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("unpause requires exactly one pipeline name")
			}
			var response control.UnpauseResponse
			if err := params.call(control.ActionUnpause, control.UnpauseRequest{Pipeline: args[0]}, &response); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, response); done {
				return err
			}
			if response.WasPaused {
				fmt.Fprintf(a.stdout, "Unpaused %s\n", response.Pipeline)
			} else {
				fmt.Fprintf(a.stdout, "%s was not paused\n", response.Pipeline)
			}
			return nil
		},
	}
}
