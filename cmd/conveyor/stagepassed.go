// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/control"
	"github.com/bureau-foundation/conveyor/lib/material"
)

func (a *app) stagePassedCommand() *cli.Command {
	var params struct {
		outputParams
		label string
	}
	return &cli.Command{
		Name:    "stage-passed",
		Summary: "Report a passed stage so downstream pipelines schedule",
		Description: `Report that a stage of a pipeline instance passed. The server records
the run in the history of every dependency material on that stage and
schedules the downstream pipelines.

The stage is named as pipeline/counter/stage/counter, the same form
dependency revisions take.`,
		Usage: "conveyor stage-passed <pipeline/counter/stage/counter> [flags]",
		Examples: []cli.Example{
			{Command: "conveyor stage-passed build/4/compile/1 --label 1.0.4"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := params.flagSet("stage-passed")
			params.label = ""
			flagSet.StringVar(&params.label, "label", "", "label of the upstream pipeline instance (default: its counter)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("stage-passed requires exactly one pipeline/counter/stage/counter argument")
			}
			revision, err := material.ParseDependencyRevision(args[0])
			if err != nil {
				return err
			}
			request := control.StagePassedRequest{
				Pipeline:     revision.Pipeline,
				Counter:      revision.PipelineCounter,
				Label:        params.label,
				Stage:        revision.Stage,
				StageCounter: revision.StageCounter,
			}
			var response control.StagePassedResponse
			if err := params.call(control.ActionStagePassed, request, &response); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, response.Results); done {
				return err
			}
			if len(response.Results) == 0 {
				fmt.Fprintf(a.stdout, "No pipelines depend on %s/%s\n", revision.Pipeline, revision.Stage)
				return nil
			}
			for _, result := range response.Results {
				fmt.Fprintln(a.stdout, formatResult(result))
			}
			return nil
		},
	}
}
