// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/control"
)

func (a *app) historyCommand() *cli.Command {
	var params struct {
		outputParams
		material string
		limit    int
	}
	return &cli.Command{
		Name:    "history",
		Summary: "Show recent modifications of a pipeline's materials",
		Description: `Show the newest recorded modifications of each material of a pipeline,
newest first. --material narrows the output to one material, named by
its configured name or a fingerprint prefix.`,
		Usage: "conveyor history <pipeline> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := params.flagSet("history")
			params.material, params.limit = "", 0
			flagSet.StringVar(&params.material, "material", "", "material name or fingerprint prefix")
			flagSet.IntVar(&params.limit, "limit", 10, "modifications per material")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("history requires exactly one pipeline name")
			}
			request := control.HistoryRequest{Pipeline: args[0], Material: params.material, Limit: params.limit}
			var response control.HistoryResponse
			if err := params.call(control.ActionHistory, request, &response); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, response.Materials); done {
				return err
			}
			fmt.Fprint(a.stdout, renderHistory(response))
			return nil
		},
	}
}

func (a *app) instancesCommand() *cli.Command {
	var params struct {
		outputParams
		limit int
	}
	return &cli.Command{
		Name:        "instances",
		Summary:     "List recent instances of a pipeline",
		Description: "List the newest instances of a pipeline with their build cause.",
		Usage:       "conveyor instances <pipeline> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := params.flagSet("instances")
			params.limit = 0
			flagSet.IntVar(&params.limit, "limit", 10, "number of instances")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("instances requires exactly one pipeline name")
			}
			var response control.InstancesResponse
			request := control.InstancesRequest{Pipeline: args[0], Limit: params.limit}
			if err := params.call(control.ActionInstances, request, &response); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, response.Instances); done {
				return err
			}
			fmt.Fprint(a.stdout, renderInstances(response.Instances))
			return nil
		},
	}
}
