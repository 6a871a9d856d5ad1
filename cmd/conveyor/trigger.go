// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/control"
	"github.com/bureau-foundation/conveyor/lib/schedule"
)

type triggerParams struct {
	connection
	cli.JSONOutput
	revisions   []string
	environment []string
	performMDU  bool
	wait        bool
	approver    string
}

func (a *app) triggerCommand() *cli.Command {
	var params triggerParams
	return &cli.Command{
		Name:    "trigger",
		Summary: "Schedule a pipeline run by hand",
		Description: `Ask the server to schedule a run of a pipeline.

Without --revision the run uses the newest known revision of each
material. --revision pins a material, identified by name or
fingerprint prefix, to a specific revision token. --mdu refreshes
material history before choosing revisions.

Unknown materials and revisions are always reported before the
command returns. When a material update has to run first (--mdu, or a
pipeline defined in a config repository) the command returns once the
request is accepted; --wait waits for the final scheduling result.
The command exits non-zero when the run was not scheduled.`,
		Usage: "conveyor trigger <pipeline> [flags]",
		Examples: []cli.Example{
			{Description: "Run the newest revisions", Command: "conveyor trigger web"},
			{Description: "Pin a material and wait for the result", Command: "conveyor trigger web --revision app=3f2a9c1 --wait"},
			{Command: "conveyor trigger web --env DEPLOY_TARGET=staging --mdu"},
		},
		Flags: func() *pflag.FlagSet {
			params = triggerParams{}
			flagSet := pflag.NewFlagSet("trigger", pflag.ContinueOnError)
			params.addFlags(flagSet)
			params.AddFlag(flagSet)
			flagSet.StringArrayVar(&params.revisions, "revision", nil, "pin a material to a revision as MATERIAL=REVISION (repeatable)")
			flagSet.StringArrayVar(&params.environment, "env", nil, "environment variable override as NAME=VALUE (repeatable)")
			flagSet.BoolVar(&params.performMDU, "mdu", false, "refresh material history before scheduling")
			flagSet.BoolVar(&params.wait, "wait", false, "wait for the final scheduling result")
			flagSet.StringVar(&params.approver, "approver", os.Getenv("USER"), "user recorded as the approver")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("trigger requires exactly one pipeline name")
			}
			request := control.TriggerRequest{
				Pipeline:   args[0],
				Approver:   params.approver,
				PerformMDU: params.performMDU,
				Wait:       params.wait,
			}
			var err error
			if request.Revisions, err = parseAssignments("--revision", params.revisions); err != nil {
				return err
			}
			if request.Environment, err = parseAssignments("--env", params.environment); err != nil {
				return err
			}

			client, err := params.client()
			if err != nil {
				return err
			}
			// A waited trigger can block on a material refresh for as
			// long as the server's MDU timeout, so only an interrupt
			// ends it early.
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			if !params.wait {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, callTimeout)
				defer cancel()
			}

			if params.wait {
				a.logger.Info("waiting for scheduling result", "pipeline", request.Pipeline, "mdu", request.PerformMDU)
			}
			var response control.TriggerResponse
			if err := client.Call(ctx, control.ActionTrigger, request, &response); err != nil {
				return err
			}
			return a.reportResult(&params.JSONOutput, response.Result)
		},
	}
}

// reportResult prints a scheduling result and converts a failure into
// an exit code.
func (a *app) reportResult(output *cli.JSONOutput, result schedule.Result) error {
	if done, err := output.EmitJSON(a.stdout, result); done {
		if err != nil {
			return err
		}
	} else {
		fmt.Fprintln(a.stdout, formatResult(result))
	}
	if !result.Success {
		return &cli.ExitError{Code: resultExitCode(result)}
	}
	return nil
}

// resultExitCode maps a failed result to an exit code: 2 for a request
// the server refused as invalid or unknown, 1 otherwise.
func resultExitCode(result schedule.Result) int {
	if result.Status >= 400 && result.Status < 500 && result.Status != 409 {
		return 2
	}
	return 1
}

// parseAssignments parses NAME=VALUE pairs. Later pairs replace
// earlier ones with the same name.
func parseAssignments(flag string, pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	assignments := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("%s %q: want NAME=VALUE", flag, pair)
		}
		assignments[name] = value
	}
	return assignments, nil
}
