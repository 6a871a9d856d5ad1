// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command tree framework of the conveyor CLI.
//
// A [Command] has a name, help text, an optional pflag FlagSet, and
// either a Run function or subcommands. [Command.Execute] dispatches
// on the first positional argument, parses flags, and suggests the
// closest command or flag name on a typo.
//
// Commands that report a failure through their own output return an
// [ExitError] so main exits non-zero without printing a second line.
package cli
