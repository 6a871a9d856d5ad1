// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/sealed"
	"github.com/bureau-foundation/conveyor/lib/secret"
)

func (a *app) keygenCommand() *cli.Command {
	var output string
	var force bool
	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate the server's age identity",
		Description: `Generate an age X25519 identity for conveyor-server and print its
recipient. Point secrets.identity in the server config at the written
file, and encrypt material passwords to the printed recipient with
'conveyor encrypt'.`,
		Usage: "conveyor keygen --output <path>",
		Flags: func() *pflag.FlagSet {
			output, force = "", false
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVar(&output, "output", "", "file to write the identity to (required)")
			flagSet.BoolVar(&force, "force", false, "overwrite an existing identity file")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("keygen takes no arguments")
			}
			if output == "" {
				return fmt.Errorf("--output is required")
			}
			if force {
				if err := os.Remove(output); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			identity, err := sealed.GenerateIdentity()
			if err != nil {
				return err
			}
			defer identity.Close()
			if err := identity.Save(output); err != nil {
				if errors.Is(err, fs.ErrExist) {
					return fmt.Errorf("%s already exists (use --force to overwrite)", output)
				}
				return err
			}
			a.logger.Info("identity written", "path", output)
			fmt.Fprintln(a.stdout, identity.Recipient())
			return nil
		},
	}
}

func (a *app) encryptCommand() *cli.Command {
	var recipients []string
	return &cli.Command{
		Name:    "encrypt",
		Summary: "Encrypt a material password for the server",
		Description: `Read a secret from standard input and print it encrypted to the given
age recipients, ready for a material's encrypted_password field.`,
		Usage: "conveyor encrypt --recipient <age1...> [--recipient ...] < secret",
		Flags: func() *pflag.FlagSet {
			recipients = nil
			flagSet := pflag.NewFlagSet("encrypt", pflag.ContinueOnError)
			flagSet.StringArrayVar(&recipients, "recipient", nil, "age recipient to encrypt to (repeatable, required)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("encrypt takes no arguments")
			}
			if len(recipients) == 0 {
				return fmt.Errorf("at least one --recipient is required")
			}
			plaintext, err := secret.ReadFrom(a.stdin)
			if err != nil {
				return fmt.Errorf("reading secret: %w", err)
			}
			defer plaintext.Close()
			ciphertext, err := sealed.Encrypt(plaintext.Bytes(), recipients...)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, ciphertext)
			return nil
		},
	}
}
