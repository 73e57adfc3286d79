// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/freenet/ghostkey/cmd/ghostkey/cli"
	"github.com/freenet/ghostkey/lib/version"
)

// env is what every command writes to.
type env struct {
	stdout io.Writer
	stderr io.Writer
}

func (e env) printf(format string, args ...any) {
	fmt.Fprintf(e.stdout, format, args...)
}

// logging holds the --verbose flag shared by every command.
type logging struct {
	verbose bool
}

func (l *logging) register(flagSet *pflag.FlagSet) {
	flagSet.BoolVarP(&l.verbose, "verbose", "v", false, "log progress at debug level to stderr")
}

func (l *logging) logger(command string) *slog.Logger {
	return cli.NewCommandLogger(l.verbose).With("command", command)
}

func rootCommand(stdout, stderr io.Writer) *cli.Command {
	e := env{stdout: stdout, stderr: stderr}
	return &cli.Command{
		Name:    "ghostkey",
		Summary: "Anonymous value-bound certificates",
		Description: `Create and verify ghost keys: anonymous certificates that prove a
payment tier without revealing the paying identity.

A master Ed25519 key signs one RSA delegate per tier. Delegates
blind-sign ghost verifying keys, so a ghost key certificate verifies
against the master verifying key alone and cannot be linked to the
request that produced it.`,
		HelpOutput: stderr,
		Subcommands: []*cli.Command{
			generateMasterKeyCommand(e),
			generateDelegateCommand(e),
			verifyDelegateCommand(e),
			generateAgeIdentityCommand(e),
			generateGhostKeyCommand(e),
			verifyGhostKeyCommand(e),
			signMessageCommand(e),
			verifySignedMessageCommand(e),
			hashRequesterCommand(e),
			checkConfigCommand(e),
			versionCommand(e),
		},
	}
}

func versionCommand(e env) *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(args []string) error {
			e.printf("ghostkey %s\n", version.Full())
			return nil
		},
	}
}
