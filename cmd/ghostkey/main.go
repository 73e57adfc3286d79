// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Command ghostkey is the operator tool for the ghost key system: it
// creates the master key and per-tier delegates, issues and verifies
// ghost key certificates, signs and verifies messages, and checks an
// issuer configuration.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/freenet/ghostkey/cmd/ghostkey/cli"
	"github.com/freenet/ghostkey/lib/errkind"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command tree and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	err := rootCommand(stdout, stderr).Execute(args)
	if err == nil {
		return 0
	}

	// Commands that already printed their outcome return an ExitError
	// with no cause.
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(stderr, "error: %v\n", exitErr.Err)
		}
		return exitErr.ExitCode()
	}

	kind := errkind.Of(err)
	if class := classify(kind); class != "" {
		fmt.Fprintf(stderr, "error: %s: %v\n", class, err)
	} else {
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	if retryAfter, ok := errkind.RetryAfterOf(err); ok {
		fmt.Fprintf(stderr, "retry after %s\n", retryAfter.Round(time.Second))
	}
	return exitCode(kind)
}

// exitCode maps an error kind to the process exit code. Each kind has
// its own code so scripts can branch on the failure.
func exitCode(kind errkind.Kind) int {
	switch kind {
	case errkind.InvalidInput:
		return cli.UsageExitCode
	case errkind.KeyCreation:
		return 3
	case errkind.Signature:
		return 4
	case errkind.SignatureVerification:
		return 5
	case errkind.Serialization:
		return 6
	case errkind.Deserialization:
		return 7
	case errkind.Base64Decode:
		return 8
	case errkind.Armor:
		return 9
	case errkind.IO:
		return 10
	case errkind.RateLimited:
		return 11
	case errkind.AlreadySigned:
		return 12
	case errkind.PaymentNotSuccessful:
		return 13
	case errkind.PaymentMethodMissing:
		return 14
	case errkind.Payment:
		return 15
	case errkind.Key:
		return 16
	default:
		return 1
	}
}

// classify groups kinds into the failure classes an operator acts on.
func classify(kind errkind.Kind) string {
	switch kind {
	case errkind.Armor, errkind.Base64Decode, errkind.Deserialization:
		return "certificate could not be decoded"
	case errkind.Signature, errkind.SignatureVerification:
		return "signature invalid"
	case errkind.KeyCreation:
		return "key material invalid"
	}
	return ""
}
