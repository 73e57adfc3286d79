// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError signals a non-zero exit code. Err, when set, is printed by
// main before exiting; a nil Err means the command already wrote its
// own output.
type ExitError struct {
	Code int
	Err  error
}

// UsageExitCode is the exit code for command-line misuse: an unknown
// command or flag, or a missing subcommand.
const UsageExitCode = 2

func usageError(format string, args ...any) error {
	return &ExitError{Code: UsageExitCode, Err: fmt.Errorf(format, args...)}
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the exit code. main checks for this interface on
// returned errors.
func (e *ExitError) ExitCode() int {
	return e.Code
}
