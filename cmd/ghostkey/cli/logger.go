// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger creates the structured logger for CLI commands,
// writing to stderr. When stderr is a terminal it uses
// slog.TextHandler for human-readable output; otherwise
// slog.JSONHandler, so scripted runs produce parseable logs.
//
// Callers scope it with command context via With():
//
//	logger := cli.NewCommandLogger(verbose).With("command", "generate-delegate")
func NewCommandLogger(verbose bool) *slog.Logger {
	return newLogger(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), verbose)
}

func newLogger(w io.Writer, terminal, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	if terminal {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}
