// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the ghostkey
// operator tool.
//
// The central type is [Command], a named subcommand with optional
// nested [Command.Subcommands], a [pflag.FlagSet] factory and a Run
// function. The tree is assembled in cmd/ghostkey and dispatched via
// [Command.Execute], which handles flag parsing, subcommand routing
// (including [Command.Aliases]) and structured help output.
//
// An unknown subcommand or flag gets a suggestion for the closest
// known name by Levenshtein distance (at most 3).
//
// [NewCommandLogger] builds the slog logger commands share: text on a
// terminal, JSON otherwise.
package cli
