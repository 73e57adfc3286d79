// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases for ghostkey's durable
// stores with a fixed set of pragmas.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Callers [Pool.Take]
// a connection, use it from one goroutine, and [Pool.Put] it back.
//
// Every connection runs with:
//
//   - journal_mode=WAL: readers never block the single writer.
//   - synchronous=FULL: a committed transaction survives power loss.
//     The redemption ledger relies on this; a claim that vanished
//     after a crash would allow a second certificate for one payment.
//   - busy_timeout=5000: writers from other processes wait up to five
//     seconds for the lock instead of failing immediately.
//
// A schema script, if configured, runs on every new connection and
// must therefore be idempotent (CREATE TABLE IF NOT EXISTS).
package sqlitepool
