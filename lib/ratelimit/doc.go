// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit enforces a persisted, rolling-window cap on
// certificate issuance per requester.
//
// State is one JSON file:
//
//	{ "invites": { "<requester hash>": ["2026-01-01T00:00:00Z", ...] } }
//
// Every decision runs load → prune → check → append → persist under a
// single mutex, so two concurrent requests can never both observe the
// last free slot. Timestamps older than the window, and timestamps
// that do not parse, are pruned on every decision; requesters left
// with no timestamps are removed.
//
// Requester keys (client IP addresses, typically) are never written to
// disk or logs in cleartext. A [Hasher] maps each key to a salted
// BLAKE3 hash; the salt is expanded with HKDF-SHA256 into the BLAKE3
// key so a leaked state file cannot be reversed by enumerating the
// IPv4 space. The exempt list holds hashes produced by the same
// Hasher and is compared in constant time.
//
// The limiter fails closed: if the state file cannot be read, parsed,
// or written the request is denied and the error returned.
//
// The file-plus-mutex design serves a single process. Several
// processes sharing one state file will race; deployments that need
// that should move the same check-and-record contract onto a store
// with atomic compare-and-swap.
package ratelimit
