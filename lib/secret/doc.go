// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret keeps key material outside the Go heap.
//
// A [Buffer] is an anonymous mmap region locked into RAM (never
// swapped) and excluded from core dumps. Close zeroes, unlocks, and
// unmaps it. ghostkey stores Ed25519 seeds, age identities, and the
// requester-hash salt in Buffers for the lifetime of a process.
package secret
