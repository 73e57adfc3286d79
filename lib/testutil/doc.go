// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for the issuer socket
// tests.
//
// [SocketDir] creates a temporary directory in /tmp for Unix domain
// sockets. sun_path is limited to 108 bytes and t.TempDir() paths
// under a nested TMPDIR routinely exceed it. [WaitForSocket] blocks
// until a server has bound its socket.
//
// [RequireReceive] wraps the select-with-timeout used to collect a
// server's exit error, so individual tests do not call time.After.
//
// All helpers call t.Fatalf on failure.
//
// This package has no ghostkey-internal dependencies.
package testutil
