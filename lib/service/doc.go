// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package service is the local transport between an issuer process
// and the front end that talks to clients and the payment provider.
//
// The protocol is one CBOR request and one CBOR response per Unix
// socket connection. A request is a CBOR map with an "action" key and
// action-specific fields; the response is a [Response] envelope. A
// failed action carries its [errkind.Kind] and, for rate limiting, a
// retry-after in milliseconds, so [Client.Call] hands the caller the
// same classified error the handler returned.
//
// Access control is the socket's file mode. The server creates the
// socket 0600.
package service
