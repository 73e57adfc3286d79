// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package armor converts ghostkey values to and from labelled text
// blocks suitable for files, terminals, and copy-paste:
//
//	-----BEGIN GHOST_KEY_CERTIFICATE_V1-----
//	omNkZWxlZ2F0ZaJncGF5bG9hZKJjZGVs...
//	-----END GHOST_KEY_CERTIFICATE_V1-----
//
// The body is the canonical CBOR encoding of the value (lib/codec),
// standard base64 with padding, hard-wrapped at 64 columns.
//
// # Labels
//
// The label is derived from the Go type name by [Label]: a leading
// "Serializable" is removed, an underscore is inserted before every
// upper-case letter except the first, the result is upper-cased, and
// "_V1" is appended unless the name already ends in _V<digits>.
// Consecutive capitals each get their own underscore, so
// "RSAKey" becomes "R_S_A_KEY_V1".
//
// # Multi-block input
//
// One file may hold several blocks. Decoding for a label ignores
// blocks with other labels, including ones left unterminated or closed
// by the wrong END line. If several blocks share the label, each is
// tried in order and the first that decodes wins; a badly framed block
// with the label is just a failed candidate. Decoding fails only when
// none do. A ghost-key certificate file and its signing key are
// routinely concatenated this way.
package armor
