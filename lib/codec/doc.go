// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the canonical CBOR encoding shared by every
// signer and verifier in ghostkey.
//
// A signature is only meaningful if the verifier reconstructs exactly
// the bytes the signer fed to the signature primitive. Every signed
// structure in this module is therefore encoded through [Signable],
// which uses Core Deterministic Encoding (RFC 8949 §4.2): smallest
// integer encoding, definite lengths, and sorted map keys.
//
// # Struct Tag Rules
//
// Signed and armored structures use integer map keys:
//
//	type DelegatePayload struct {
//	    DelegatePublicKey []byte `cbor:"1,keyasint"`
//	    Info              string `cbor:"2,keyasint"`
//	}
//
// The byte layout is then fixed by the field numbers in the schema. It
// does not depend on Go field names, field declaration order, or map
// iteration. Renaming a field is safe; renumbering one is a wire break.
//
// Decoding is strict: duplicate map keys and unknown integer keys are
// rejected, so two different byte strings never decode to the same
// value and then verify under the same signature.
package codec
