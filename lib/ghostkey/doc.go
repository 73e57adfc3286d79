// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package ghostkey implements the three-tier certificate chain behind
// anonymous, value-bound ghost keys.
//
//	master (Ed25519)
//	  └─ signs ─▶ DelegateCertificate { RSA-2048 public key, info }
//	                 └─ blind-signs ─▶ GhostKeyCertificate { Ed25519 verifying key }
//
// The operator holds one master key and creates one delegate per
// payment tier with [NewDelegate]. A client creates an ephemeral
// Ed25519 key pair, blinds its verifying key under the delegate's RSA
// key ([BeginGhostKey]), has the blinded value signed by whoever holds
// the delegate private key, and unblinds the result
// ([PendingGhostKey.Finish]). The signer learns nothing about which
// verifying key it certified.
//
// Anyone holding the master verifying key checks the chain with
// [GhostKeyCertificate.Verify], which returns the delegate's info
// string (conventionally the tier, e.g. "tier:20"). A ghost key
// holder proves possession with [SignMessage].
//
// # Signed bytes
//
// Every signature covers bytes produced by codec.Signable:
//
//   - the master signs Signable(DelegatePayload)
//   - the delegate blind-signs [SignableVerifyingKey], the CBOR byte
//     string of the 32-byte Ed25519 verifying key
//   - a ghost key signs the raw message bytes of a [SignedMessage]
//
// All types in this package have integer-keyed CBOR encodings and are
// armored with lib/armor.
package ghostkey
