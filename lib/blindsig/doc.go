// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

// Package blindsig implements the RSA blind-signature exchange used to
// certify ghost keys without the signer learning which key it signed.
//
// The scheme is RSABSSA-SHA384-PSSZERO-Deterministic from RFC 9474,
// provided by github.com/cloudflare/circl. Three steps, two roles:
//
//	client := blindsig.NewClient(delegatePublicKey)
//	request, _ := client.Blind(message)            // client
//	blindSignature, _ := signer.Sign(request.BlindedMessage) // server
//	signature, _ := client.Finalize(request, blindSignature) // client
//
// The blinding factor lives only inside the client's [Request] and is
// never serialized. The server sees a uniformly random-looking value
// of modulus length and returns the RSA private-key operation applied
// to it.
//
// The deterministic, zero-salt variant makes the finalized signature a
// pure function of (key, message): every unblinding of the same
// message yields the same bytes, and the result is an ordinary
// RSASSA-PSS signature that any RSA verifier can check.
//
// [Client.Finalize] verifies the unblinded signature before returning
// it, so a server returning garbage is detected at issuance time
// rather than when the certificate is first presented.
package blindsig
